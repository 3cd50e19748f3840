package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "loopin/pkg/logx"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, Options{Timeout: 2 * time.Second, SessionToken: "tok", Log: logx.Nop()})
}

func TestRecentUpdates(t *testing.T) {
	t.Parallel()
	var gotSince, gotCookie string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/recent-updates" {
			http.NotFound(w, r)
			return
		}
		gotSince = r.URL.Query().Get("since")
		if ck, err := r.Cookie("session"); err == nil {
			gotCookie = ck.Value
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success":true,"updates":[
			{"id":"u1","name":"Alice","process":"Onboarding","timestamp":"2025-01-01T10:00:00Z"},
			{"id":42,"name":"Bob","process":"Billing","timestamp":"2025-01-01T11:30:00.123456"},
			{"id":"","name":"nobody"},
			{"id":"u3","name":"Carol"}
		]}`)
	})
	fixed := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	since := time.Date(2025, 1, 1, 9, 0, 0, 0, time.FixedZone("CET", 3600))
	ups, err := c.RecentUpdates(context.Background(), since)
	if err != nil {
		t.Fatalf("RecentUpdates: %v", err)
	}
	if gotSince != "2025-01-01T08:00:00Z" {
		t.Fatalf("since = %q", gotSince)
	}
	if gotCookie != "tok" {
		t.Fatalf("session cookie = %q", gotCookie)
	}
	if len(ups) != 3 {
		t.Fatalf("got %d updates: %+v", len(ups), ups)
	}
	if ups[0].ID != "u1" || ups[0].Name != "Alice" || ups[0].Process != "Onboarding" {
		t.Fatalf("first = %+v", ups[0])
	}
	if ups[1].ID != "42" || ups[1].Timestamp.Hour() != 11 || ups[1].Timestamp.Location() != time.UTC {
		t.Fatalf("numeric id / naive timestamp = %+v", ups[1])
	}
	if !ups[2].Timestamp.Equal(fixed) {
		t.Fatalf("missing timestamp should default to receive time, got %v", ups[2].Timestamp)
	}
}

func TestRecentUpdatesEmptyWithoutSuccess(t *testing.T) {
	t.Parallel()
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"updates":[],"message":"No recent updates found"}`)
	})
	ups, err := c.RecentUpdates(context.Background(), time.Time{})
	if err != nil || len(ups) != 0 {
		t.Fatalf("ups=%v err=%v", ups, err)
	}
}

func TestRecentUpdatesUnsuccessful(t *testing.T) {
	t.Parallel()
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"error":"db down"}`)
	})
	_, err := c.RecentUpdates(context.Background(), time.Time{})
	if !errors.Is(err, ErrUnsuccessful) || IsTransient(err) {
		t.Fatalf("err = %v transient=%v", err, IsTransient(err))
	}
}

func TestLatestUpdateTime(t *testing.T) {
	t.Parallel()
	cases := []struct {
		body string
		want time.Time
	}{
		{`{"success":true,"latest_timestamp":"2025-01-01T10:00:00+02:00"}`, time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)},
		{`{"success":true,"latest_timestamp":null}`, time.Time{}},
	}
	for _, tc := range cases {
		body := tc.body
		c := newServer(t, func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, body) })
		got, err := c.LatestUpdateTime(context.Background())
		if err != nil || !got.Equal(tc.want) {
			t.Fatalf("%s: got %v err %v", body, got, err)
		}
	}
}

func TestCheckUpdate(t *testing.T) {
	t.Parallel()
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/check-update/u1":
			fmt.Fprint(w, `{"success":true,"exists":true}`)
		case "/api/check-update/gone":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"success":false,"error":"Update not found"}`)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	})
	ctx := context.Background()
	if err := c.CheckUpdate(ctx, "u1"); err != nil {
		t.Fatalf("existing: %v", err)
	}
	if err := c.CheckUpdate(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("gone: %v", err)
	}
	err := c.CheckUpdate(ctx, "other")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway || !IsTransient(err) {
		t.Fatalf("other: %v", err)
	}
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()
	want := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	for _, in := range []string{
		"2025-01-01T10:00:00Z",
		"2025-01-01T10:00:00",
		"2025-01-01 10:00:00",
		"2025-01-01T12:00:00+02:00",
		"2025-01-01T12:00:00+0200",
	} {
		got, err := ParseTimestamp(in)
		if err != nil || !got.Equal(want) {
			t.Fatalf("ParseTimestamp(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestViewURL(t *testing.T) {
	t.Parallel()
	c := New("http://x/", Options{})
	if got := c.ViewURL("a b"); got != "http://x/view/a%20b" {
		t.Fatalf("ViewURL = %q", got)
	}
}

func TestDecodeUpdateMarksReceiveTime(t *testing.T) {
	t.Parallel()
	recv := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name     string
		raw      string
		want     time.Time
		received bool
	}{
		{"server stamped", `{"id":1,"name":"Alice","timestamp":"2025-01-01T10:00:00Z"}`, time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC), false},
		{"missing", `{"id":1,"name":"Alice"}`, recv, true},
		{"unparseable", `{"id":1,"name":"Alice","timestamp":"yesterday"}`, recv, true},
	}
	for _, tc := range cases {
		u, err := DecodeUpdate([]byte(tc.raw), recv)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !u.Timestamp.Equal(tc.want) || u.Received != tc.received {
			t.Fatalf("%s: timestamp=%v received=%v", tc.name, u.Timestamp, u.Received)
		}
	}
}
