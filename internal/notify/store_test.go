package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"loopin/internal/storage"
	logx "loopin/pkg/logx"
)

var t0 = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

func rec(id string, at time.Time) Record {
	return Record{ID: id, Kind: KindNewUpdate, Title: "New update", Message: "m " + id, SourceEntityID: id, CreatedAt: at, Unread: true}
}

func TestAppendIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore(50, nil, logx.Nop())

	s.Append(ctx, rec("u1", t0))
	r := rec("u1", t0)
	r.Title = "Corrected title"
	res := s.Append(ctx, r)

	if !res.Existed || !res.Stored {
		t.Fatalf("result = %+v", res)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
	got, _ := s.Get("u1")
	if got.Title != "Corrected title" {
		t.Fatalf("title not updated: %q", got.Title)
	}
}

func TestAppendKeepsLocalReadState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore(50, nil, logx.Nop())
	s.Append(ctx, rec("u1", t0))
	if !s.MarkRead(ctx, "u1") {
		t.Fatalf("MarkRead returned false")
	}
	s.Append(ctx, rec("u1", t0))
	if got, _ := s.Get("u1"); got.Unread {
		t.Fatalf("redelivery flipped record back to unread")
	}
	if s.MarkRead(ctx, "u1") {
		t.Fatalf("second MarkRead should report no change")
	}
}

func TestCapEvictsOldest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore(50, nil, logx.Nop())
	for i := 0; i < 60; i++ {
		s.Append(ctx, rec(fmt.Sprintf("u%02d", i), t0.Add(time.Duration(i)*time.Minute)))
	}
	if s.Len() != 50 {
		t.Fatalf("len = %d, want 50", s.Len())
	}
	for i := 0; i < 10; i++ {
		if s.Has(fmt.Sprintf("u%02d", i)) {
			t.Fatalf("u%02d should have been evicted", i)
		}
	}
	recs := s.Records()
	if recs[0].ID != "u59" || recs[49].ID != "u10" {
		t.Fatalf("order: first=%s last=%s", recs[0].ID, recs[49].ID)
	}
}

func TestAppendOlderThanWindowIsNotStored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore(2, nil, logx.Nop())
	s.Append(ctx, rec("a", t0.Add(2*time.Minute)))
	s.Append(ctx, rec("b", t0.Add(time.Minute)))
	res := s.Append(ctx, rec("old", t0))
	if res.Stored || len(res.Evicted) != 1 || res.Evicted[0].ID != "old" {
		t.Fatalf("result = %+v", res)
	}
}

func TestEqualTimestampsNewestInsertFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore(50, nil, logx.Nop())
	s.Append(ctx, rec("first", t0))
	s.Append(ctx, rec("second", t0))
	if n, _ := s.Newest(); n.ID != "second" {
		t.Fatalf("newest = %s", n.ID)
	}
}

func TestPersistAndReload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := storage.NewMemory()
	s := NewStore(50, backend, logx.Nop())
	s.Append(ctx, rec("u1", t0))
	s.Append(ctx, rec("u2", t0.Add(time.Minute)))
	s.MarkRead(ctx, "u1")

	s2 := NewStore(50, backend, logx.Nop())
	if n := s2.LoadFromDisk(ctx); n != 2 {
		t.Fatalf("loaded %d", n)
	}
	if s2.UnreadCount() != 1 {
		t.Fatalf("unread = %d", s2.UnreadCount())
	}
	if n, _ := s2.Newest(); n.ID != "u2" {
		t.Fatalf("newest = %s", n.ID)
	}
}

func TestLoadFromDiskToleratesCorruption(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cases := map[string][]byte{
		"garbage":  []byte("{not json"),
		"wrong":    []byte(`{"id":"x"}`),
		"empty-id": []byte(`[{"id":""},{"id":"ok","createdAt":"2025-01-01T10:00:00Z","unread":true}]`),
	}
	for name, raw := range cases {
		backend := storage.NewMemory()
		_ = backend.Put(ctx, StorageKey, raw)
		s := NewStore(50, backend, logx.Nop())
		n := s.LoadFromDisk(ctx)
		switch name {
		case "empty-id":
			if n != 1 || !s.Has("ok") {
				t.Fatalf("%s: loaded %d", name, n)
			}
		default:
			if n != 0 || s.Len() != 0 {
				t.Fatalf("%s: loaded %d", name, n)
			}
		}
	}

	s := NewStore(50, nil, logx.Nop())
	if s.LoadFromDisk(ctx) != 0 {
		t.Fatalf("nil backend should load nothing")
	}
}

func TestMarkAllReadAndRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore(50, nil, logx.Nop())
	for i := 0; i < 3; i++ {
		s.Append(ctx, rec(fmt.Sprint(i), t0.Add(time.Duration(i)*time.Second)))
	}
	if got := s.MarkAllRead(ctx); len(got) != 3 {
		t.Fatalf("changed = %v", got)
	}
	if s.UnreadCount() != 0 {
		t.Fatalf("unread = %d", s.UnreadCount())
	}
	if !s.Remove(ctx, "1") || s.Has("1") || s.Len() != 2 {
		t.Fatalf("remove failed")
	}
	if !s.SetReadCount(ctx, "2", 7) {
		t.Fatalf("SetReadCount reported no change")
	}
	if r, _ := s.Get("2"); r.ReadCount != 7 {
		t.Fatalf("read count = %d", r.ReadCount)
	}
}

func TestNewestServerTimeSkipsReceiveStamps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore(50, nil, logx.Nop())
	if _, ok := s.NewestServerTime(); ok {
		t.Fatalf("empty store reported a server time")
	}
	s.Append(ctx, rec("u1", t0))
	late := rec("u2", t0.Add(time.Hour))
	late.ClientStamped = true
	s.Append(ctx, late)
	if at, ok := s.NewestServerTime(); !ok || !at.Equal(t0) {
		t.Fatalf("newest server time = %v ok=%v", at, ok)
	}

	// A server-stamped redelivery replaces the receive stamp; a later
	// receive-stamped one does not overwrite it again.
	fixed := rec("u2", t0.Add(time.Minute))
	s.Append(ctx, fixed)
	again := rec("u2", t0.Add(2*time.Hour))
	again.ClientStamped = true
	s.Append(ctx, again)
	if got, _ := s.Get("u2"); got.ClientStamped || !got.CreatedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("stored u2 = %+v", got)
	}
}
