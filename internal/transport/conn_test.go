package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebSocketDialSendRecv(t *testing.T) {
	t.Parallel()
	upgrader := websocket.Upgrader{}
	gotToken := make(chan string, 1)
	gotEvent := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken <- r.URL.Query().Get("token")
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		var env Envelope
		if err := c.ReadJSON(&env); err != nil {
			return
		}
		gotEvent <- env.Event
		_ = c.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = c.WriteJSON(Envelope{Event: EventNewUpdate, Data: json.RawMessage(`{"id":"u1","name":"Alice"}`)})
		_, _, _ = c.ReadMessage()
	}))
	defer srv.Close()

	d := &WebSocketDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", Token: "tok"}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, err := d.Dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if tok := <-gotToken; tok != "tok" {
		t.Fatalf("token = %q", tok)
	}
	if err := conn.Send(ctx, Envelope{Event: EmitSubscribe}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if ev := <-gotEvent; ev != EmitSubscribe {
		t.Fatalf("server got %q", ev)
	}
	env, err := conn.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if env.Event != EventNewUpdate || !strings.Contains(string(env.Data), "Alice") {
		t.Fatalf("env = %+v", env)
	}
}

func TestWebSocketRecvStopsOnContext(t *testing.T) {
	t.Parallel()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_, _, _ = c.ReadMessage()
	}))
	defer srv.Close()

	d := &WebSocketDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}
	conn, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := conn.Recv(ctx); err == nil {
		t.Fatal("expected error after context deadline")
	}
}

func TestWebSocketDialRefused(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	d := &WebSocketDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}
	if _, err := d.Dial(context.Background()); err == nil {
		t.Fatal("expected dial error on non-upgrade response")
	}
}

type pollServer struct {
	mu      sync.Mutex
	cursors []string
	waits   []string
	emitted []Envelope
	batches [][]Envelope
}

func (p *pollServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/push/poll", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		p.mu.Lock()
		p.cursors = append(p.cursors, r.URL.Query().Get("cursor"))
		p.waits = append(p.waits, r.URL.Query().Get("wait"))
		var batch []Envelope
		if len(p.batches) > 0 {
			batch, p.batches = p.batches[0], p.batches[1:]
		}
		cursor := len(p.cursors)
		p.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"cursor": cursor, "events": batch})
	})
	mux.HandleFunc("/push/emit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("emit method = %s", r.Method)
		}
		b, _ := io.ReadAll(r.Body)
		var env Envelope
		_ = json.Unmarshal(b, &env)
		p.mu.Lock()
		p.emitted = append(p.emitted, env)
		p.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func TestLongPollCursorAndEmit(t *testing.T) {
	t.Parallel()
	ps := &pollServer{batches: [][]Envelope{
		{{Event: EventConnected}},
		nil,
		{{Event: EventNewUpdate}, {Event: EventUnreadCount, Data: json.RawMessage(`{"count":2}`)}},
	}}
	srv := httptest.NewServer(ps.handler(t))
	defer srv.Close()

	d := &LongPollDialer{BaseURL: srv.URL + "/", Token: "tok", Wait: 2 * time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := d.Dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	want := []string{EventConnected, EventNewUpdate, EventUnreadCount}
	for _, w := range want {
		env, err := conn.Recv(ctx)
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		if env.Event != w {
			t.Fatalf("event = %q, want %q", env.Event, w)
		}
	}
	if err := conn.Send(ctx, Envelope{Event: EmitMarkAsRead, Data: json.RawMessage(`{"update_id":"u1"}`)}); err != nil {
		t.Fatalf("send: %v", err)
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if got := strings.Join(ps.cursors, ","); got != "0,1,2" {
		t.Fatalf("cursors = %s", got)
	}
	if ps.waits[0] != "0" || ps.waits[1] != "2" {
		t.Fatalf("waits = %v", ps.waits)
	}
	if len(ps.emitted) != 1 || ps.emitted[0].Event != EmitMarkAsRead {
		t.Fatalf("emitted = %+v", ps.emitted)
	}
}

func TestLongPollDialUnauthorized(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer((&pollServer{}).handler(t))
	defer srv.Close()
	d := &LongPollDialer{BaseURL: srv.URL, Token: "wrong"}
	if _, err := d.Dial(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestLongPollCloseUnblocksRecv(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("wait") != "0" {
			select {
			case <-block:
			case <-r.Context().Done():
			}
		}
		_, _ = w.Write([]byte(`{"cursor":1,"events":[]}`))
	}))
	defer srv.Close()
	defer close(block)

	conn, err := (&LongPollDialer{BaseURL: srv.URL}).Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	errc := make(chan error, 1)
	go func() {
		_, err := conn.Recv(context.Background())
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	_ = conn.Close()
	select {
	case err := <-errc:
		if err != ErrClosed {
			t.Fatalf("recv err = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("recv did not unblock")
	}
}
