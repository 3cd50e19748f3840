package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	logx "loopin/pkg/logx"
)

const (
	wsWriteWait    = 10 * time.Second
	wsMaxMessage   = 1 << 20
	defaultWSPing  = 25 * time.Second
	defaultWSPongW = 60 * time.Second
)

// WebSocketDialer is the full-duplex transport.
type WebSocketDialer struct {
	URL          string
	Token        string
	PingInterval time.Duration
	PongWait     time.Duration
	Dialer       *websocket.Dialer
	Log          logx.Logger
}

func (d *WebSocketDialer) Name() string { return "websocket" }

func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("websocket url: %w", err)
	}
	if d.Token != "" {
		q := u.Query()
		q.Set("token", d.Token)
		u.RawQuery = q.Encode()
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	c, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	ping, pongWait := d.PingInterval, d.PongWait
	if ping <= 0 {
		ping = defaultWSPing
	}
	if pongWait <= ping {
		pongWait = defaultWSPongW
		if pongWait <= ping {
			pongWait = 2 * ping
		}
	}

	c.SetReadLimit(wsMaxMessage)
	_ = c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pongWait))
	})

	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	wc := &wsConn{c: c, pongWait: pongWait, done: make(chan struct{}), log: log}
	go wc.pingLoop(ping)
	return wc, nil
}

type wsConn struct {
	c        *websocket.Conn
	pongWait time.Duration
	log      logx.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (w *wsConn) Recv(ctx context.Context) (Envelope, error) {
	stop := context.AfterFunc(ctx, func() { _ = w.Close() })
	defer stop()
	for {
		mt, data, err := w.c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Envelope{}, ctx.Err()
			}
			return Envelope{}, err
		}
		_ = w.c.SetReadDeadline(time.Now().Add(w.pongWait))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			w.log.Debug("websocket: dropping malformed frame", logx.Err(err), logx.Int("bytes", len(data)))
			continue
		}
		return env, nil
	}
}

func (w *wsConn) Send(ctx context.Context, env Envelope) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = w.c.SetWriteDeadline(deadline)
	return w.c.WriteJSON(env)
}

func (w *wsConn) pingLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			if err := w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				w.log.Debug("websocket ping failed", logx.Err(err))
				_ = w.Close()
				return
			}
		}
	}
}

func (w *wsConn) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		_ = w.c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = w.c.Close()
	})
	return err
}
