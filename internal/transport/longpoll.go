package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "loopin/pkg/logx"
)

const defaultLongPollWait = 25 * time.Second

// LongPollDialer is the HTTP long-poll transport:
//
//	GET  {base}/push/poll?token=..&cursor=N&wait=S -> {"cursor":N,"events":[...]}
//	POST {base}/push/emit?token=..                 <- envelope
type LongPollDialer struct {
	BaseURL string
	Token   string
	Wait    time.Duration
	HTTP    *http.Client
	Log     logx.Logger
}

func (d *LongPollDialer) Name() string { return "longpoll" }

type pollResponse struct {
	Cursor int64      `json:"cursor"`
	Events []Envelope `json:"events"`
}

// Dial performs one non-blocking poll; its success counts as connected.
func (d *LongPollDialer) Dial(ctx context.Context) (Conn, error) {
	wait := d.Wait
	if wait <= 0 {
		wait = defaultLongPollWait
	}
	hc := d.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: wait + 10*time.Second}
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &lpConn{
		base:  strings.TrimRight(d.BaseURL, "/"),
		token: d.Token,
		wait:  wait,
		http:  hc,
		log:   log,
		done:  make(chan struct{}),
	}
	if err := c.poll(ctx, 0); err != nil {
		return nil, fmt.Errorf("longpoll dial: %w", err)
	}
	return c, nil
}

type lpConn struct {
	base  string
	token string
	wait  time.Duration
	http  *http.Client
	log   logx.Logger

	mu     sync.Mutex
	cursor int64
	buf    []Envelope

	closeOnce sync.Once
	done      chan struct{}
}

func (c *lpConn) url(path string, q url.Values) string {
	if c.token != "" {
		q.Set("token", c.token)
	}
	return c.base + path + "?" + q.Encode()
}

func (c *lpConn) poll(ctx context.Context, wait time.Duration) error {
	c.mu.Lock()
	cursor := c.cursor
	c.mu.Unlock()

	q := url.Values{}
	q.Set("cursor", strconv.FormatInt(cursor, 10))
	q.Set("wait", strconv.Itoa(int(wait/time.Second)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/push/poll", q), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("poll status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var pr pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return fmt.Errorf("poll decode: %w", err)
	}

	c.mu.Lock()
	if pr.Cursor > c.cursor {
		c.cursor = pr.Cursor
	}
	for _, env := range pr.Events {
		if env.Event != "" {
			c.buf = append(c.buf, env)
		}
	}
	c.mu.Unlock()
	return nil
}

func (c *lpConn) Recv(ctx context.Context) (Envelope, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	for {
		c.mu.Lock()
		if len(c.buf) > 0 {
			env := c.buf[0]
			c.buf = c.buf[1:]
			c.mu.Unlock()
			return env, nil
		}
		c.mu.Unlock()

		select {
		case <-c.done:
			return Envelope{}, ErrClosed
		default:
		}
		if err := c.poll(ctx, c.wait); err != nil {
			if ctx.Err() != nil {
				select {
				case <-c.done:
					return Envelope{}, ErrClosed
				default:
				}
				return Envelope{}, ctx.Err()
			}
			return Envelope{}, err
		}
	}
}

func (c *lpConn) Send(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/push/emit", url.Values{}), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("emit status %d", resp.StatusCode)
	}
	return nil
}

func (c *lpConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
