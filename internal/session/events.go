package session

import (
	"encoding/json"
	"strings"
	"time"

	"loopin/internal/feed"
	"loopin/internal/notify"
	"loopin/internal/transport"
	logx "loopin/pkg/logx"
)

type notificationJSON struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type unreadCountJSON struct {
	Count int `json:"count"`
}

type readCountJSON struct {
	UpdateID  feed.FlexID `json:"update_id"`
	ReadCount int         `json:"read_count"`
}

type markReadJSON struct {
	UpdateID string `json:"update_id"`
}

// HandleEnvelope is the transport OnEvent hook.
func (s *Session) HandleEnvelope(env transport.Envelope, via string) {
	s.loop.Post(func() { s.handleEnvelope(env, via) })
}

// HandleState is the transport OnState hook.
func (s *Session) HandleState(_, to transport.State, _ int) {
	s.connected.Store(to.Push())
	s.loop.Post(func() {
		s.conn.State = string(to)
		if !to.Push() {
			s.conn.Transport = ""
		}
		s.presenter.ShowConnection(s.conn)
	})
}

// HandleLost is the transport OnLost hook.
func (s *Session) HandleLost(failures int) {
	s.loop.Post(func() {
		s.conn.Lost = true
		s.presenter.ShowConnection(s.conn)
		s.log.Info("connection lost indicator shown", logx.Int("failures", failures))
	})
}

// HandleRestored is the transport OnRestored hook.
func (s *Session) HandleRestored() {
	s.loop.Post(func() {
		if !s.conn.Lost {
			return
		}
		s.conn.Lost = false
		s.presenter.ShowConnection(s.conn)
	})
}

// DeliverPolled is the poller's Deliver hook.
func (s *Session) DeliverPolled(kind string, ups []notify.Update) {
	s.loop.Post(func() {
		for _, u := range ups {
			s.accept(notify.FromUpdate(u), notify.OriginPoll)
		}
		s.log.Debug("poll delivered", logx.String("kind", kind), logx.Int("items", len(ups)))
	})
}

// Fresh is the poller's freshness hook.
func (s *Session) Fresh(latest time.Time) {
	s.loop.Post(func() {
		s.badge.SetLatest(latest)
		s.refreshBadge(false)
	})
}

func (s *Session) handleEnvelope(env transport.Envelope, via string) {
	now := s.now()
	switch env.Event {
	case transport.EventConnect:
		s.conn.Transport = via
	case transport.EventDisconnect:
		s.log.Debug("push disconnected", logx.String("transport", via))
	case transport.EventConnected, transport.EventSubscribed:
		s.log.Debug("push lifecycle", logx.String("event", env.Event), logx.String("transport", via))

	case transport.EventNewUpdate:
		u, err := feed.DecodeUpdate(env.Data, now)
		if err != nil {
			s.log.Debug("dropping new_update", logx.Err(err))
			return
		}
		s.accept(notify.FromUpdate(u), notify.OriginPush)

	case transport.EventNotification:
		var n notificationJSON
		if err := json.Unmarshal(env.Data, &n); err != nil || strings.TrimSpace(n.Message) == "" {
			s.log.Debug("dropping notification", logx.Err(err))
			return
		}
		ts, received := now.UTC(), true
		if n.Timestamp != "" {
			if t, err := feed.ParseTimestamp(n.Timestamp); err == nil {
				ts, received = t, false
			}
		}
		rec := notify.FromNotification(n.Type, n.Message, ts)
		rec.ClientStamped = received
		s.accept(rec, notify.OriginPush)

	case transport.EventUnreadCount:
		var c unreadCountJSON
		if err := json.Unmarshal(env.Data, &c); err != nil {
			s.log.Debug("dropping unread_count", logx.Err(err))
			return
		}
		s.serverUnread = c.Count
		if local := s.store.UnreadCount(); local != c.Count {
			s.log.Debug("server unread count differs from local", logx.Int("server", c.Count), logx.Int("local", local))
		}

	case transport.EventReadCountUpdated:
		var rc readCountJSON
		if err := json.Unmarshal(env.Data, &rc); err != nil || rc.UpdateID == "" {
			s.log.Debug("dropping read_count_updated", logx.Err(err))
			return
		}
		s.store.SetReadCount(s.ctx, string(rc.UpdateID), rc.ReadCount)

	default:
		s.log.Trace("unhandled push event", logx.String("event", env.Event))
	}
}

