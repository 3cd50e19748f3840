package session

import (
	"context"
	"errors"
	"fmt"

	"loopin/internal/badge"
	"loopin/internal/eventbus"
	"loopin/internal/feed"
	"loopin/internal/notify"
	"loopin/internal/toast"
	"loopin/internal/transport"
	logx "loopin/pkg/logx"
)

// Snapshot is a read-only view for the CLI and tests.
type Snapshot struct {
	Records      []notify.Record
	Unread       int
	ServerUnread int
	Badge        badge.State
	Toasts       []toast.Toast
	SoundOn      bool
}

func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.loop.Do(ctx, func() {
		snap = Snapshot{
			Records:      s.store.Records(),
			Unread:       s.store.UnreadCount(),
			ServerUnread: s.serverUnread,
			Badge:        s.badge.State(),
			Toasts:       s.toasts.Active(),
			SoundOn:      s.soundOn,
		}
	})
	return snap, err
}

// MarkRead marks one record read. It reports whether the record was unread.
func (s *Session) MarkRead(ctx context.Context, id string) (bool, error) {
	var changed, known bool
	err := s.loop.Do(ctx, func() {
		known = s.store.Has(id)
		changed = s.markRead(id)
	})
	if err != nil {
		return false, err
	}
	if !known {
		return false, fmt.Errorf("%w: %s", ErrUnknownRecord, id)
	}
	return changed, nil
}

func (s *Session) markRead(id string) bool {
	rec, ok := s.store.Get(id)
	if !ok || !s.store.MarkRead(s.ctx, id) {
		return false
	}
	s.emitRead(rec)
	s.toasts.DismissRecord(id, toast.ReasonRead)
	eventbus.Emit(s.bus, eventbus.NotificationRead, id)
	s.refreshBadge(false)
	return true
}

// MarkAllRead clears every unread flag and returns how many changed.
func (s *Session) MarkAllRead(ctx context.Context) (int, error) {
	var n int
	err := s.loop.Do(ctx, func() {
		ids := s.store.MarkAllRead(s.ctx)
		for _, id := range ids {
			if rec, ok := s.store.Get(id); ok {
				s.emitRead(rec)
			}
			s.toasts.DismissRecord(id, toast.ReasonRead)
			eventbus.Emit(s.bus, eventbus.NotificationRead, id)
		}
		n = len(ids)
		s.refreshBadge(false)
	})
	return n, err
}

func (s *Session) emitRead(rec notify.Record) {
	if s.emitter == nil || rec.SourceEntityID == "" {
		return
	}
	env, err := transport.NewEnvelope(transport.EmitMarkAsRead, markReadJSON{UpdateID: rec.SourceEntityID})
	if err != nil {
		return
	}
	if err := s.emitter.Emit(env); err != nil && !errors.Is(err, transport.ErrClosed) {
		s.log.Debug("mark_as_read not sent", logx.String("id", rec.ID), logx.Err(err))
	}
}

// DismissToast closes a toast on user request.
func (s *Session) DismissToast(key string) {
	s.loop.Post(func() { s.toasts.Dismiss(key, toast.ReasonUser) })
}

// Click opens a record: the toast closes, the record is marked read and,
// once the server confirms the entity exists, navigation is debounced. A
// record whose entity is gone is removed and feed.ErrNotFound returned.
func (s *Session) Click(ctx context.Context, id string) error {
	var (
		target string
		known  bool
	)
	err := s.loop.Do(ctx, func() {
		rec, ok := s.store.Get(id)
		if !ok {
			return
		}
		known, target = true, rec.SourceEntityID
		s.toasts.DismissRecord(id, toast.ReasonClick)
		s.markRead(id)
	})
	if err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownRecord, id)
	}
	if target == "" || s.feed == nil {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, checkTimeout)
	err = s.feed.CheckUpdate(cctx, target)
	cancel()
	switch {
	case errors.Is(err, feed.ErrNotFound):
		s.RemoveStale(id)
		return err
	case err != nil:
		return err
	}

	url := s.feed.ViewURL(target)
	s.nav.Trigger(func() {
		if err := s.opener.Open(url); err != nil {
			s.log.Warn("open failed", logx.String("url", url), logx.Err(err))
		}
	})
	return nil
}

// RemoveStale prunes a record whose entity no longer exists server-side.
func (s *Session) RemoveStale(id string) {
	s.loop.Post(func() {
		s.toasts.DismissRecord(id, toast.ReasonUser)
		if s.store.Remove(s.ctx, id) {
			s.log.Info("removed stale notification", logx.String("id", id))
			s.updateCursor()
			s.refreshBadge(false)
		}
	})
}

// SetSound persists the sound preference.
func (s *Session) SetSound(ctx context.Context, on bool) error {
	var perr error
	err := s.loop.Do(ctx, func() {
		s.soundOn = on
		perr = s.prefs.SetSoundEnabled(s.ctx, on)
	})
	if err != nil {
		return err
	}
	return perr
}

// Close cancels pending navigation and dismisses live toasts.
func (s *Session) Close(ctx context.Context) error {
	s.nav.Cancel()
	return s.loop.Do(ctx, func() {
		s.toasts.Clear(toast.ReasonUser)
		s.store.Persist(s.ctx)
	})
}
