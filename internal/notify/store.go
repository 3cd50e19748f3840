package notify

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"loopin/internal/storage"
	logx "loopin/pkg/logx"
)

// StorageKey is the well-known key holding the persisted notification list.
const StorageKey = "notifications"

const DefaultCapacity = 50

// Store is the bounded, most-recent-first notification log.
//
// It is not safe for concurrent use: the session mutates it only from its
// event loop. Every mutation persists a full snapshot.
type Store struct {
	capacity int
	backend  storage.Store
	log      logx.Logger

	records []entry
	index   map[string]int
	seq     uint64
}

type entry struct {
	rec Record
	seq uint64 // insertion order, tiebreak for equal CreatedAt
}

// AppendResult describes what Append did.
type AppendResult struct {
	Existed bool
	// Previous is the record before the update (valid when Existed).
	Previous Record
	// Stored is false when the record fell outside the capacity immediately.
	Stored  bool
	Evicted []Record
}

// NewStore creates an empty store. backend may be nil (in-memory only).
func NewStore(capacity int, backend storage.Store, log logx.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{capacity: capacity, backend: backend, log: log, index: map[string]int{}}
}

// Append upserts rec by id. An existing record keeps its local read state
// and read count unless rec carries a higher one.
func (s *Store) Append(ctx context.Context, rec Record) AppendResult {
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.ID == "" {
		return AppendResult{}
	}
	var res AppendResult
	if i, ok := s.index[rec.ID]; ok {
		prev := s.records[i].rec
		res.Existed, res.Previous = true, prev
		if !prev.Unread {
			rec.Unread = false
		}
		if rec.ReadCount < prev.ReadCount {
			rec.ReadCount = prev.ReadCount
		}
		if rec.SourceEntityID == "" {
			rec.SourceEntityID = prev.SourceEntityID
		}
		if rec.CreatedAt.IsZero() || (rec.ClientStamped && !prev.ClientStamped) {
			rec.CreatedAt, rec.ClientStamped = prev.CreatedAt, prev.ClientStamped
		}
		s.records[i].rec = rec
	} else {
		s.seq++
		s.records = append(s.records, entry{rec: rec, seq: s.seq})
	}
	s.sortLocked()
	res.Evicted = s.truncate()
	_, res.Stored = s.index[rec.ID]
	s.persist(ctx)
	return res
}

// MarkRead clears the unread flag. Returns true if the record was unread.
func (s *Store) MarkRead(ctx context.Context, id string) bool {
	i, ok := s.index[id]
	if !ok || !s.records[i].rec.Unread {
		return false
	}
	s.records[i].rec.Unread = false
	s.persist(ctx)
	return true
}

// MarkAllRead clears every unread flag and returns the ids that changed.
func (s *Store) MarkAllRead(ctx context.Context) []string {
	var changed []string
	for i := range s.records {
		if s.records[i].rec.Unread {
			s.records[i].rec.Unread = false
			changed = append(changed, s.records[i].rec.ID)
		}
	}
	s.persist(ctx)
	return changed
}

// SetReadCount updates the server-reported read counter of a record.
func (s *Store) SetReadCount(ctx context.Context, id string, n int) bool {
	i, ok := s.index[id]
	if !ok || s.records[i].rec.ReadCount == n {
		return false
	}
	s.records[i].rec.ReadCount = n
	s.persist(ctx)
	return true
}

// Remove drops a record (stale entity pruning).
func (s *Store) Remove(ctx context.Context, id string) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.records = append(s.records[:i], s.records[i+1:]...)
	s.reindex()
	s.persist(ctx)
	return true
}

func (s *Store) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s *Store) Get(id string) (Record, bool) {
	i, ok := s.index[id]
	if !ok {
		return Record{}, false
	}
	return s.records[i].rec, true
}

func (s *Store) Len() int { return len(s.records) }

func (s *Store) Capacity() int { return s.capacity }

func (s *Store) UnreadCount() int {
	n := 0
	for _, e := range s.records {
		if e.rec.Unread {
			n++
		}
	}
	return n
}

// Records returns a copy, most recent first.
func (s *Store) Records() []Record {
	out := make([]Record, len(s.records))
	for i, e := range s.records {
		out[i] = e.rec
	}
	return out
}

// Newest returns the most recent record, if any.
func (s *Store) Newest() (Record, bool) {
	if len(s.records) == 0 {
		return Record{}, false
	}
	return s.records[0].rec, true
}

// NewestServerTime returns the newest CreatedAt that the server stamped.
// Receive-time stamps are skipped so a fast local clock cannot push a
// since-cursor past the server's own timeline.
func (s *Store) NewestServerTime() (time.Time, bool) {
	for _, e := range s.records {
		if !e.rec.ClientStamped && !e.rec.CreatedAt.IsZero() {
			return e.rec.CreatedAt, true
		}
	}
	return time.Time{}, false
}

// LoadFromDisk replaces the contents with the persisted snapshot. Missing or
// corrupt data resets the store to empty; the condition is logged, never returned.
func (s *Store) LoadFromDisk(ctx context.Context) int {
	s.records = nil
	s.index = map[string]int{}
	s.seq = 0
	if s.backend == nil {
		return 0
	}
	b, ok, err := s.backend.Get(ctx, StorageKey)
	if err != nil {
		s.log.Warn("notification store unreadable; starting empty", logx.Err(err))
		return 0
	}
	if !ok || len(b) == 0 {
		return 0
	}
	var recs []Record
	if err := json.Unmarshal(b, &recs); err != nil {
		s.log.Warn("notification store corrupt; resetting", logx.Err(err), logx.Int("bytes", len(b)))
		s.persist(ctx)
		return 0
	}
	dropped := 0
	// Persisted order is most-recent-first; assign seq so older entries rank lower.
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		r.ID = strings.TrimSpace(r.ID)
		if r.ID == "" {
			dropped++
			continue
		}
		if _, dup := s.index[r.ID]; dup {
			dropped++
			continue
		}
		s.seq++
		s.records = append(s.records, entry{rec: r, seq: s.seq})
		s.index[r.ID] = len(s.records) - 1
	}
	s.sortLocked()
	evicted := s.truncate()
	if dropped > 0 || len(evicted) > 0 {
		s.log.Warn("notification store had invalid entries", logx.Int("dropped", dropped), logx.Int("evicted", len(evicted)))
	}
	return len(s.records)
}

// Persist writes a full snapshot. Errors are logged.
func (s *Store) Persist(ctx context.Context) { s.persist(ctx) }

func (s *Store) persist(ctx context.Context) {
	if s.backend == nil {
		return
	}
	b, err := json.Marshal(s.Records())
	if err != nil {
		s.log.Warn("notification store encode failed", logx.Err(err))
		return
	}
	if err := s.backend.Put(ctx, StorageKey, b); err != nil {
		s.log.Warn("notification store persist failed", logx.Err(err))
	}
}

func (s *Store) sortLocked() {
	sort.SliceStable(s.records, func(i, j int) bool {
		a, b := s.records[i], s.records[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.After(b.rec.CreatedAt)
		}
		return a.seq > b.seq
	})
	s.reindex()
}

func (s *Store) truncate() []Record {
	if len(s.records) <= s.capacity {
		return nil
	}
	var evicted []Record
	for _, e := range s.records[s.capacity:] {
		evicted = append(evicted, e.rec)
	}
	s.records = s.records[:s.capacity]
	s.reindex()
	return evicted
}

func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.records))
	for i, e := range s.records {
		s.index[e.rec.ID] = i
	}
}
