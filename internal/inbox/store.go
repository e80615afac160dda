// Package inbox is the durable, de-duplicated notification store.
//
// The Store knows nothing about priority policy: callers decide what to
// admit. Every mutation is written through to storage before it becomes
// visible, so a failed write leaves the inbox exactly as it was.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"maintwatch/internal/priority"
	"maintwatch/internal/storage"
	"maintwatch/pkg/logx"
)

const schemaVersion = 1

var ErrNotFound = errors.New("inbox: notification not found")

// RepoKey is where the inbox lives in the store.
var RepoKey = storage.Key("inbox", "notifications")

type Options struct {
	// MaxItems caps the inbox; the oldest entries are evicted first.
	// Zero means unbounded.
	MaxItems int
}

type Store struct {
	repo *storage.ListRepo[Notification]
	log  logx.Logger
	opt  Options

	mu    sync.RWMutex
	items []Notification // newest first
	ids   map[string]struct{}
}

// Open loads the persisted inbox. Unreadable records are skipped and
// logged; only storage failures are returned.
func Open(ctx context.Context, st storage.Store, log logx.Logger, opt Options) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{
		repo: storage.NewListRepo[Notification](st, RepoKey, schemaVersion, nil),
		log:  log.With(logx.String("comp", "inbox")),
		opt:  opt,
		ids:  map[string]struct{}{},
	}

	loaded, err := s.repo.Load(ctx)
	var corrupt *storage.CorruptRecordError
	switch {
	case errors.As(err, &corrupt):
		s.log.Warn("skipped unreadable notifications",
			logx.Int("skipped", corrupt.Skipped),
			logx.Int("total", corrupt.Total),
			logx.Err(corrupt.First),
		)
	case err != nil:
		return nil, fmt.Errorf("load inbox: %w", err)
	}

	for _, n := range loaded {
		if _, dup := s.ids[n.ID]; dup {
			continue
		}
		s.ids[n.ID] = struct{}{}
		s.items = append(s.items, n)
	}
	if over := s.overflow(len(s.items)); over > 0 {
		s.items = s.items[:len(s.items)-over]
		s.reindexLocked()
	}
	s.log.Debug("inbox loaded", logx.Int("count", len(s.items)))
	return s, nil
}

func (s *Store) overflow(n int) int {
	if s.opt.MaxItems <= 0 || n <= s.opt.MaxItems {
		return 0
	}
	return n - s.opt.MaxItems
}

func (s *Store) reindexLocked() {
	s.ids = make(map[string]struct{}, len(s.items))
	for _, n := range s.items {
		s.ids[n.ID] = struct{}{}
	}
}

// commitLocked persists next and then swaps it in.
func (s *Store) commitLocked(ctx context.Context, next []Notification) error {
	if err := s.repo.Save(ctx, next); err != nil {
		return fmt.Errorf("save inbox: %w", err)
	}
	s.items = next
	s.reindexLocked()
	return nil
}

// Append adds n at the head of the inbox. It returns false without error
// when a notification with the same ID already exists.
func (s *Store) Append(ctx context.Context, n Notification) (bool, error) {
	if err := n.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.ids[n.ID]; dup {
		return false, nil
	}

	next := make([]Notification, 0, len(s.items)+1)
	next = append(next, n)
	next = append(next, s.items...)
	if over := s.overflow(len(next)); over > 0 {
		next = next[:len(next)-over]
	}
	if err := s.commitLocked(ctx, next); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	if s.items[idx].Read {
		return nil
	}
	next := append([]Notification(nil), s.items...)
	next[idx].Read = true
	return s.commitLocked(ctx, next)
}

// MarkAllRead returns how many notifications changed.
func (s *Store) MarkAllRead(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := append([]Notification(nil), s.items...)
	changed := 0
	for i := range next {
		if !next[i].Read {
			next[i].Read = true
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	if err := s.commitLocked(ctx, next); err != nil {
		return 0, err
	}
	return changed, nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	next := make([]Notification, 0, len(s.items)-1)
	next = append(next, s.items[:idx]...)
	next = append(next, s.items[idx+1:]...)
	return s.commitLocked(ctx, next)
}

func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commitLocked(ctx, []Notification{}); err != nil {
		return err
	}
	s.log.Info("inbox cleared")
	return nil
}

// Prune drops notifications older than before; with readOnly set, unread
// ones are kept regardless of age. It returns how many were removed.
func (s *Store) Prune(ctx context.Context, before time.Time, readOnly bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]Notification, 0, len(s.items))
	for _, n := range s.items {
		if n.Timestamp.Before(before) && (!readOnly || n.Read) {
			continue
		}
		next = append(next, n)
	}
	removed := len(s.items) - len(next)
	if removed == 0 {
		return 0, nil
	}
	if err := s.commitLocked(ctx, next); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Store) indexLocked(id string) int {
	if _, ok := s.ids[id]; !ok {
		return -1
	}
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// List returns a copy, most recent first.
func (s *Store) List(f Filter) []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Notification, 0, len(s.items))
	for _, n := range s.items {
		if !f.match(n) {
			continue
		}
		out = append(out, n)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

func (s *Store) Get(id string) (Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return Notification{}, false
	}
	return s.items[idx], true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := 0
	for _, n := range s.items {
		if !n.Read {
			c++
		}
	}
	return c
}

// UrgentCount counts unread critical and high notifications.
func (s *Store) UrgentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := 0
	for _, n := range s.items {
		if n.Urgent() {
			c++
		}
	}
	return c
}

// CountByPriority tallies unread notifications per tier.
func (s *Store) CountByPriority() map[priority.Tier]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[priority.Tier]int, len(priority.Tiers))
	for _, n := range s.items {
		if !n.Read {
			out[n.Priority]++
		}
	}
	return out
}

func (s *Store) MaxItems() int { return s.opt.MaxItems }
