package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/autopost/internal/engagement"
	"github.com/autopost/internal/platform"
)

var ErrNotFound = errors.New("not found")

// CandidateQuery selects engagements that may need attention. Disabled
// engagements and those at their response cap are always excluded; results
// are ordered by LastCheckedAt ascending with never-checked rows first.
type CandidateQuery struct {
	AccountID string
	Limit     int
}

type EngagementStore interface {
	FindCandidates(ctx context.Context, q CandidateQuery) ([]*engagement.Engagement, error)
	Get(ctx context.Context, id string) (*engagement.Engagement, error)
	Apply(ctx context.Context, id string, cmds ...engagement.Command) error
	// CountSentSince counts messages we sent at or after since, across all engagements.
	CountSentSince(ctx context.Context, since time.Time) (int, error)
}

type AccountStore interface {
	GetAccount(ctx context.Context, id string) (platform.Account, error)
}

type LockStore interface {
	// TryAcquire writes the record when it is absent or expired at now.
	// currentHolder is the holder after the attempt.
	TryAcquire(ctx context.Context, name, holder string, now, expiresAt time.Time) (acquired bool, currentHolder string, err error)
	// Release deletes the record only when holder matches.
	Release(ctx context.Context, name, holder string) (released bool, err error)
}

type lockRecord struct {
	holder     string
	acquiredAt time.Time
	expiresAt  time.Time
}

// InMemoryStore is a threadsafe in-memory store for tests and dry runs.
type InMemoryStore struct {
	mu          sync.RWMutex
	engagements map[string]*engagement.Engagement
	accounts    map[string]platform.Account
	locks       map[string]lockRecord
	applied     []string
	now         func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		engagements: make(map[string]*engagement.Engagement),
		accounts:    make(map[string]platform.Account),
		locks:       make(map[string]lockRecord),
		now:         time.Now,
	}
}

// SetClock overrides the clock used for command timestamps.
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *InMemoryStore) PutEngagement(e *engagement.Engagement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engagements[e.ID] = e.Clone()
}

func (s *InMemoryStore) PutAccount(a platform.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

// AppliedCommands lists every command persisted so far, in order.
func (s *InMemoryStore) AppliedCommands() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.applied...)
}

func (s *InMemoryStore) FindCandidates(ctx context.Context, q CandidateQuery) ([]*engagement.Engagement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*engagement.Engagement, 0)
	for _, e := range s.engagements {
		if q.AccountID != "" && e.AccountID != q.AccountID {
			continue
		}
		if e.Status == engagement.StatusDisabled {
			continue
		}
		if c := e.Conversation; c != nil && (!c.AutoResponseEnabled || c.CapReached()) {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := lastChecked(out[i]), lastChecked(out[j])
		switch {
		case ti == nil && tj == nil:
			return out[i].ID < out[j].ID
		case ti == nil:
			return true
		case tj == nil:
			return false
		default:
			return ti.Before(*tj)
		}
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func lastChecked(e *engagement.Engagement) *time.Time {
	if e.Conversation == nil {
		return nil
	}
	return e.Conversation.LastCheckedAt
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (*engagement.Engagement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.engagements[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (s *InMemoryStore) Apply(ctx context.Context, id string, cmds ...engagement.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.engagements[id]
	if !ok {
		return ErrNotFound
	}
	if err := e.Apply(s.now(), cmds...); err != nil {
		return err
	}
	for _, c := range cmds {
		s.applied = append(s.applied, id+":"+c.String())
	}
	return nil
}

func (s *InMemoryStore) CountSentSince(ctx context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.engagements {
		if e.Conversation == nil {
			continue
		}
		for _, m := range e.Conversation.Messages {
			if m.IsFromUs && !m.Timestamp.Before(since) {
				n++
			}
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetAccount(ctx context.Context, id string) (platform.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return platform.Account{}, ErrNotFound
	}
	return a, nil
}

func (s *InMemoryStore) TryAcquire(ctx context.Context, name, holder string, now, expiresAt time.Time) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.locks[name]; ok && rec.expiresAt.After(now) {
		return false, rec.holder, nil
	}
	s.locks[name] = lockRecord{holder: holder, acquiredAt: now, expiresAt: expiresAt}
	return true, holder, nil
}

func (s *InMemoryStore) Release(ctx context.Context, name, holder string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.locks[name]
	if !ok || rec.holder != holder {
		return false, nil
	}
	delete(s.locks, name)
	return true, nil
}
