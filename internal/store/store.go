// Package store keeps Tool Construction Contexts keyed by job ID.
// The in-memory map is authoritative for a running process; mirrors (file,
// Redis, SQL) make contexts survive restarts and are consulted on a miss.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"keyvex/internal/logging"
	"keyvex/internal/metrics"
	"keyvex/internal/tcc"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when no context exists for a job ID
	ErrNotFound = errors.New("tcc not found")
	// ErrExists is returned by Create when the job ID is taken
	ErrExists = errors.New("tcc already exists")
)

// ContextStore is the interface the pipeline and HTTP layer depend on.
type ContextStore interface {
	Create(ctx context.Context, t *tcc.Context) error
	Get(ctx context.Context, jobID string) (*tcc.Context, error)
	Save(ctx context.Context, t *tcc.Context) error
	Update(ctx context.Context, jobID string, fn func(*tcc.Context) error) (*tcc.Context, error)
	Delete(ctx context.Context, jobID string) error
	List(ctx context.Context) ([]tcc.Summary, error)
}

// Mirror is a durable copy of the store.
type Mirror interface {
	Name() string
	Put(ctx context.Context, t *tcc.Context) error
	Load(ctx context.Context, jobID string) (*tcc.Context, error)
	Remove(ctx context.Context, jobID string) error
}

// Lister is implemented by mirrors that can enumerate their job IDs.
type Lister interface {
	JobIDs(ctx context.Context) ([]string, error)
}

// Store is the memory-backed ContextStore with optional mirrors.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*tcc.Context
	mirrors []Mirror
	locks   *keyedMutex
	now     func() time.Time
}

// New creates a store writing through to the given mirrors.
func New(mirrors ...Mirror) *Store {
	return &Store{
		entries: make(map[string]*tcc.Context),
		mirrors: mirrors,
		locks:   newKeyedMutex(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new context. It fails if the job already exists in memory
// or in any mirror.
func (s *Store) Create(ctx context.Context, t *tcc.Context) error {
	if t == nil {
		return fmt.Errorf("create: nil context")
	}
	unlock := s.locks.Lock(t.JobID)
	defer unlock()

	if _, err := s.load(ctx, t.JobID); err == nil {
		return fmt.Errorf("create %s: %w", t.JobID, ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.write(ctx, t, "create")
}

// Get returns a copy of the context for jobID.
func (s *Store) Get(ctx context.Context, jobID string) (*tcc.Context, error) {
	t, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// Save validates and writes the full context, replacing what is stored.
func (s *Store) Save(ctx context.Context, t *tcc.Context) error {
	if t == nil {
		return fmt.Errorf("save: nil context")
	}
	unlock := s.locks.Lock(t.JobID)
	defer unlock()
	return s.write(ctx, t, "save")
}

// Update applies fn to the current context and stores the result. Calls for
// the same job are serialized so concurrent agents cannot lose each other's
// writes.
func (s *Store) Update(ctx context.Context, jobID string, fn func(*tcc.Context) error) (*tcc.Context, error) {
	unlock := s.locks.Lock(jobID)
	defer unlock()

	current, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.JobID = jobID
	if err := s.write(ctx, working, "update"); err != nil {
		return nil, err
	}
	return working.Clone(), nil
}

// Delete removes the context from memory and every mirror. Deleting an
// unknown job is not an error.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	unlock := s.locks.Lock(jobID)
	defer unlock()

	s.mu.Lock()
	delete(s.entries, jobID)
	s.mu.Unlock()

	var errs []error
	for _, m := range s.mirrors {
		if err := m.Remove(ctx, jobID); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))
		}
	}
	metrics.Get().RecordStoreOperation("delete", "memory", nil)
	if len(errs) > 0 {
		logging.L().Warn("tcc mirror delete failed", zap.String("job_id", jobID), zap.Error(errors.Join(errs...)))
	}
	return nil
}

// List returns summaries of all known contexts, most recently updated first.
func (s *Store) List(ctx context.Context) ([]tcc.Summary, error) {
	seen := make(map[string]tcc.Summary)

	s.mu.RLock()
	for id, t := range s.entries {
		seen[id] = t.Summarize()
	}
	s.mu.RUnlock()

	for _, m := range s.mirrors {
		lister, ok := m.(Lister)
		if !ok {
			continue
		}
		ids, err := lister.JobIDs(ctx)
		if err != nil {
			logging.L().Warn("tcc mirror list failed", zap.String("mirror", m.Name()), zap.Error(err))
			continue
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			if t, err := m.Load(ctx, id); err == nil {
				seen[id] = t.Summarize()
			}
		}
	}

	out := make([]tcc.Summary, 0, len(seen))
	for _, sum := range seen {
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// CountByStatus tallies List by job status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, 4)
	for _, sum := range list {
		counts[string(sum.Status)]++
	}
	return counts, nil
}

// load returns the stored pointer (not a copy). Memory first, then mirrors in
// order; a mirror hit re-warms memory.
func (s *Store) load(ctx context.Context, jobID string) (*tcc.Context, error) {
	s.mu.RLock()
	t, ok := s.entries[jobID]
	s.mu.RUnlock()
	if ok {
		metrics.Get().RecordStoreOperation("get", "memory", nil)
		return t, nil
	}

	for _, m := range s.mirrors {
		loaded, err := m.Load(ctx, jobID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				metrics.Get().RecordStoreOperation("get", m.Name(), err)
				logging.L().Warn("tcc mirror load failed",
					zap.String("job_id", jobID), zap.String("mirror", m.Name()), zap.Error(err))
			}
			continue
		}
		metrics.Get().RecordStoreOperation("get", m.Name(), nil)
		s.mu.Lock()
		s.entries[jobID] = loaded
		s.mu.Unlock()
		return loaded, nil
	}
	return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
}

// write validates t, bumps its version and stores a private copy. Must be
// called with the job lock held.
func (s *Store) write(ctx context.Context, t *tcc.Context, op string) error {
	stored := t.Clone()
	stored.TCCVersion++
	stored.UpdatedAt = s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = stored.UpdatedAt
	}
	if err := stored.Validate(); err != nil {
		metrics.Get().RecordStoreOperation(op, "memory", err)
		return err
	}

	s.mu.Lock()
	s.entries[stored.JobID] = stored
	s.mu.Unlock()
	metrics.Get().RecordStoreOperation(op, "memory", nil)

	t.TCCVersion = stored.TCCVersion
	t.UpdatedAt = stored.UpdatedAt
	t.CreatedAt = stored.CreatedAt

	for _, m := range s.mirrors {
		err := m.Put(ctx, stored)
		metrics.Get().RecordStoreOperation(op, m.Name(), err)
		if err != nil {
			logging.L().Warn("tcc mirror write failed",
				zap.String("job_id", stored.JobID), zap.String("mirror", m.Name()), zap.Error(err))
		}
	}
	return nil
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
