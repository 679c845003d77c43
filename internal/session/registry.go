// SPDX-License-Identifier: MIT

package session

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry owns every session record in the process. It guarantees
// single-writer-per-session: mutations to one id never interleave, while
// operations on distinct ids proceed concurrently. The registry is created
// at process start and cleared only by the explicit Cleanup operation.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	totalCreated int64
	mostRecent   string
}

// entry pairs a session with its writer lock. The outer map lock is only
// held long enough to resolve the entry, so per-session work does not
// serialize the whole registry.
type entry struct {
	mu sync.Mutex
	s  *Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*entry)}
}

// Create registers a new session. The first creation for an id wins;
// subsequent calls fail with ErrDuplicateSession and leave the existing
// record untouched.
func (r *Registry) Create(id string, cfg Config, now time.Time) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		ID:        id,
		Config:    cfg,
		Status:    StatusActive,
		StartTime: now,
		Unique:    make(map[string]struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}
	r.sessions[id] = &entry{s: s}
	r.totalCreated++
	r.mostRecent = id
	return s.Clone(), nil
}

func (r *Registry) resolve(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return e, nil
}

// Snapshot returns a deep copy of the session record.
func (r *Registry) Snapshot(id string) (*Session, error) {
	e, err := r.resolve(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Clone(), nil
}

// Update applies fn to the session under its writer lock. fn must not
// block on external I/O; it sees the live record and may mutate it.
// An error from fn is returned verbatim and any partial mutation is the
// caller's responsibility to avoid.
func (r *Registry) Update(id string, fn func(*Session) error) error {
	e, err := r.resolve(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.s)
}

// Append adds an image record to an Active session. Finalizing or
// Completed sessions reject the append with ErrSessionNotActive.
func (r *Registry) Append(id string, rec ImageRecord) error {
	return r.Update(id, func(s *Session) error {
		if s.Status != StatusActive {
			return fmt.Errorf("%w: %s is %s", ErrSessionNotActive, id, s.Status)
		}
		s.Images = append(s.Images, rec)
		s.TotalObjects += rec.ItemCount
		if len(s.Images) > s.Config.MaxCaptures {
			s.OverBudget = true
		}
		return nil
	})
}

// Transition moves the session along a legal status edge.
func (r *Registry) Transition(id string, to Status) error {
	return r.Update(id, func(s *Session) error {
		if !s.Status.CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
		}
		s.Status = to
		return nil
	})
}

// Scan calls fn with a deep copy of every session. Iteration order is
// unspecified; fn errors abort the scan.
func (r *Registry) Scan(fn func(*Session) error) error {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		snap := e.s.Clone()
		e.mu.Unlock()
		if err := fn(snap); err != nil {
			return err
		}
	}
	return nil
}

// List returns deep copies of all sessions, ordered by start time then id
// so callers get stable output.
func (r *Registry) List() []*Session {
	out := make([]*Session, 0)
	_ = r.Scan(func(s *Session) error {
		out = append(out, s)
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveCount returns the number of sessions currently in StatusActive.
func (r *Registry) ActiveCount() int {
	n := 0
	_ = r.Scan(func(s *Session) error {
		if s.Status == StatusActive {
			n++
		}
		return nil
	})
	return n
}

// TotalCreated returns the number of sessions ever created.
func (r *Registry) TotalCreated() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalCreated
}

// MostRecent returns the id of the most recently created session.
func (r *Registry) MostRecent() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mostRecent
}

// Cleanup removes Completed sessions from the registry and returns how
// many were dropped. This is the explicit administrative retention
// action; Active and Finalizing sessions are never touched.
func (r *Registry) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for id, e := range r.sessions {
		e.mu.Lock()
		terminal := e.s.Status.Terminal()
		e.mu.Unlock()
		if terminal {
			delete(r.sessions, id)
			dropped++
		}
	}
	return dropped
}
