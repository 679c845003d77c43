// SPDX-License-Identifier: MIT

// Package dedup normalizes category names and tracks the distinct set of
// categories observed per session and process-wide.
package dedup

import (
	"strings"
	"sync"

	"github.com/decluttered-ai/reportd/internal/session"
)

// Normalize maps a raw category name to its canonical identity: lower
// case, trimmed, internal whitespace collapsed to single spaces. Two
// names normalizing identically are the same category.
func Normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Merge unions the normalized forms of names into the session's unique
// set and returns how many were new. Merge is commutative and idempotent:
// re-applying the same names is a no-op. Empty names normalize to "" and
// are skipped.
func Merge(s *session.Session, names []string) int {
	if s.Unique == nil {
		s.Unique = make(map[string]struct{})
	}
	added := 0
	for _, raw := range names {
		n := Normalize(raw)
		if n == "" {
			continue
		}
		if _, seen := s.Unique[n]; !seen {
			s.Unique[n] = struct{}{}
			added++
		}
	}
	return added
}

// Recompute derives the unique set from scratch out of the session's
// image records. The result always equals the incremental merges; it
// exists so the set stays recomputable at any time.
func Recompute(s *session.Session) {
	s.Unique = make(map[string]struct{})
	for _, rec := range s.Images {
		Merge(s, rec.Categories)
	}
}

// IndexEntry is the cross-session statistic kept per normalized category.
type IndexEntry struct {
	FirstSeenSession string `json:"first_seen_session"`
	SessionCount     int    `json:"session_count"`
}

// Index is the process-wide dedup index: normalized category name to
// first-seen session and the number of sessions it appeared in. It is
// statistics only and never feeds back into per-session state.
type Index struct {
	mu      sync.Mutex
	entries map[string]*IndexEntry
	// perSession remembers which categories each session already
	// contributed, so redundant merges do not inflate counts.
	perSession map[string]map[string]struct{}
}

// NewIndex returns an empty global index.
func NewIndex() *Index {
	return &Index{
		entries:    make(map[string]*IndexEntry),
		perSession: make(map[string]map[string]struct{}),
	}
}

// Observe records that sessionID saw the given raw category names.
// Concurrent calls are safe; repeated observations from the same session
// are idempotent.
func (x *Index) Observe(sessionID string, names []string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	seen := x.perSession[sessionID]
	if seen == nil {
		seen = make(map[string]struct{})
		x.perSession[sessionID] = seen
	}

	for _, raw := range names {
		n := Normalize(raw)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}

		e := x.entries[n]
		if e == nil {
			e = &IndexEntry{FirstSeenSession: sessionID}
			x.entries[n] = e
		}
		e.SessionCount++
	}
}

// Lookup returns a copy of the entry for a normalized name.
func (x *Index) Lookup(name string) (IndexEntry, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	e, ok := x.entries[Normalize(name)]
	if !ok {
		return IndexEntry{}, false
	}
	return *e, true
}

// Size returns the number of distinct categories seen process-wide.
func (x *Index) Size() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.entries)
}
