// Package sessionstore holds the in-memory index of live sessions.
//
// Grounded on tarsy's pkg/session/manager.go (single index lock, per-entity
// lock delegated to the entity itself), generalized with the
// MAX_LIVE_SESSIONS cap and retire-to-persistence flow from spec.md §4.1
// that tarsy's simple manager does not have.
package sessionstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/argus-sre/argus/internal/persistence"
	"github.com/argus-sre/argus/internal/session"
)

// ErrResourceExhausted is returned by Create when the store is at its
// configured maximum live-session count (spec.md §4.1, §7).
var ErrResourceExhausted = errors.New("resource_exhausted: live session limit reached")

// ErrNotFound is returned by Get when no session exists with the given id.
var ErrNotFound = errors.New("not_found: session not found")

// ErrConflict is returned by Delete when the session is still live
// (spec.md §6: only terminal sessions may be deleted).
var ErrConflict = errors.New("conflict: session is not terminal")

// Store is the thread-safe index of live sessions. Lock ordering (spec.md
// §5): the store's own mu is acquired only for index operations and is
// never held while a session's own lock is held.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*session.Record
	maxLive     int
	persistence persistence.Adapter

	sessionsProcessed int64
	lastActivityAt    time.Time
}

// Stats is the store-wide aggregate health snapshot. Grounded on tarsy's
// queue.WorkerPool.Health(), generalized from a single long-lived pool's
// per-worker status to an aggregate over this store's many short-lived,
// one-per-session workers (there is no single "current session" to report).
type Stats struct {
	LiveSessions      int
	SessionsProcessed int64
	LastActivityAt    time.Time
}

// New creates a Store bounded to maxLive concurrently-live sessions and
// backed by adapter for retired/terminal records.
func New(adapter persistence.Adapter, maxLive int) *Store {
	return &Store{
		sessions:    make(map[string]*session.Record),
		maxLive:     maxLive,
		persistence: adapter,
	}
}

// Create allocates a fresh session id and registers a pending record.
func (s *Store) Create(alertText, scenario, orchestratorAgentID string, subAgentIDs []string) (*session.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxLive > 0 && len(s.sessions) >= s.maxLive {
		return nil, ErrResourceExhausted
	}

	id := uuid.NewString()
	rec := session.NewRecord(id, alertText, scenario, orchestratorAgentID, subAgentIDs)
	s.sessions[id] = rec
	s.lastActivityAt = time.Now()
	return rec, nil
}

// Get returns the live record for id, or falls back to the persistence
// adapter (spec.md §4.6: used by the gateway when the in-memory store
// doesn't have the session, e.g. after a restart).
func (s *Store) Get(ctx context.Context, id string) (*session.Record, error) {
	s.mu.RLock()
	rec, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return rec, nil
	}

	if s.persistence == nil {
		return nil, ErrNotFound
	}
	persisted, err := s.persistence.Load(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return persisted, nil
}

// GetLive returns only the in-memory live record, without falling back to
// persistence. Used by components (the worker launcher, cancel handler)
// that must not operate on a replayed-from-storage record.
func (s *Store) GetLive(id string) (*session.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	return rec, ok
}

// List returns live and persisted summaries, newest first, optionally
// filtered by scenario, with limit/offset pagination (spec.md §4.1).
func (s *Store) List(ctx context.Context, scenario string, limit, offset int) ([]session.Snapshot, error) {
	s.mu.RLock()
	recs := make([]*session.Record, 0, len(s.sessions))
	for _, rec := range s.sessions {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	live := make([]session.Snapshot, 0, len(recs))
	for _, rec := range recs {
		live = append(live, rec.Snapshot())
	}

	all := live
	if s.persistence != nil {
		persisted, err := s.persistence.List(ctx, scenario, 0, 0)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(live))
		for _, snap := range live {
			seen[snap.ID] = true
		}
		for _, snap := range persisted {
			if !seen[snap.ID] {
				all = append(all, snap)
			}
		}
	}

	if scenario != "" {
		filtered := all[:0:0]
		for _, snap := range all {
			if snap.Scenario == scenario {
				filtered = append(filtered, snap)
			}
		}
		all = filtered
	}

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset > len(all) {
		return []session.Snapshot{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

// Retire flushes a terminal session's record through the persistence
// adapter, then removes it from the in-memory index. Idempotent: retiring
// an id that isn't live is a no-op.
func (s *Store) Retire(ctx context.Context, id string) error {
	s.mu.RLock()
	rec, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	var saveErr error
	if s.persistence != nil {
		saveErr = s.persistence.Save(ctx, rec)
	}

	s.mu.Lock()
	if _, still := s.sessions[id]; still {
		delete(s.sessions, id)
		s.sessionsProcessed++
		s.lastActivityAt = time.Now()
	}
	s.mu.Unlock()
	return saveErr
}

// Delete removes a terminal session from persistence (spec.md §6 DELETE).
// Returns ErrNotFound if no such session exists anywhere.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	_, live := s.sessions[id]
	s.mu.Unlock()
	if live {
		return ErrConflict
	}
	if s.persistence == nil {
		return ErrNotFound
	}
	if err := s.persistence.Delete(ctx, id); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// LiveCount returns the number of sessions currently held in memory.
func (s *Store) LiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Stats returns the aggregate health snapshot exposed on /health.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		LiveSessions:      len(s.sessions),
		SessionsProcessed: s.sessionsProcessed,
		LastActivityAt:    s.lastActivityAt,
	}
}
