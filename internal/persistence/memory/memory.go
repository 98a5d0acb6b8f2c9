// Package memory is the default, dependency-free Session Persistence
// Adapter (spec.md §4.6) — a single process's record of terminal sessions,
// useful for tests and single-node development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/argus-sre/argus/internal/persistence"
	"github.com/argus-sre/argus/internal/session"
)

type record struct {
	id         string
	alertText  string
	scenario   string
	status     session.Status
	createdAt  time.Time
	updatedAt  time.Time
	history    []session.Event
	finalMsg   string
}

// Adapter is an in-memory persistence.Adapter.
type Adapter struct {
	mu      sync.RWMutex
	records map[string]record
}

// New creates an empty in-memory adapter.
func New() *Adapter {
	return &Adapter{records: make(map[string]record)}
}

func (a *Adapter) Save(_ context.Context, rec *session.Record) error {
	snap := rec.Snapshot()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records[snap.ID] = record{
		id:        snap.ID,
		alertText: snap.AlertText,
		scenario:  snap.Scenario,
		status:    snap.Status,
		createdAt: snap.CreatedAt,
		updatedAt: snap.UpdatedAt,
		history:   rec.FullHistory(),
		finalMsg:  snap.FinalMsg,
	}
	return nil
}

func (a *Adapter) Load(_ context.Context, id string) (*session.Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.records[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return session.FromPersisted(r.id, r.alertText, r.scenario, r.status, r.createdAt, r.updatedAt, r.history, r.finalMsg), nil
}

func (a *Adapter) List(_ context.Context, scenario string, limit, offset int) ([]session.Snapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]session.Snapshot, 0, len(a.records))
	for _, r := range a.records {
		if scenario != "" && r.scenario != scenario {
			continue
		}
		out = append(out, session.Snapshot{
			ID: r.id, AlertText: r.alertText, Scenario: r.scenario, Status: r.status,
			CreatedAt: r.createdAt, UpdatedAt: r.updatedAt, LastSeq: int64(len(r.history)), FinalMsg: r.finalMsg,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if offset > 0 || limit > 0 {
		if offset > len(out) {
			return []session.Snapshot{}, nil
		}
		end := len(out)
		if limit > 0 && offset+limit < end {
			end = offset + limit
		}
		out = out[offset:end]
	}
	return out, nil
}

func (a *Adapter) Delete(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.records[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(a.records, id)
	return nil
}
