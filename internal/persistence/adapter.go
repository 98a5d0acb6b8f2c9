// Package persistence defines the Session Persistence Adapter interface
// (spec.md §4.6). The engine never depends on a concrete store; in-memory
// and document-store (Postgres/JSONB) implementations both satisfy it.
package persistence

import (
	"context"
	"errors"

	"github.com/argus-sre/argus/internal/session"
)

// ErrNotFound is returned by Load/Delete when no record exists for the id.
var ErrNotFound = errors.New("persistence: record not found")

// Adapter persists the final (terminal) form of a session: its transcript
// and diagnosis, for later replay. Subscriber state and worker handles are
// never persisted (spec.md §4.6).
type Adapter interface {
	// Save is an idempotent upsert of a completed, failed or cancelled
	// session. Called by the worker on terminal transition.
	Save(ctx context.Context, rec *session.Record) error

	// Load returns a record in terminal status reconstructed from storage,
	// or ErrNotFound. The worker is never re-started from a loaded record.
	Load(ctx context.Context, id string) (*session.Record, error)

	// List returns summaries ordered by CreatedAt descending, optionally
	// filtered by scenario. limit/offset of 0/0 mean "no pagination" —
	// callers that want pagination apply it themselves after merging with
	// the live set (see sessionstore.Store.List).
	List(ctx context.Context, scenario string, limit, offset int) ([]session.Snapshot, error)

	// Delete removes a persisted record. Returns ErrNotFound if it never
	// existed.
	Delete(ctx context.Context, id string) error
}
