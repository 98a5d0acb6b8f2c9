// Package postgres is a document-store Session Persistence Adapter
// (spec.md §4.6) backed by a single JSONB column per session.
//
// Grounded on tarsy's pkg/events/publisher.go transactional persist
// pattern (BeginTx -> write -> Commit) and pkg/database's use of
// database/sql over the jackc/pgx/v5 stdlib driver. Unlike tarsy, which
// models each timeline event as its own relational row via ent, this
// adapter stores exactly the JSON document shape spec.md §6 specifies
// ("Persisted record schema") — one row per session, keyed by id.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/argus-sre/argus/internal/persistence"
	"github.com/argus-sre/argus/internal/session"
)

// Adapter is a persistence.Adapter backed by a *sql.DB using the pgx
// stdlib driver (database/sql.Open("pgx", dsn)).
type Adapter struct {
	db *sql.DB
}

// New wraps an already-open *sql.DB. The caller owns the connection
// lifecycle (Close).
func New(db *sql.DB) *Adapter {
	return &Adapter{db: db}
}

func (a *Adapter) Save(ctx context.Context, rec *session.Record) error {
	snap := rec.Snapshot()
	historyJSON, err := json.Marshal(rec.FullHistory())
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, alert_text, scenario, status, created_at, updated_at, history, final_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			history = EXCLUDED.history,
			final_message = EXCLUDED.final_message
	`, snap.ID, snap.AlertText, snap.Scenario, string(snap.Status), snap.CreatedAt, snap.UpdatedAt, historyJSON, nullableString(snap.FinalMsg))
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	return tx.Commit()
}

func (a *Adapter) Load(ctx context.Context, id string) (*session.Record, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT id, alert_text, scenario, status, created_at, updated_at, history, final_message
		FROM sessions WHERE id = $1
	`, id)

	var (
		alertText, scenario, status string
		createdAt, updatedAt        time.Time
		historyJSON                 []byte
		finalMsg                    sql.NullString
	)
	if err := row.Scan(&id, &alertText, &scenario, &status, &createdAt, &updatedAt, &historyJSON, &finalMsg); err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	var history []session.Event
	if err := json.Unmarshal(historyJSON, &history); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}

	return session.FromPersisted(id, alertText, scenario, session.Status(status), createdAt, updatedAt, history, finalMsg.String), nil
}

func (a *Adapter) List(ctx context.Context, scenario string, limit, offset int) ([]session.Snapshot, error) {
	query := `SELECT id, alert_text, scenario, status, created_at, updated_at, jsonb_array_length(history), final_message FROM sessions`
	args := []any{}
	if scenario != "" {
		query += " WHERE scenario = $1"
		args = append(args, scenario)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]session.Snapshot, 0)
	for rows.Next() {
		var (
			snap     session.Snapshot
			status   string
			lastSeq  int64
			finalMsg sql.NullString
		)
		if err := rows.Scan(&snap.ID, &snap.AlertText, &snap.Scenario, &status, &snap.CreatedAt, &snap.UpdatedAt, &lastSeq, &finalMsg); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		snap.Status = session.Status(status)
		snap.LastSeq = lastSeq
		snap.FinalMsg = finalMsg.String
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (a *Adapter) Delete(ctx context.Context, id string) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
