// Package store provides storage backends for MailPipe.
//
// This file holds the queries shared by the SQLite and Postgres stores.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/MailPipe/internal/models"
)

// sqlStore implements Store on database/sql. Queries are written with "?"
// placeholders and rebound for drivers that use "$n".
type sqlStore struct {
	db     *sql.DB
	name   string
	dollar bool
}

// openAndMigrate opens a pool for driver, lets configure tune it, checks
// connectivity and applies the embedded schema. The pool is closed on any
// failure.
func openAndMigrate(driver, dsn, migrations string, configure func(*sql.DB)) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if configure != nil {
		configure(db)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		slog.Error("store.openAndMigrate: ping failed", "driver", driver, "error", err)
		return nil, fmt.Errorf("failed to reach %s database: %w", driver, err)
	}
	if _, err := db.Exec(migrations); err != nil {
		db.Close()
		slog.Error("store.openAndMigrate: migrations failed", "driver", driver, "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

func (s *sqlStore) bind(query string) string {
	if !s.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SaveThreadState stores or replaces the state for a thread.
func (s *sqlStore) SaveThreadState(ctx context.Context, state models.AgentState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		slog.Error(s.name+" SaveThreadState JSON marshal failed", "error", err, "threadID", state.ThreadID)
		return fmt.Errorf("failed to marshal thread state: %w", err)
	}
	query := s.bind(`
		INSERT INTO thread_states (thread_id, stage, action_type, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (thread_id)
		DO UPDATE SET
			stage = excluded.stage,
			action_type = excluded.action_type,
			state_json = excluded.state_json,
			updated_at = excluded.updated_at`)
	_, err = s.db.ExecContext(ctx, query, state.ThreadID, string(state.Stage), string(state.ActionType),
		string(stateJSON), state.CreatedAt.UTC(), state.UpdatedAt.UTC())
	if err != nil {
		slog.Error(s.name+" SaveThreadState failed", "error", err, "threadID", state.ThreadID, "stage", state.Stage)
		return fmt.Errorf("failed to save thread state %s: %w", state.ThreadID, err)
	}
	slog.Debug(s.name+" SaveThreadState succeeded", "threadID", state.ThreadID, "stage", state.Stage)
	return nil
}

// GetThreadState loads the state for a thread.
func (s *sqlStore) GetThreadState(ctx context.Context, threadID string) (*models.AgentState, error) {
	var stateJSON string
	err := s.db.QueryRowContext(ctx, s.bind(`SELECT state_json FROM thread_states WHERE thread_id = ?`), threadID).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug(s.name+" GetThreadState not found", "threadID", threadID)
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+" GetThreadState failed", "error", err, "threadID", threadID)
		return nil, fmt.Errorf("failed to load thread state %s: %w", threadID, err)
	}
	var state models.AgentState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		slog.Error(s.name+" GetThreadState JSON unmarshal failed", "error", err, "threadID", threadID)
		return nil, fmt.Errorf("failed to decode thread state %s: %w", threadID, err)
	}
	slog.Debug(s.name+" GetThreadState found", "threadID", threadID, "stage", state.Stage)
	return &state, nil
}

// DeleteThreadState removes the state for a thread.
func (s *sqlStore) DeleteThreadState(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM thread_states WHERE thread_id = ?`), threadID); err != nil {
		slog.Error(s.name+" DeleteThreadState failed", "error", err, "threadID", threadID)
		return fmt.Errorf("failed to delete thread state %s: %w", threadID, err)
	}
	slog.Debug(s.name+" DeleteThreadState succeeded", "threadID", threadID)
	return nil
}

// DeleteThreadsBefore removes terminal threads untouched since cutoff.
func (s *sqlStore) DeleteThreadsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM thread_states WHERE updated_at < ? AND stage IN (?, ?, ?)`),
		cutoff.UTC(), string(models.StageSent), string(models.StageCancelled), string(models.StageSummarized))
	if err != nil {
		slog.Error(s.name+" DeleteThreadsBefore failed", "error", err, "cutoff", cutoff)
		return 0, fmt.Errorf("failed to delete stale threads: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted threads: %w", err)
	}
	slog.Debug(s.name+" DeleteThreadsBefore succeeded", "deleted", n)
	return int(n), nil
}

// AddReceipt records one delivery outcome.
func (s *sqlStore) AddReceipt(ctx context.Context, r models.DeliveryReceipt) error {
	_, err := s.db.ExecContext(ctx, s.bind(`
		INSERT INTO delivery_receipts (thread_id, recipient, recipient_name, subject, status, message_id, error, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ThreadID, r.To, nilIfEmpty(r.ToName), r.Subject, string(r.Status), nilIfEmpty(r.MessageID), nilIfEmpty(r.Error), r.Time.UTC())
	if err != nil {
		slog.Error(s.name+" AddReceipt failed", "error", err, "threadID", r.ThreadID)
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	slog.Debug(s.name+" AddReceipt succeeded", "threadID", r.ThreadID, "status", r.Status)
	return nil
}

// GetReceipts lists receipts, optionally for one thread.
func (s *sqlStore) GetReceipts(ctx context.Context, threadID string) ([]models.DeliveryReceipt, error) {
	query := `SELECT thread_id, recipient, recipient_name, subject, status, message_id, error, time FROM delivery_receipts`
	var args []interface{}
	if threadID != "" {
		query += ` WHERE thread_id = ?`
		args = append(args, threadID)
	}
	query += ` ORDER BY time, id`

	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		slog.Error(s.name+" GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	receipts := []models.DeliveryReceipt{}
	for rows.Next() {
		var r models.DeliveryReceipt
		var name, msgID, errText sql.NullString
		var status string
		if err := rows.Scan(&r.ThreadID, &r.To, &name, &r.Subject, &status, &msgID, &errText, &r.Time); err != nil {
			slog.Error(s.name+" GetReceipts scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		r.ToName = name.String
		r.MessageID = msgID.String
		r.Error = errText.String
		r.Status = models.DeliveryStatus(status)
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error(s.name+" GetReceipts rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	slog.Debug(s.name+" GetReceipts succeeded", "count", len(receipts))
	return receipts, nil
}

// SaveCredential stores or replaces a user's mailbox token.
func (s *sqlStore) SaveCredential(ctx context.Context, c models.StoredCredential) error {
	_, err := s.db.ExecContext(ctx, s.bind(`
		INSERT INTO mail_credentials (user_key, token_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_key)
		DO UPDATE SET token_json = excluded.token_json, updated_at = excluded.updated_at`),
		c.UserKey, c.TokenJSON, c.UpdatedAt.UTC())
	if err != nil {
		slog.Error(s.name+" SaveCredential failed", "error", err)
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// GetCredential loads a user's mailbox token.
func (s *sqlStore) GetCredential(ctx context.Context, userKey string) (*models.StoredCredential, error) {
	c := models.StoredCredential{UserKey: userKey}
	err := s.db.QueryRowContext(ctx, s.bind(`SELECT token_json, updated_at FROM mail_credentials WHERE user_key = ?`), userKey).
		Scan(&c.TokenJSON, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+" GetCredential failed", "error", err)
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return &c, nil
}

// DeleteCredential forgets a user's mailbox token.
func (s *sqlStore) DeleteCredential(ctx context.Context, userKey string) error {
	if _, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM mail_credentials WHERE user_key = ?`), userKey); err != nil {
		slog.Error(s.name+" DeleteCredential failed", "error", err)
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug(s.name + " closing database connection")
	return s.db.Close()
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
