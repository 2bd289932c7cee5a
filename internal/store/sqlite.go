package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tether/internal/queue"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
// Users will need to clear their queue database after schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const requestColumns = "id, resource, method, payload, headers_json, enqueued_at, retry_count, priority"

// SQLite persists the queue in a SQLite database, one row per request keyed by
// its position in drain order.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite initializes or connects to the queue database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &SQLite{db: db, path: path}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *SQLite) Path() string {
	return s.path
}

// Load reads every stored request in drain order.
func (s *SQLite) Load(ctx context.Context) ([]queue.Request, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+requestColumns+` FROM queued_requests ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query queued requests: %w", err)
	}
	defer rows.Close()

	requests := []queue.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued requests: %w", err)
	}
	return requests, nil
}

// Save replaces the stored queue in a single transaction.
func (s *SQLite) Save(ctx context.Context, requests []queue.Request) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		return s.replaceAll(ctx, requests)
	})
}

func (s *SQLite) replaceAll(ctx context.Context, requests []queue.Request) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM queued_requests"); err != nil {
		return fmt.Errorf("clear queued requests: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO queued_requests (position, `+requestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for position, req := range requests {
		headers, err := encodeHeaders(req.Headers)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			position,
			req.ID,
			req.Resource,
			string(req.Method),
			nullableBytes(req.Payload),
			headers,
			req.EnqueuedAt.UTC().Format(time.RFC3339Nano),
			req.RetryCount,
			string(req.Priority),
		); err != nil {
			return fmt.Errorf("insert request %s: %w", req.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	err = s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the database to start fresh)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *SQLite) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func scanRequest(scanner interface{ Scan(dest ...any) error }) (queue.Request, error) {
	var (
		id          string
		resource    string
		method      string
		payload     []byte
		headersJSON sql.NullString
		enqueuedRaw string
		retryCount  int
		priority    string
	)
	if err := scanner.Scan(&id, &resource, &method, &payload, &headersJSON, &enqueuedRaw, &retryCount, &priority); err != nil {
		return queue.Request{}, fmt.Errorf("scan queued request: %w", err)
	}

	req := queue.Request{
		ID:         id,
		Resource:   resource,
		Method:     queue.Method(method),
		RetryCount: retryCount,
		Priority:   queue.Priority(priority),
	}
	if len(payload) > 0 {
		req.Payload = append([]byte(nil), payload...)
	}
	if headersJSON.Valid && headersJSON.String != "" {
		if err := json.Unmarshal([]byte(headersJSON.String), &req.Headers); err != nil {
			return queue.Request{}, fmt.Errorf("%w: headers for request %s: %v", ErrCorrupt, id, err)
		}
	}
	enqueuedAt, err := time.Parse(time.RFC3339Nano, enqueuedRaw)
	if err != nil {
		return queue.Request{}, fmt.Errorf("%w: enqueued_at for request %s: %v", ErrCorrupt, id, err)
	}
	req.EnqueuedAt = enqueuedAt
	return req, nil
}

func encodeHeaders(headers map[string]string) (any, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("encode headers: %w", err)
	}
	return string(data), nil
}

func nullableBytes(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return value
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
