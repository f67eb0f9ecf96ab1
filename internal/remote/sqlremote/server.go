// Package sqlremote is a SQLite-backed implementation of remote.Remote. It
// plays the server: it assigns final ids and versions, computes joined and
// derived fields, and publishes a push event for every committed change.
//
// It backs the CLI and the integration tests; it is not meant as a
// production server.
package sqlremote

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/replica/internal/model"
	"github.com/roach88/replica/internal/remote"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on records(kind, seq) for list paging
const currentSchemaVersion = 1

// Default and maximum page sizes for List.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Publisher receives every committed change.
type Publisher interface {
	Publish(ctx context.Context, ev model.PushEvent) error
}

// Server is the SQLite reference server.
type Server struct {
	db      *sql.DB
	pub     Publisher
	latency time.Duration

	mu      sync.Mutex
	failure error // returned by the next mutating call
}

// Option configures a Server.
type Option func(*Server)

// WithPublisher sets where change events go.
func WithPublisher(p Publisher) Option {
	return func(s *Server) { s.pub = p }
}

// WithLatency delays every call by d, to make optimistic state observable.
func WithLatency(d time.Duration) Option {
	return func(s *Server) { s.latency = d }
}

// Open creates or opens a SQLite database at path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
func Open(path string, opts ...Option) (*Server, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Server{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// FailNext makes the next Create, Update or Delete fail with err, without
// touching the database.
func (s *Server) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

func (s *Server) takeFailure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.failure
	s.failure = nil
	return err
}

func (s *Server) delay(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) publish(ctx context.Context, events []model.PushEvent) {
	if s.pub == nil {
		return
	}
	for _, ev := range events {
		ev.EventID = uuid.Must(uuid.NewV7()).String()
		if err := s.pub.Publish(ctx, ev); err != nil {
			slog.Warn("change event not published",
				"identity", ev.Identity.String(),
				"version", ev.Version,
				"error", err,
			)
		}
	}
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_records_kind_seq ON records(kind, seq)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// notFound and unprocessable build the server's rejections.
func notFound(kind model.Kind, id model.Identity) *remote.Error {
	return &remote.Error{Status: 404, Message: fmt.Sprintf("%s %s not found", kind, id.ID())}
}

func unprocessable(err error) *remote.Error {
	return &remote.Error{Status: 422, Message: err.Error()}
}
