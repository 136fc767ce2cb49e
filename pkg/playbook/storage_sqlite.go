package playbook

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	errs "github.com/ace-agents/playbook/pkg/errors"
	"github.com/ace-agents/playbook/pkg/logging"
)

// Document names inside the SQLite backend.
const (
	docPlaybook   = "playbook"
	docGuardrails = "guardrails"
)

// SQLiteStorage keeps both documents in a single-table SQLite database.
// Useful when many agent processes share a host and file locks are not
// enough.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at path.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if path == "" {
		path = "playbook.db"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errs.Wrap(err, errs.StorageFailed, "failed to open sqlite database")
	}

	// The engine serializes writes itself; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStorage) initDB() error {
	logger := logging.GetLogger()

	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return errs.Wrap(err, errs.StorageFailed, "failed to enable WAL mode")
	}
	for _, pragma := range []string{
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := s.db.Exec(pragma); err != nil {
			logger.Warn(context.Background(), "failed to set pragma %s: %v", pragma, err)
		}
	}

	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			name       TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			updated_at TEXT NOT NULL
		)`)
	if err != nil {
		return errs.Wrap(err, errs.StorageFailed, "failed to create documents table")
	}
	return nil
}

func (s *SQLiteStorage) LoadPlaybook(ctx context.Context) ([]byte, error) {
	return s.load(ctx, docPlaybook)
}

func (s *SQLiteStorage) SavePlaybook(ctx context.Context, data []byte) error {
	return s.save(ctx, docPlaybook, data)
}

func (s *SQLiteStorage) LoadGuardrails(ctx context.Context) ([]byte, error) {
	return s.load(ctx, docGuardrails)
}

func (s *SQLiteStorage) SaveGuardrails(ctx context.Context, data []byte) error {
	return s.save(ctx, docGuardrails, data)
}

// Close closes the underlying database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) load(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE name = ?", name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WithFields(
			errs.Wrap(err, errs.StorageFailed, "failed to load document"),
			errs.Fields{"document": name})
	}
	return data, nil
}

func (s *SQLiteStorage) save(ctx context.Context, name string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (name, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		name, data, nowISO())
	if err != nil {
		return errs.WithFields(
			errs.Wrap(err, errs.StorageFailed, "failed to save document"),
			errs.Fields{"document": name})
	}
	return nil
}
