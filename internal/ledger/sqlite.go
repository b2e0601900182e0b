package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend stores the record in a SQLite database.
// Each mutation runs in one immediate transaction.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at dbPath
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("ledger path is required")
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time keeps read-modify-write transactions serialized
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return b, nil
}

func (b *SQLiteBackend) runMigrations() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS ledger_identity (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			agent_id TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			list TEXT CHECK (list IN ('services','tasks')) NOT NULL,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			PRIMARY KEY (list, position)
		)`,
	}

	for _, migration := range migrations {
		if _, err := b.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

func (b *SQLiteBackend) Exists(ctx context.Context) (bool, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_identity`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query ledger identity: %w", err)
	}
	return n > 0, nil
}

func (b *SQLiteBackend) Load(ctx context.Context) (*Record, error) {
	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	return loadRecord(ctx, tx)
}

func (b *SQLiteBackend) Init(ctx context.Context, rec *Record) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_identity`).Scan(&n); err != nil {
		return fmt.Errorf("failed to query ledger identity: %w", err)
	}
	if n > 0 {
		return ErrAlreadyExists
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_identity (id, agent_id) VALUES (1, ?)`, rec.AgentID.String()); err != nil {
		return fmt.Errorf("failed to insert ledger identity: %w", err)
	}
	if err := writeEntries(ctx, tx, rec); err != nil {
		return err
	}

	return tx.Commit()
}

func (b *SQLiteBackend) Update(ctx context.Context, fn func(rec *Record) (bool, error)) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := loadRecord(ctx, tx)
	if err != nil {
		return err
	}

	changed, err := fn(rec)
	if err != nil || !changed {
		return err
	}

	if err := writeEntries(ctx, tx, rec); err != nil {
		return err
	}

	return tx.Commit()
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func loadRecord(ctx context.Context, tx *sql.Tx) (*Record, error) {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT agent_id FROM ledger_identity WHERE id = 1`).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query ledger identity: %w", err)
	}

	agentID, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid agent id: %v", ErrMalformed, err)
	}

	rec := &Record{AgentID: agentID, Services: []string{}, Tasks: []string{}}

	rows, err := tx.QueryContext(ctx, `SELECT list, name FROM ledger_entries ORDER BY list, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var list, name string
		if err := rows.Scan(&list, &name); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries := rec.list(List(list))
		*entries = append(*entries, name)
	}

	return rec, rows.Err()
}

func writeEntries(ctx context.Context, tx *sql.Tx, rec *Record) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_entries`); err != nil {
		return fmt.Errorf("failed to clear ledger entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ledger_entries (list, position, name) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare ledger insert: %w", err)
	}
	defer stmt.Close()

	for _, l := range []List{Services, Tasks} {
		for i, name := range *rec.list(l) {
			if _, err := stmt.ExecContext(ctx, string(l), i, name); err != nil {
				return fmt.Errorf("failed to insert ledger entry: %w", err)
			}
		}
	}

	return nil
}
