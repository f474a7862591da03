package flights

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a flight database at dbPath and seeds it.
// An empty path opens a private in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
			return nil, err
		}
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if dbPath == "" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.seed(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) seed(ctx context.Context) error {
	for number, st := range Seed {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO flights (number, status, gate, departs) VALUES (?, ?, ?, ?)`,
			number, st.Status, st.Gate, st.Time,
		)
		if err != nil {
			return fmt.Errorf("seed %s: %w", number, err)
		}
	}
	log.Printf("[flights] store ready with %d seeded flights", len(Seed))
	return nil
}

// Upsert inserts or replaces one flight.
func (s *SQLiteStore) Upsert(ctx context.Context, number string, st Status) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO flights (number, status, gate, departs, updated_at) VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		number, st.Status, st.Gate, st.Time,
	)
	return err
}

func (s *SQLiteStore) Lookup(ctx context.Context, number string) (*Status, error) {
	var st Status
	err := s.db.QueryRowContext(ctx,
		`SELECT status, gate, departs FROM flights WHERE number = ?`,
		number,
	).Scan(&st.Status, &st.Gate, &st.Time)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
