package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/korjavin/physprepbot/models"
	_ "github.com/mattn/go-sqlite3"
)

// DB handles all database operations
type DB struct {
	conn *sql.DB
}

// New creates a new database connection and initializes tables
func New(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err = createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{conn: db}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// createTables creates the necessary tables if they don't exist
func createTables(db *sql.DB) error {
	statements := []string{
		// Completed and bookmarked question ids per user
		`CREATE TABLE IF NOT EXISTS progress (
			user_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			question_id INTEGER NOT NULL,
			PRIMARY KEY (user_id, kind, question_id)
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			user_id INTEGER PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS explanation_cache (
			question_id INTEGER PRIMARY KEY,
			response TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audio_cache (
			question_id INTEGER PRIMARY KEY,
			payload TEXT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// LoadProgress returns the user's id set of the given kind in ascending order
func (db *DB) LoadProgress(ctx context.Context, userID int64, kind models.ProgressKind) ([]int, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT question_id FROM progress WHERE user_id = ? AND kind = ? ORDER BY question_id",
		userID, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveProgress replaces the whole set in one transaction
func (db *DB) SaveProgress(ctx context.Context, userID int64, kind models.ProgressKind, ids []int) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM progress WHERE user_id = ? AND kind = ?",
		userID, string(kind)); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR IGNORE INTO progress (user_id, kind, question_id) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, userID, string(kind), id); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetCredential returns the user's stored credential, "" when there is none
func (db *DB) GetCredential(ctx context.Context, userID int64) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx,
		"SELECT value FROM credentials WHERE user_id = ?",
		userID,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetCredential stores value for the user; an empty value removes the row
func (db *DB) SetCredential(ctx context.Context, userID int64, value string) error {
	if value == "" {
		_, err := db.conn.ExecContext(ctx, "DELETE FROM credentials WHERE user_id = ?", userID)
		return err
	}
	_, err := db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO credentials (user_id, value) VALUES (?, ?)",
		userID, value,
	)
	return err
}

// Stats summarises what is stored
type Stats struct {
	Users        int
	Explanations int
	Narrations   int
}

// GetStats counts users with progress and cached entries
func (db *DB) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	err := db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(DISTINCT user_id) FROM progress),
			(SELECT COUNT(*) FROM explanation_cache),
			(SELECT COUNT(*) FROM audio_cache)
	`).Scan(&s.Users, &s.Explanations, &s.Narrations)
	return s, err
}
