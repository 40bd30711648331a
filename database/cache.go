package database

import (
	"context"
	"database/sql"
)

// Cache is a question-id keyed cache persisted in one table. It satisfies
// ai.Cache.
type Cache struct {
	db     *DB
	table  string
	column string
}

// ExplanationCache persists generated explanations
func (db *DB) ExplanationCache() *Cache {
	return &Cache{db: db, table: "explanation_cache", column: "response"}
}

// AudioCache persists base64 speech payloads
func (db *DB) AudioCache() *Cache {
	return &Cache{db: db, table: "audio_cache", column: "payload"}
}

func (c *Cache) Get(ctx context.Context, questionID int) (string, bool, error) {
	var value string
	err := c.db.conn.QueryRowContext(ctx,
		"SELECT "+c.column+" FROM "+c.table+" WHERE question_id = ?",
		questionID,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (c *Cache) Put(ctx context.Context, questionID int, value string) error {
	_, err := c.db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO "+c.table+" (question_id, "+c.column+") VALUES (?, ?)",
		questionID, value,
	)
	return err
}
