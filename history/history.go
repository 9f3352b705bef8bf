// Package history keeps a local record of answered questions in SQLite,
// so past interviews can be reviewed without the backend.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS interactions (
	id         TEXT PRIMARY KEY,
	question   TEXT NOT NULL,
	answer     TEXT NOT NULL,
	credits    INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interactions_created_at ON interactions(created_at);
`

// Interaction is one answered question.
type Interaction struct {
	ID        string
	Question  string
	Answer    string
	Credits   int
	CreatedAt time.Time
}

type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	// modernc sqlite misbehaves with concurrent writers on one file.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record stores one interaction and returns its generated id.
func (s *Store) Record(ctx context.Context, question, answer string, credits int) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interactions (id, question, answer, credits, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, question, answer, credits, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("history: record interaction: %w", err)
	}
	return id, nil
}

// Recent returns up to limit interactions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question, answer, credits, created_at FROM interactions ORDER BY created_at DESC, id LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("history: query interactions: %w", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var it Interaction
		if err := rows.Scan(&it.ID, &it.Question, &it.Answer, &it.Credits, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: scan interaction: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate interactions: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
