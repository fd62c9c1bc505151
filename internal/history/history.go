/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package history records finished games in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Seednode/plaguecourt/internal/game"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

var ErrNotConfigured = errors.New("history store is not configured")

// Result is one finished game.
type Result struct {
	Code    string
	Winner  game.Winner
	Rounds  int
	Players int
	Reveal  map[string]game.Role
	EndedAt time.Time
}

type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Record(ctx context.Context, r Result) error {
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}

	reveal, err := json.Marshal(r.Reveal)
	if err != nil {
		return fmt.Errorf("encode reveal: %w", err)
	}

	endedAt := r.EndedAt
	if endedAt.IsZero() {
		endedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO games (code, winner, rounds, players, reveal, ended_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.Code,
		string(r.Winner),
		r.Rounds,
		r.Players,
		string(reveal),
		endedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record game %s: %w", r.Code, err)
	}
	return nil
}

// Recent returns up to limit results, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Result, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT code, winner, rounds, players, reveal, ended_at FROM games ORDER BY ended_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query games: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var (
			r       Result
			winner  string
			reveal  string
			endedAt int64
		)
		if err := rows.Scan(&r.Code, &winner, &r.Rounds, &r.Players, &reveal, &endedAt); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		if err := json.Unmarshal([]byte(reveal), &r.Reveal); err != nil {
			return nil, fmt.Errorf("decode reveal: %w", err)
		}
		r.Winner = game.Winner(winner)
		r.EndedAt = time.UnixMilli(endedAt).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
