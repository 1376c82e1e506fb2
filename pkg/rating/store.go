package rating

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Record is one settled game ready for archival.
type Record struct {
	SessionID  string
	WhiteID    string
	BlackID    string
	Result     string
	Reason     string
	Moves      []string
	DeltaWhite int
	DeltaBlack int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store archives finished games and applies rating deltas in Postgres.
// A nil *Store is valid and skips archival entirely.
type Store struct {
	db *sql.DB
}

// NewStore opens the database and verifies connectivity.
func NewStore(databaseURL string) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveResult upserts one finished game and applies both rating deltas.
func (s *Store) SaveResult(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const insertGame = `INSERT INTO games (
		session_id, white_id, black_id, result, reason,
		moves, delta_white, delta_black, started_at, finished_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (session_id) DO UPDATE SET
		result=EXCLUDED.result,
		reason=EXCLUDED.reason,
		moves=EXCLUDED.moves,
		delta_white=EXCLUDED.delta_white,
		delta_black=EXCLUDED.delta_black,
		finished_at=EXCLUDED.finished_at`

	if _, err := tx.ExecContext(ctx, insertGame,
		rec.SessionID, rec.WhiteID, rec.BlackID, rec.Result, rec.Reason,
		strings.Join(rec.Moves, " "), rec.DeltaWhite, rec.DeltaBlack,
		rec.StartedAt, rec.FinishedAt,
	); err != nil {
		return fmt.Errorf("insert game: %w", err)
	}

	const bump = `UPDATE players SET rating = rating + $1 WHERE player_id = $2`
	if _, err := tx.ExecContext(ctx, bump, rec.DeltaWhite, rec.WhiteID); err != nil {
		return fmt.Errorf("update white rating: %w", err)
	}
	if _, err := tx.ExecContext(ctx, bump, rec.DeltaBlack, rec.BlackID); err != nil {
		return fmt.Errorf("update black rating: %w", err)
	}

	return tx.Commit()
}
