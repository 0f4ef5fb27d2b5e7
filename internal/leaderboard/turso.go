package leaderboard

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

// TursoClient wraps a connection to the Turso-hosted serving database
// that the overlay reads the leaderboard from.
type TursoClient struct {
	db *sql.DB
}

// NewTursoClient creates a new Turso client.
func NewTursoClient(url, authToken string) (*TursoClient, error) {
	connStr := url
	if authToken != "" {
		connStr = fmt.Sprintf("%s?authToken=%s", url, authToken)
	}

	db, err := sql.Open("libsql", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Turso: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping Turso: %w", err)
	}

	return &TursoClient{db: db}, nil
}

// Close closes the Turso connection.
func (c *TursoClient) Close() error {
	return c.db.Close()
}

// CreateTables creates the serving tables if they don't exist.
func (c *TursoClient) CreateTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS leaderboard (
			family TEXT NOT NULL,
			position INTEGER NOT NULL,
			account_id INTEGER NOT NULL,
			hero_id INTEGER NOT NULL DEFAULT 0,
			player_score REAL NOT NULL,
			badge INTEGER NOT NULL,
			PRIMARY KEY (family, position)
		)`,
		`CREATE TABLE IF NOT EXISTS leaderboard_version (
			family TEXT PRIMARY KEY,
			checkpoint_match_id INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_leaderboard_account ON leaderboard(family, account_id)`,
	}

	for _, query := range queries {
		if _, err := c.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// Entry is one serving-side leaderboard row.
type Entry struct {
	Position  int
	AccountID uint32
	HeroID    uint32
	Score     float64
	Badge     uint32
}

// ReplaceLeaderboard swaps in a fresh leaderboard for one rating family.
func (c *TursoClient) ReplaceLeaderboard(ctx context.Context, family string, checkpoint uint64, entries []Entry) error {
	const batchSize = 100

	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM leaderboard WHERE family = ?`, family); err != nil {
		return fmt.Errorf("failed to clear leaderboard: %w", err)
	}

	for i := 0; i < len(entries); i += batchSize {
		end := i + batchSize
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[i:end]

		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO leaderboard (family, position, account_id, hero_id, player_score, badge) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return err
		}

		for _, e := range batch {
			if _, err := stmt.ExecContext(ctx, family, e.Position, e.AccountID, e.HeroID, e.Score, e.Badge); err != nil {
				stmt.Close()
				tx.Rollback()
				return err
			}
		}

		stmt.Close()
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO leaderboard_version (family, checkpoint_match_id, updated_at) VALUES (?, ?, ?)`,
		family, int64(checkpoint), time.Now().UTC().Format(time.RFC3339))
	return err
}
