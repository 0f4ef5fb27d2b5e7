package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mmr-engine/internal/engine"
)

// Family selects which rating history a Ratings instance owns. The two
// families write disjoint tables and key spaces, so separate processes
// can run them concurrently against the same store.
type Family int

const (
	// FamilyPlayer is the aggregate per-player rating (hero id 0).
	FamilyPlayer Family = iota
	// FamilyHero is the per-player-per-hero rating.
	FamilyHero
)

func (f Family) String() string {
	if f == FamilyHero {
		return "hero"
	}
	return "player"
}

// Table returns the history table backing the family.
func (f Family) Table() string {
	if f == FamilyHero {
		return "hero_mmr_history"
	}
	return "mmr_history"
}

// Ratings is the pgx-backed rating history. Append-only: rows are
// superseded by later rows, never updated or deleted.
type Ratings struct {
	db     *DB
	family Family
	guard  *DedupGuard
}

// NewRatings creates the rating store for one family. guard may be nil.
func NewRatings(db *DB, family Family, guard *DedupGuard) *Ratings {
	return &Ratings{db: db, family: family, guard: guard}
}

// CheckpointMatchID returns the most recently written match id.
func (r *Ratings) CheckpointMatchID(ctx context.Context) (uint64, bool, error) {
	var id int64
	query := fmt.Sprintf(`SELECT match_id FROM %s ORDER BY match_id DESC LIMIT 1`, r.family.Table())
	err := r.db.pool.QueryRow(ctx, query).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("checkpoint query: %w", err)
	}
	return uint64(id), true, nil
}

// HasMatch reports whether any rating row exists for a match id. The
// match feed uses it to confirm bloom-filter hits before dropping a
// match as a duplicate.
func (r *Ratings) HasMatch(ctx context.Context, matchID uint64) (bool, error) {
	var one int
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE match_id = $1 LIMIT 1`, r.family.Table())
	err := r.db.pool.QueryRow(ctx, query, int64(matchID)).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("rated lookup for match %d: %w", matchID, err)
	}
	return true, nil
}

// LatestRatings returns every entity's most recent score as of a match id.
func (r *Ratings) LatestRatings(ctx context.Context, asOf uint64) (map[engine.Entity]float64, error) {
	snapshot := make(map[engine.Entity]float64)

	if r.family == FamilyHero {
		rows, err := r.db.pool.Query(ctx, `
			SELECT DISTINCT ON (account_id, hero_id) account_id, hero_id, player_score
			FROM hero_mmr_history
			WHERE match_id <= $1
			ORDER BY account_id, hero_id, match_id DESC
		`, int64(asOf))
		if err != nil {
			return nil, fmt.Errorf("latest hero ratings: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var accountID int64
			var heroID int32
			var score float64
			if err := rows.Scan(&accountID, &heroID, &score); err != nil {
				return nil, err
			}
			snapshot[engine.Entity{AccountID: uint32(accountID), HeroID: uint32(heroID)}] = score
		}
		return snapshot, rows.Err()
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT DISTINCT ON (account_id) account_id, player_score
		FROM mmr_history
		WHERE match_id <= $1
		ORDER BY account_id, match_id DESC
	`, int64(asOf))
	if err != nil {
		return nil, fmt.Errorf("latest ratings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var accountID int64
		var score float64
		if err := rows.Scan(&accountID, &score); err != nil {
			return nil, err
		}
		snapshot[engine.Entity{AccountID: uint32(accountID)}] = score
	}
	return snapshot, rows.Err()
}

// Top returns the n highest-rated entities by their current score.
func (r *Ratings) Top(ctx context.Context, n int) ([]engine.Rating, error) {
	var query string
	if r.family == FamilyHero {
		query = `
			SELECT match_id, account_id, hero_id, player_score FROM (
				SELECT DISTINCT ON (account_id, hero_id) match_id, account_id, hero_id, player_score
				FROM hero_mmr_history
				ORDER BY account_id, hero_id, match_id DESC
			) latest
			ORDER BY player_score DESC
			LIMIT $1`
	} else {
		query = `
			SELECT match_id, account_id, 0, player_score FROM (
				SELECT DISTINCT ON (account_id) match_id, account_id, player_score
				FROM mmr_history
				ORDER BY account_id, match_id DESC
			) latest
			ORDER BY player_score DESC
			LIMIT $1`
	}

	rows, err := r.db.pool.Query(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("top %d ratings: %w", n, err)
	}
	defer rows.Close()

	var top []engine.Rating
	for rows.Next() {
		var matchID, accountID int64
		var heroID int32
		var score float64
		if err := rows.Scan(&matchID, &accountID, &heroID, &score); err != nil {
			return nil, err
		}
		top = append(top, engine.Rating{
			MatchID: uint64(matchID),
			Entity:  engine.Entity{AccountID: uint32(accountID), HeroID: uint32(heroID)},
			Score:   score,
		})
	}
	return top, rows.Err()
}

// Append bulk-writes a batch of rating rows via COPY.
func (r *Ratings) Append(ctx context.Context, batch []engine.Rating) error {
	if len(batch) == 0 {
		return nil
	}

	var columns []string
	var source pgx.CopyFromSource
	if r.family == FamilyHero {
		columns = []string{"match_id", "account_id", "hero_id", "player_score"}
		source = pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
			row := batch[i]
			return []any{int64(row.MatchID), int64(row.Entity.AccountID), int32(row.Entity.HeroID), row.Score}, nil
		})
	} else {
		columns = []string{"match_id", "account_id", "player_score"}
		source = pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
			row := batch[i]
			return []any{int64(row.MatchID), int64(row.Entity.AccountID), row.Score}, nil
		})
	}

	if _, err := r.db.pool.CopyFrom(ctx, pgx.Identifier{r.family.Table()}, columns, source); err != nil {
		return fmt.Errorf("append %d rows to %s: %w", len(batch), r.family.Table(), err)
	}

	if r.guard != nil {
		seen := make(map[uint64]struct{}, len(batch)/12+1)
		ids := make([]uint64, 0, len(batch)/12+1)
		for _, row := range batch {
			if _, ok := seen[row.MatchID]; !ok {
				seen[row.MatchID] = struct{}{}
				ids = append(ids, row.MatchID)
			}
		}
		r.guard.MarkFlushed(ids)
	}
	return nil
}
