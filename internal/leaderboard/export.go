package leaderboard

import (
	"context"
	"fmt"
	"log"

	"mmr-engine/internal/engine"
	"mmr-engine/internal/rank"
)

// RatingSource is the slice of the rating store the exporter needs.
type RatingSource interface {
	Top(ctx context.Context, n int) ([]engine.Rating, error)
	CheckpointMatchID(ctx context.Context) (uint64, bool, error)
}

// Pusher receives the assembled leaderboard.
type Pusher interface {
	CreateTables(ctx context.Context) error
	ReplaceLeaderboard(ctx context.Context, family string, checkpoint uint64, entries []Entry) error
}

// Exporter pushes the current top-N of one rating family to the serving
// database.
type Exporter struct {
	source RatingSource
	pusher Pusher
	family string
	size   int
}

// NewExporter wires an exporter for one family.
func NewExporter(source RatingSource, pusher Pusher, family string, size int) *Exporter {
	return &Exporter{source: source, pusher: pusher, family: family, size: size}
}

// Export reads the top ratings and replaces the serving leaderboard.
func (e *Exporter) Export(ctx context.Context) error {
	checkpoint, found, err := e.source.CheckpointMatchID(ctx)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if !found {
		log.Printf("[Leaderboard] No ratings written yet for family %q, nothing to export", e.family)
		return nil
	}

	top, err := e.source.Top(ctx, e.size)
	if err != nil {
		return fmt.Errorf("failed to read top ratings: %w", err)
	}

	entries := make([]Entry, len(top))
	for i, r := range top {
		entries[i] = Entry{
			Position:  i + 1,
			AccountID: r.Entity.AccountID,
			HeroID:    r.Entity.HeroID,
			Score:     r.Score,
			Badge:     rank.BadgeForScore(r.Score),
		}
	}

	if err := e.pusher.CreateTables(ctx); err != nil {
		return fmt.Errorf("failed to create serving tables: %w", err)
	}
	if err := e.pusher.ReplaceLeaderboard(ctx, e.family, checkpoint, entries); err != nil {
		return fmt.Errorf("failed to push leaderboard: %w", err)
	}

	log.Printf("[Leaderboard] Pushed %d entries for family %q (checkpoint %d)", len(entries), e.family, checkpoint)
	return nil
}
