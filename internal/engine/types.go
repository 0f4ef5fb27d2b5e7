package engine

import "context"

// Entity is the rated unit. HeroID is zero for the aggregate per-player
// rating family and a hero id for the per-hero family; the two families
// never share keys.
type Entity struct {
	AccountID uint32
	HeroID    uint32
}

// Team is one side of a match: its roster, the average badge the game
// assigned to it, and whether it won.
type Team struct {
	Players      []Entity
	AverageBadge uint32
	Won          bool
}

// Match is an immutable match record from the analytical store. IDs are
// monotonically increasing and double as the resume token.
type Match struct {
	ID    uint64
	Teams []Team
}

// Rating is one append-only history row: an entity's score as of a match.
// Rows are superseded by later rows, never updated in place.
type Rating struct {
	MatchID uint64
	Entity  Entity
	Score   float64
}

// MatchSource supplies eligible matches in ascending id order, starting
// after the given match id. The source owns all domain filtering (mode,
// badge presence, roster size, pool exclusions) and deduplication; the
// loop trusts the feed.
type MatchSource interface {
	FetchSince(ctx context.Context, matchID uint64) ([]Match, error)
}

// RatingStore is the append-only score history.
type RatingStore interface {
	// CheckpointMatchID returns the match id of the most recently written
	// rating row. found is false when the history is empty.
	CheckpointMatchID(ctx context.Context) (id uint64, found bool, err error)
	// LatestRatings returns each entity's most recent score with
	// match id <= asOf.
	LatestRatings(ctx context.Context, asOf uint64) (map[Entity]float64, error)
	// Append writes a batch of rating rows. Never updates in place.
	Append(ctx context.Context, rows []Rating) error
}
