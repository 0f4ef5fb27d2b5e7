package store

import (
	"context"
	"fmt"
	"log"

	"mmr-engine/internal/engine"
)

// TeamSize is the only roster size the engine accepts; the feed drops
// everything else.
const TeamSize = 6

// RatedChecker confirms whether a match already has rating rows. The
// bloom guard over-approximates, so a positive is only a hint and must
// be confirmed here before a match is dropped from the feed.
type RatedChecker interface {
	HasMatch(ctx context.Context, matchID uint64) (bool, error)
}

// Matches is the pgx-backed match feed. It owns all eligibility
// filtering: Ranked/Unranked mode only, both team badges present, full
// 6v6 rosters, low-priority-pool matches excluded, one version per
// match id. The update loop consumes it without re-validating.
type Matches struct {
	db    *DB
	guard *DedupGuard
	rated RatedChecker
}

// NewMatches creates the match feed. guard and rated may be nil; both
// are needed for the duplicate-version gate to be active.
func NewMatches(db *DB, guard *DedupGuard, rated RatedChecker) *Matches {
	return &Matches{db: db, guard: guard, rated: rated}
}

type participantRow struct {
	accountID uint32
	heroID    uint32
	team      int16
}

// FetchSince returns all eligible matches with id greater than matchID,
// in ascending id order.
func (s *Matches) FetchSince(ctx context.Context, matchID uint64) ([]engine.Match, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT mi.match_id, mi.winning_team,
		       mi.average_badge_team0, mi.average_badge_team1,
		       mp.account_id, mp.hero_id, mp.team
		FROM match_info mi
		JOIN match_player mp USING (match_id)
		WHERE mi.match_mode IN ('Ranked', 'Unranked')
		  AND mi.average_badge_team0 IS NOT NULL
		  AND mi.average_badge_team1 IS NOT NULL
		  AND mi.low_pri_pool = FALSE
		  AND mi.match_id > $1
		ORDER BY mi.match_id
	`, int64(matchID))
	if err != nil {
		return nil, fmt.Errorf("fetch matches after %d: %w", matchID, err)
	}
	defer rows.Close()

	var (
		matches     []engine.Match
		current     uint64
		winningTeam int16
		badge0      int64
		badge1      int64
		roster      []participantRow
	)

	finish := func() {
		if current == 0 {
			return
		}
		if m, ok := s.assemble(current, winningTeam, badge0, badge1, roster); ok {
			matches = append(matches, m)
		}
		roster = roster[:0]
	}

	for rows.Next() {
		var id int64
		var accountID int64
		var heroID int32
		var team int16
		var win int16
		var b0, b1 int64
		if err := rows.Scan(&id, &win, &b0, &b1, &accountID, &heroID, &team); err != nil {
			return nil, err
		}
		if uint64(id) != current {
			finish()
			current, winningTeam, badge0, badge1 = uint64(id), win, b0, b1
		}
		roster = append(roster, participantRow{
			accountID: uint32(accountID),
			heroID:    uint32(heroID),
			team:      team,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	finish()

	return s.dropRated(ctx, matches)
}

// dropRated filters out matches the guard flags as already rated. The
// bloom filter over-approximates, so every hit is confirmed against the
// rating history before the match is dropped; a false positive passes
// through and is rated normally.
func (s *Matches) dropRated(ctx context.Context, matches []engine.Match) ([]engine.Match, error) {
	if s.guard == nil || s.rated == nil {
		return matches, nil
	}
	kept := matches[:0]
	for _, m := range matches {
		if s.guard.Seen(m.ID) {
			rated, err := s.rated.HasMatch(ctx, m.ID)
			if err != nil {
				return nil, fmt.Errorf("confirm match %d: %w", m.ID, err)
			}
			if rated {
				log.Printf("[MatchFeed] Match %d already rated, dropping duplicate row version", m.ID)
				continue
			}
		}
		kept = append(kept, m)
	}
	return kept, nil
}

// assemble turns one match's rows into an engine.Match, applying the
// roster-size rules.
func (s *Matches) assemble(id uint64, winningTeam int16, badge0, badge1 int64, roster []participantRow) (engine.Match, bool) {
	// The store deduplicates lazily; collapse repeated participant rows.
	seen := make(map[engine.Entity]struct{}, len(roster))
	teams := [2][]engine.Entity{}
	for _, p := range roster {
		if p.team != 0 && p.team != 1 {
			continue
		}
		e := engine.Entity{AccountID: p.accountID, HeroID: p.heroID}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		teams[p.team] = append(teams[p.team], e)
	}

	if len(teams[0]) != TeamSize || len(teams[1]) != TeamSize {
		return engine.Match{}, false
	}

	return engine.Match{
		ID: id,
		Teams: []engine.Team{
			{Players: teams[0], AverageBadge: uint32(badge0), Won: winningTeam == 0},
			{Players: teams[1], AverageBadge: uint32(badge1), Won: winningTeam == 1},
		},
	}, true
}

// ForFamily projects the feed onto a rating family's key space: the
// player family collapses hero ids to zero so an account maps to one
// entity regardless of hero.
type ForFamily struct {
	Source *Matches
	Family Family
}

// FetchSince implements engine.MatchSource.
func (f ForFamily) FetchSince(ctx context.Context, matchID uint64) ([]engine.Match, error) {
	matches, err := f.Source.FetchSince(ctx, matchID)
	if err != nil || f.Family == FamilyHero {
		return matches, err
	}
	for mi := range matches {
		for ti := range matches[mi].Teams {
			players := matches[mi].Teams[ti].Players
			for pi := range players {
				players[pi].HeroID = 0
			}
		}
	}
	return matches, nil
}
