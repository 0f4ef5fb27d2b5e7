package engine

import (
	"errors"
	"fmt"
	"math"

	"mmr-engine/internal/rank"
)

// Tuned on production match history; see DefaultLoopConfig for the loop
// side of the configuration.
const (
	DefaultSensitivity  = 1.06
	DefaultLearningRate = 1.5
)

// ErrBadMatchShape is returned for matches that are not two non-empty
// teams. The feed should never produce one; if it does, the match is
// skipped.
var ErrBadMatchShape = errors.New("match does not have two non-empty teams")

// Engine is the regression core. It is pure computation: no I/O, safe to
// call repeatedly, and deterministic for a given match and snapshot.
//
// Each match corrects every participant's score twice. The outcome pass
// moves both teams by the win/loss signal against the Elo expected score;
// the anchor pass then pulls each team back toward its externally
// assigned badge, so win streaks cannot decouple scores from badge
// reality.
type Engine struct {
	// Sensitivity scales the outcome pass.
	Sensitivity float64
	// LearningRate scales the anchor pass.
	LearningRate float64
}

// New returns an Engine with the tuned default constants.
func New() Engine {
	return Engine{Sensitivity: DefaultSensitivity, LearningRate: DefaultLearningRate}
}

// expectedOutcome is the Elo expected score for team0 given the two
// predicted team ranks.
func expectedOutcome(pred0, pred1 float64) float64 {
	return 1 / (1 + math.Pow(10, (pred1-pred0)/400))
}

func mean(scores []float64) float64 {
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

// teamErrors computes the per-entity correction toward each team's badge
// target. When both teams carry the top badge the game asserts nothing
// beyond "top tier", so each team's target is the other team's predicted
// rank, halved - this keeps top-tier scores from pinning to the scale
// ceiling.
func teamErrors(topBadgeTie bool, true0, true1, pred0, pred1 float64, n0, n1 int) (e0, e1 float64) {
	if topBadgeTie {
		e0 = (pred1 - pred0) / float64(n0) / 2
		e1 = (pred0 - pred1) / float64(n1) / 2
		return e0, e1
	}
	e0 = (true0 - pred0) / float64(n0)
	e1 = (true1 - pred1) / float64(n1)
	return e0, e1
}

// Update runs the two-pass regression for one match against the current
// snapshot. It returns the replacement score for every participant
// (callers overwrite, they do not add) and the pre-update mean absolute
// team error, an observability signal only.
//
// Entities missing from the snapshot are seeded at their team's badge
// rank. The snapshot itself is never mutated; a failed match leaves no
// trace.
func (e Engine) Update(m Match, snapshot map[Entity]float64) (map[Entity]float64, float64, error) {
	if len(m.Teams) != 2 || len(m.Teams[0].Players) == 0 || len(m.Teams[1].Players) == 0 {
		return nil, 0, fmt.Errorf("match %d: %w", m.ID, ErrBadMatchShape)
	}
	t0, t1 := m.Teams[0], m.Teams[1]

	i0, err := rank.Index(t0.AverageBadge)
	if err != nil {
		return nil, 0, fmt.Errorf("match %d team0: %w", m.ID, err)
	}
	i1, err := rank.Index(t1.AverageBadge)
	if err != nil {
		return nil, 0, fmt.Errorf("match %d team1: %w", m.ID, err)
	}
	true0, true1 := float64(i0), float64(i1)
	topBadgeTie := t0.AverageBadge == rank.MaxBadge() && t1.AverageBadge == rank.MaxBadge()

	// Current scores, seeding unknown entities at their team's badge rank.
	scores0 := make([]float64, len(t0.Players))
	for i, p := range t0.Players {
		if s, ok := snapshot[p]; ok {
			scores0[i] = s
		} else {
			scores0[i] = true0
		}
	}
	scores1 := make([]float64, len(t1.Players))
	for i, p := range t1.Players {
		if s, ok := snapshot[p]; ok {
			scores1[i] = s
		} else {
			scores1[i] = true1
		}
	}

	pred0, pred1 := mean(scores0), mean(scores1)
	err0, err1 := teamErrors(topBadgeTie, true0, true1, pred0, pred1, len(scores0), len(scores1))

	// Outcome pass: pure win/loss Elo shift, symmetric across teams.
	expected0 := expectedOutcome(pred0, pred1)
	outcome0 := 0.0
	if t0.Won {
		outcome0 = 1
	}
	shift := e.Sensitivity * (outcome0 - expected0)
	for i := range scores0 {
		scores0[i] += shift
	}
	for i := range scores1 {
		scores1[i] -= shift
	}

	// Anchor pass: re-measure against the badge targets after the shift.
	pred0, pred1 = mean(scores0), mean(scores1)
	new0, new1 := teamErrors(topBadgeTie, true0, true1, pred0, pred1, len(scores0), len(scores1))

	updates := make(map[Entity]float64, len(t0.Players)+len(t1.Players))
	for i, p := range t0.Players {
		updates[p] = scores0[i] + e.LearningRate*new0
	}
	for i, p := range t1.Players {
		updates[p] = scores1[i] + e.LearningRate*new1
	}

	return updates, (math.Abs(err0) + math.Abs(err1)) / 2, nil
}
