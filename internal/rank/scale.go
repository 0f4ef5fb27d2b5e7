package rank

import (
	"errors"
	"fmt"
)

// ErrUnknownBadge is returned when a badge code is not part of the scale.
var ErrUnknownBadge = errors.New("unknown badge code")

// Badges is the ordered rank scale: every badge code the game can assign
// to a team, lowest first. Codes are tens = tier, ones = sub-rank
// (e.g. 63 is tier 6, sub-rank 3); 0 is unranked placement.
// The table is a deployment constant - changing it invalidates every
// score already written to history.
var Badges = [...]uint32{
	0,
	11, 12, 13, 14, 15, 16,
	21, 22, 23, 24, 25, 26,
	31, 32, 33, 34, 35, 36,
	41, 42, 43, 44, 45, 46,
	51, 52, 53, 54, 55, 56,
	61, 62, 63, 64, 65, 66,
	71, 72, 73, 74, 75, 76,
	81, 82, 83, 84, 85, 86,
	91, 92, 93, 94, 95, 96,
	101, 102, 103, 104, 105, 106,
	111, 112, 113, 114, 115, 116,
}

var badgeIndex = func() map[uint32]int {
	m := make(map[uint32]int, len(Badges))
	for i, b := range Badges {
		m[b] = i
	}
	return m
}()

// Index returns the dense zero-based position of a badge code within the
// scale. Player scores live on this index scale, not on raw badge codes.
func Index(badge uint32) (int, error) {
	i, ok := badgeIndex[badge]
	if !ok {
		return 0, fmt.Errorf("badge %d: %w", badge, ErrUnknownBadge)
	}
	return i, nil
}

// MinIndex returns the lowest rank index on the scale.
func MinIndex() int { return 0 }

// MaxIndex returns the highest rank index on the scale.
func MaxIndex() int { return len(Badges) - 1 }

// MaxBadge returns the badge code of the top rank.
func MaxBadge() uint32 { return Badges[len(Badges)-1] }

// BadgeForScore maps a continuous score back to the nearest badge code,
// for display surfaces. Scores outside the scale collapse to its ends.
func BadgeForScore(score float64) uint32 {
	i := int(Clamp(score) + 0.5)
	return Badges[i]
}

// Clamp bounds a score to the scale's [MinIndex, MaxIndex] range.
func Clamp(score float64) float64 {
	if score < float64(MinIndex()) {
		return float64(MinIndex())
	}
	if score > float64(MaxIndex()) {
		return float64(MaxIndex())
	}
	return score
}
