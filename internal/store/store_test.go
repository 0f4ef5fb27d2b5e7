package store

import (
	"context"
	"testing"

	"mmr-engine/internal/engine"
)

func TestFamilyNames(t *testing.T) {
	tests := []struct {
		family    Family
		wantName  string
		wantTable string
	}{
		{FamilyPlayer, "player", "mmr_history"},
		{FamilyHero, "hero", "hero_mmr_history"},
	}
	for _, tt := range tests {
		if got := tt.family.String(); got != tt.wantName {
			t.Errorf("Family(%d).String() = %q, want %q", tt.family, got, tt.wantName)
		}
		if got := tt.family.Table(); got != tt.wantTable {
			t.Errorf("Family(%d).Table() = %q, want %q", tt.family, got, tt.wantTable)
		}
	}
}

func TestDedupGuard(t *testing.T) {
	guard := NewDedupGuard()

	if guard.Seen(12345) {
		t.Error("fresh guard should not have seen anything")
	}

	guard.MarkFlushed([]uint64{12345, 12346})
	if !guard.Seen(12345) || !guard.Seen(12346) {
		t.Error("flushed ids should be seen")
	}

	guard.Reset()
	if guard.Seen(12345) {
		t.Error("reset should clear the filter")
	}
}

func fullRoster(team int16, baseAccount uint32) []participantRow {
	roster := make([]participantRow, TeamSize)
	for i := range roster {
		roster[i] = participantRow{
			accountID: baseAccount + uint32(i),
			heroID:    uint32(i + 1),
			team:      team,
		}
	}
	return roster
}

func TestAssembleFullMatch(t *testing.T) {
	feed := NewMatches(nil, nil, nil)
	roster := append(fullRoster(0, 100), fullRoster(1, 200)...)

	m, ok := feed.assemble(42, 1, 24, 26, roster)
	if !ok {
		t.Fatal("expected a full 6v6 match to assemble")
	}
	if m.ID != 42 {
		t.Errorf("ID = %d, want 42", m.ID)
	}
	if len(m.Teams) != 2 || len(m.Teams[0].Players) != TeamSize || len(m.Teams[1].Players) != TeamSize {
		t.Fatalf("unexpected team shape: %+v", m.Teams)
	}
	if m.Teams[0].Won || !m.Teams[1].Won {
		t.Errorf("winning team 1 not reflected: %v/%v", m.Teams[0].Won, m.Teams[1].Won)
	}
	if m.Teams[0].AverageBadge != 24 || m.Teams[1].AverageBadge != 26 {
		t.Errorf("badges = %d/%d, want 24/26", m.Teams[0].AverageBadge, m.Teams[1].AverageBadge)
	}
}

func TestAssembleDropsShortRosters(t *testing.T) {
	feed := NewMatches(nil, nil, nil)
	roster := append(fullRoster(0, 100), fullRoster(1, 200)[:TeamSize-1]...)

	if _, ok := feed.assemble(42, 0, 24, 26, roster); ok {
		t.Error("a 6v5 match must be dropped")
	}
}

func TestAssembleCollapsesDuplicateRows(t *testing.T) {
	feed := NewMatches(nil, nil, nil)
	roster := append(fullRoster(0, 100), fullRoster(1, 200)...)
	// A second row version repeats every participant.
	roster = append(roster, roster...)
	// Stray rows outside teams 0/1 are ignored.
	roster = append(roster, participantRow{accountID: 999, heroID: 1, team: 3})

	m, ok := feed.assemble(42, 0, 24, 26, roster)
	if !ok {
		t.Fatal("duplicated rows should still assemble")
	}
	if len(m.Teams[0].Players) != TeamSize || len(m.Teams[1].Players) != TeamSize {
		t.Errorf("duplicate rows were not collapsed: %d/%d players",
			len(m.Teams[0].Players), len(m.Teams[1].Players))
	}
}

type fakeRatedChecker struct {
	rated map[uint64]bool
	calls []uint64
}

func (f *fakeRatedChecker) HasMatch(ctx context.Context, matchID uint64) (bool, error) {
	f.calls = append(f.calls, matchID)
	return f.rated[matchID], nil
}

func assembledMatch(t *testing.T, id uint64) engine.Match {
	t.Helper()
	feed := NewMatches(nil, nil, nil)
	roster := append(fullRoster(0, 100), fullRoster(1, 200)...)
	m, ok := feed.assemble(id, 0, 24, 26, roster)
	if !ok {
		t.Fatalf("match %d did not assemble", id)
	}
	return m
}

func TestDropRatedConfirmsDuplicates(t *testing.T) {
	guard := NewDedupGuard()
	guard.MarkFlushed([]uint64{42})
	checker := &fakeRatedChecker{rated: map[uint64]bool{42: true}}
	feed := NewMatches(nil, guard, checker)

	matches := []engine.Match{assembledMatch(t, 42), assembledMatch(t, 43)}
	kept, err := feed.dropRated(context.Background(), matches)
	if err != nil {
		t.Fatalf("dropRated failed: %v", err)
	}
	if len(kept) != 1 || kept[0].ID != 43 {
		t.Fatalf("kept %v, want only match 43", kept)
	}
	if len(checker.calls) != 1 || checker.calls[0] != 42 {
		t.Errorf("history checked for %v, want only the flagged id 42", checker.calls)
	}
}

// A fresh match id that merely collides in the bloom filter has no
// rating rows, so the confirmation keeps it in the feed.
func TestDropRatedKeepsBloomFalsePositives(t *testing.T) {
	guard := NewDedupGuard()
	guard.MarkFlushed([]uint64{42})
	checker := &fakeRatedChecker{rated: map[uint64]bool{}}
	feed := NewMatches(nil, guard, checker)

	matches := []engine.Match{assembledMatch(t, 42)}
	kept, err := feed.dropRated(context.Background(), matches)
	if err != nil {
		t.Fatalf("dropRated failed: %v", err)
	}
	if len(kept) != 1 || kept[0].ID != 42 {
		t.Fatal("an unrated match flagged by the filter must still be rated")
	}
}

func TestDropRatedWithoutChecker(t *testing.T) {
	guard := NewDedupGuard()
	guard.MarkFlushed([]uint64{42})
	feed := NewMatches(nil, guard, nil)

	matches := []engine.Match{assembledMatch(t, 42)}
	kept, err := feed.dropRated(context.Background(), matches)
	if err != nil {
		t.Fatalf("dropRated failed: %v", err)
	}
	// An unconfirmable hint never drops a match.
	if len(kept) != 1 {
		t.Fatal("without a history checker the feed must keep every match")
	}
}
