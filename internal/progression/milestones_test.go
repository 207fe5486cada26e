package progression

import "testing"

func keys(ms []Milestone) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Key
	}
	return out
}

func equalKeys(got []Milestone, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i].Key != want[i] {
			return false
		}
	}
	return true
}

func TestDetectMilestones_SingleStreak(t *testing.T) {
	tables := DefaultTables()
	got := tables.DetectMilestones(
		Position{Streak: 6, Level: 1, Rank: RankPup},
		Position{Streak: 7, Level: 1, Rank: RankPup},
	)
	if !equalKeys(got, "streak-7") {
		t.Fatalf("DetectMilestones = %v, want [streak-7]", keys(got))
	}
	if got[0].XP != 100 || got[0].Currency != 50 {
		t.Errorf("streak-7 bonus = %d XP / %d currency, want 100/50", got[0].XP, got[0].Currency)
	}
}

func TestDetectMilestones_JumpCrossesSeveral(t *testing.T) {
	tables := DefaultTables()
	got := tables.DetectMilestones(
		Position{Streak: 2, Level: 1, Rank: RankPup},
		Position{Streak: 14, Level: 1, Rank: RankPup},
	)
	if !equalKeys(got, "streak-3", "streak-7", "streak-14") {
		t.Errorf("DetectMilestones = %v", keys(got))
	}
}

func TestDetectMilestones_NoChangeFiresNothing(t *testing.T) {
	tables := DefaultTables()
	p := Position{Streak: 7, Level: 4, Rank: RankHunter}
	if got := tables.DetectMilestones(p, p); len(got) != 0 {
		t.Errorf("DetectMilestones = %v, want none", keys(got))
	}
}

func TestDetectMilestones_StreakDropFiresNothing(t *testing.T) {
	tables := DefaultTables()
	got := tables.DetectMilestones(
		Position{Streak: 8, Level: 2, Rank: RankPup},
		Position{Streak: 1, Level: 2, Rank: RankPup},
	)
	if len(got) != 0 {
		t.Errorf("DetectMilestones = %v, want none", keys(got))
	}
}

func TestDetectMilestones_LevelsAndRanks(t *testing.T) {
	tables := DefaultTables()
	got := tables.DetectMilestones(
		Position{Streak: 21, Level: 1, Rank: RankPup},
		Position{Streak: 21, Level: 6, Rank: RankAlpha},
	)
	want := []string{"level-2", "level-3", "level-4", "level-5", "level-6", "rank-hunter", "rank-alpha"}
	if !equalKeys(got, want...) {
		t.Fatalf("DetectMilestones = %v, want %v", keys(got), want)
	}
	for _, m := range got[:5] {
		if m.Currency != tables.LevelUpCurrency {
			t.Errorf("%s currency = %d, want %d", m.Key, m.Currency, tables.LevelUpCurrency)
		}
	}
	if got[5].Currency != 100 {
		t.Errorf("rank-hunter currency = %d, want 100", got[5].Currency)
	}
}

func TestDetectMilestones_OrderedByKind(t *testing.T) {
	tables := DefaultTables()
	got := tables.DetectMilestones(
		Position{Streak: 6, Level: 2, Rank: RankPup},
		Position{Streak: 7, Level: 3, Rank: RankHunter},
	)
	if !equalKeys(got, "streak-7", "level-3", "rank-hunter") {
		t.Errorf("DetectMilestones = %v", keys(got))
	}
}
