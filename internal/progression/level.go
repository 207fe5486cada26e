package progression

import "math"

// Rank is a coarse tier derived from level and best streak.
type Rank string

const (
	RankPup    Rank = "pup"
	RankHunter Rank = "hunter"
	RankAlpha  Rank = "alpha"
	RankApex   Rank = "apex"
)

var rankOrder = []Rank{RankPup, RankHunter, RankAlpha, RankApex}

// Ordinal returns the position of r in the rank ladder, or -1 if r is unknown.
func (r Rank) Ordinal() int {
	for i, v := range rankOrder {
		if v == r {
			return i
		}
	}
	return -1
}

// Valid reports whether r is one of the defined ranks.
func (r Rank) Valid() bool { return r.Ordinal() >= 0 }

// XPProgress is the display-ready position within the current level.
type XPProgress struct {
	Current  int64 `json:"current"`
	Required int64 `json:"required"`
	Percent  int   `json:"percent"`
}

// Level returns the level reached with totalXP. Levels start at 1. The
// table is scanned from the top down; the first threshold not above
// totalXP wins.
func (t *Tables) Level(totalXP int64) int {
	for i := len(t.LevelThresholds) - 1; i >= 0; i-- {
		if totalXP >= t.LevelThresholds[i] {
			return i + 1
		}
	}
	return 1
}

// Progress computes how far totalXP is into the current level.
//
// Past the last threshold there is no next level, so progress is measured
// against a fixed overflow span instead.
func (t *Tables) Progress(totalXP int64) XPProgress {
	level := t.Level(totalXP)
	floor := t.LevelThresholds[level-1]
	next := floor + overflowLevelSpan
	if level < len(t.LevelThresholds) {
		next = t.LevelThresholds[level]
	}
	current := totalXP - floor
	required := next - floor
	pct := int(math.Round(float64(current) / float64(required) * 100))
	return XPProgress{
		Current:  current,
		Required: required,
		Percent:  min(max(pct, 0), 100),
	}
}

// Rank resolves the highest rank whose level and streak requirements are
// both met. It takes the best streak, not the current one, so a rank once
// earned is never lost when a streak breaks.
func (t *Tables) Rank(level, bestStreak int) Rank {
	for i := len(t.Ranks) - 1; i >= 0; i-- {
		r := t.Ranks[i]
		if level >= r.MinLevel && bestStreak >= r.MinStreak {
			return r.Rank
		}
	}
	return t.Ranks[0].Rank
}
