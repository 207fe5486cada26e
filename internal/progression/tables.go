package progression

import (
	"errors"
	"fmt"
)

// RankRule is the entry requirement for one rank tier.
type RankRule struct {
	Rank          Rank  `yaml:"rank" toml:"rank" json:"rank"`
	MinLevel      int   `yaml:"min_level" toml:"min_level" json:"minLevel"`
	MinStreak     int   `yaml:"min_streak" toml:"min_streak" json:"minStreak"`
	BonusXP       int64 `yaml:"bonus_xp" toml:"bonus_xp" json:"bonusXp"`
	BonusCurrency int64 `yaml:"bonus_currency" toml:"bonus_currency" json:"bonusCurrency"`
}

// StreakMilestone is a one-time bonus for reaching a streak length.
type StreakMilestone struct {
	Days     int   `yaml:"days" toml:"days" json:"days"`
	XP       int64 `yaml:"xp" toml:"xp" json:"xp"`
	Currency int64 `yaml:"currency" toml:"currency" json:"currency"`
}

// SessionRewards are the per-session award amounts before capping.
type SessionRewards struct {
	XP                  int64 `yaml:"xp" toml:"xp" json:"xp"`
	Currency            int64 `yaml:"currency" toml:"currency" json:"currency"`
	PerfectFormXP       int64 `yaml:"perfect_form_xp" toml:"perfect_form_xp" json:"perfectFormXp"`
	PerfectFormCurrency int64 `yaml:"perfect_form_currency" toml:"perfect_form_currency" json:"perfectFormCurrency"`
	FirstOfDayXP        int64 `yaml:"first_of_day_xp" toml:"first_of_day_xp" json:"firstOfDayXp"`
}

// Caps bound what an athlete can earn within one calendar day.
type Caps struct {
	XP       int64 `yaml:"xp" toml:"xp" json:"xp"`
	Currency int64 `yaml:"currency" toml:"currency" json:"currency"`
}

// Prices of the consumables.
type Prices struct {
	StreakFreeze int64 `yaml:"streak_freeze" toml:"streak_freeze" json:"streakFreeze"`
	RepairNear   int64 `yaml:"repair_24h" toml:"repair_24h" json:"repair24h"`
	RepairFar    int64 `yaml:"repair_48h" toml:"repair_48h" json:"repair48h"`
}

// Tables is the complete set of economy parameters. The zero value is not
// usable; start from DefaultTables.
type Tables struct {
	LevelThresholds   []int64           `yaml:"level_thresholds" toml:"level_thresholds" json:"levelThresholds"`
	Ranks             []RankRule        `yaml:"ranks" toml:"ranks" json:"ranks"`
	StreakMilestones  []StreakMilestone `yaml:"streak_milestones" toml:"streak_milestones" json:"streakMilestones"`
	LevelUpCurrency   int64             `yaml:"level_up_currency" toml:"level_up_currency" json:"levelUpCurrency"`
	Session           SessionRewards    `yaml:"session" toml:"session" json:"session"`
	Caps              Caps              `yaml:"caps" toml:"caps" json:"caps"`
	Prices            Prices            `yaml:"prices" toml:"prices" json:"prices"`
	MinSessionSeconds int               `yaml:"min_session_seconds" toml:"min_session_seconds" json:"minSessionSeconds"`
	MaxFreezes        int               `yaml:"max_freezes" toml:"max_freezes" json:"maxFreezes"`
}

// Span used for XP progress once the athlete is past the last threshold.
const overflowLevelSpan = 2000

// DefaultTables returns the production economy.
func DefaultTables() *Tables {
	return &Tables{
		LevelThresholds: []int64{0, 200, 500, 900, 1500, 2300, 3300, 4500, 6000, 8000},
		Ranks: []RankRule{
			{Rank: RankPup, MinLevel: 1, MinStreak: 0},
			{Rank: RankHunter, MinLevel: 3, MinStreak: 7, BonusCurrency: 100},
			{Rank: RankAlpha, MinLevel: 6, MinStreak: 21, BonusCurrency: 100},
			{Rank: RankApex, MinLevel: 9, MinStreak: 42, BonusCurrency: 100},
		},
		StreakMilestones: []StreakMilestone{
			{Days: 3, Currency: 25},
			{Days: 7, XP: 100, Currency: 50},
			{Days: 14, XP: 200, Currency: 100},
			{Days: 21, Currency: 150},
			{Days: 30, XP: 500, Currency: 300},
			{Days: 42, Currency: 500},
		},
		LevelUpCurrency: 20,
		Session: SessionRewards{
			XP:                  100,
			Currency:            5,
			PerfectFormXP:       25,
			PerfectFormCurrency: 3,
			FirstOfDayXP:        10,
		},
		Caps:              Caps{XP: 250, Currency: 50},
		Prices:            Prices{StreakFreeze: 50, RepairNear: 100, RepairFar: 200},
		MinSessionSeconds: 300,
		MaxFreezes:        2,
	}
}

// Validate checks the structural rules the calculators depend on.
func (t *Tables) Validate() error {
	if len(t.LevelThresholds) == 0 {
		return errors.New("level thresholds must not be empty")
	}
	if t.LevelThresholds[0] != 0 {
		return fmt.Errorf("first level threshold must be 0, got %d", t.LevelThresholds[0])
	}
	for i := 1; i < len(t.LevelThresholds); i++ {
		if t.LevelThresholds[i] <= t.LevelThresholds[i-1] {
			return fmt.Errorf("level thresholds must be strictly ascending at index %d", i)
		}
	}
	if len(t.Ranks) == 0 {
		return errors.New("rank table must not be empty")
	}
	for i, r := range t.Ranks {
		if !r.Rank.Valid() {
			return fmt.Errorf("rank %d: unknown rank %q", i, r.Rank)
		}
		if i > 0 {
			prev := t.Ranks[i-1]
			if r.Rank.Ordinal() <= prev.Rank.Ordinal() || r.MinLevel < prev.MinLevel || r.MinStreak < prev.MinStreak {
				return fmt.Errorf("rank %q must follow %q with non-decreasing requirements", r.Rank, prev.Rank)
			}
		}
	}
	for i, m := range t.StreakMilestones {
		if m.Days <= 0 {
			return fmt.Errorf("streak milestone %d: days must be positive", i)
		}
		if i > 0 && m.Days <= t.StreakMilestones[i-1].Days {
			return fmt.Errorf("streak milestones must be ascending at index %d", i)
		}
	}
	if t.Caps.XP < 0 || t.Caps.Currency < 0 {
		return errors.New("daily caps must not be negative")
	}
	if t.Prices.StreakFreeze <= 0 || t.Prices.RepairNear <= 0 || t.Prices.RepairFar <= 0 {
		return errors.New("prices must be positive")
	}
	if t.MinSessionSeconds < 0 {
		return errors.New("minimum session duration must not be negative")
	}
	if t.MaxFreezes < 0 {
		return errors.New("max freezes must not be negative")
	}
	return nil
}
