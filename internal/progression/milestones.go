package progression

import (
	"fmt"
	"sort"
)

// MilestoneKind groups milestones by the value whose crossing fires them.
type MilestoneKind string

const (
	MilestoneStreak MilestoneKind = "streak"
	MilestoneLevel  MilestoneKind = "level"
	MilestoneRank   MilestoneKind = "rank"
)

// Milestone is a one-time bonus tied to crossing a threshold.
type Milestone struct {
	Key       string        `json:"key"`
	Kind      MilestoneKind `json:"kind"`
	Threshold int           `json:"threshold"`
	XP        int64         `json:"xp"`
	Currency  int64         `json:"currency"`
}

// Position is the set of values milestones are measured against.
type Position struct {
	Streak int
	Level  int
	Rank   Rank
}

func milestoneKey(kind MilestoneKind, v any) string {
	return fmt.Sprintf("%s-%v", kind, v)
}

// DetectMilestones returns every milestone whose threshold satisfies
// old < threshold <= new for streak, level and rank, in ascending order per
// kind. Nothing fires for a value that did not increase. Whether a
// milestone was already granted is the caller's concern.
func (t *Tables) DetectMilestones(from, to Position) []Milestone {
	var out []Milestone

	for _, m := range t.StreakMilestones {
		if from.Streak < m.Days && m.Days <= to.Streak {
			out = append(out, Milestone{
				Key:       milestoneKey(MilestoneStreak, m.Days),
				Kind:      MilestoneStreak,
				Threshold: m.Days,
				XP:        m.XP,
				Currency:  m.Currency,
			})
		}
	}

	for lvl := from.Level + 1; lvl <= to.Level; lvl++ {
		out = append(out, Milestone{
			Key:       milestoneKey(MilestoneLevel, lvl),
			Kind:      MilestoneLevel,
			Threshold: lvl,
			Currency:  t.LevelUpCurrency,
		})
	}

	fromOrd, toOrd := from.Rank.Ordinal(), to.Rank.Ordinal()
	for _, rule := range t.Ranks {
		ord := rule.Rank.Ordinal()
		if fromOrd < ord && ord <= toOrd {
			out = append(out, Milestone{
				Key:       milestoneKey(MilestoneRank, rule.Rank),
				Kind:      MilestoneRank,
				Threshold: ord,
				XP:        rule.BonusXP,
				Currency:  rule.BonusCurrency,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return kindOrder(out[i].Kind) < kindOrder(out[j].Kind)
		}
		return out[i].Threshold < out[j].Threshold
	})
	return out
}

func kindOrder(k MilestoneKind) int {
	switch k {
	case MilestoneStreak:
		return 0
	case MilestoneLevel:
		return 1
	default:
		return 2
	}
}

// MilestoneAward is a fired milestone with the amounts actually granted
// after capping.
type MilestoneAward struct {
	Milestone
	XPGranted       int64 `json:"xpGranted"`
	CurrencyGranted int64 `json:"currencyGranted"`
}
