package progression

import (
	"context"
	"time"
)

// XPAward is the outcome of AwardXP.
type XPAward struct {
	Awarded    int64            `json:"awarded"`
	NewTotal   int64            `json:"newTotal"`
	LeveledUp  bool             `json:"leveledUp"`
	NewLevel   *int             `json:"newLevel,omitempty"`
	Reason     string           `json:"reason"`
	Milestones []MilestoneAward `json:"milestones"`
}

// CurrencyAward is the outcome of AwardCurrency.
type CurrencyAward struct {
	Awarded  int64  `json:"awarded"`
	NewTotal int64  `json:"newTotal"`
	Reason   string `json:"reason"`
}

// AwardXP grants XP outside a session (quizzes, videos, invites). The
// amount is clipped to today's headroom; a clipped or zero grant is still
// a success and Reason says why. Level-up and rank-up bonuses fire here
// and are clipped like any other award.
func (e *Engine) AwardXP(ctx context.Context, userID string, amount int64, reason string) (out *XPAward, err error) {
	ctx, finish := e.begin(ctx, "award_xp", userID)
	defer func() { finish(err) }()

	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var g *grants
	rec, err := e.update(ctx, "award_xp", userID, func(rec *Record, now time.Time) (*Completion, error) {
		rec.rollDay(now, e.loc)
		g = e.grantsFor(rec)
		before := e.position(rec)

		awarded := g.grant(KindXP, amount)
		milestones := e.fireMilestones(rec, before, now, g)
		if milestones == nil {
			milestones = []MilestoneAward{}
		}
		after := e.position(rec)

		out = &XPAward{
			// Milestone XP counts toward what the caller sees credited.
			Awarded:    g.xpTotal,
			NewTotal:   rec.TotalXP,
			Reason:     reason,
			Milestones: milestones,
		}
		if awarded < amount {
			out.Reason = g.xp.capReason(amount, awarded)
		}
		if after.Level > before.Level {
			out.LeveledUp = true
			lvl := after.Level
			out.NewLevel = &lvl
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	g.report(e.obs)
	for _, m := range out.Milestones {
		e.obs.MilestoneFired(m.Milestone)
	}
	e.log.Info("xp awarded", "user", userID, "requested", amount, "awarded", out.Awarded, "reason", reason)

	at := rec.UpdatedAt
	e.publish(userID, at, EventReward, out)
	for _, m := range out.Milestones {
		e.publish(userID, at, EventMilestone, m)
	}
	if out.LeveledUp {
		lvl := e.tables.Level(rec.TotalXP)
		rank := e.tables.Rank(lvl, rec.BestStreak)
		e.publish(userID, at, EventLevelUp, LevelChange{Level: lvl, Rank: rank})
	}
	return out, nil
}

// AwardCurrency grants currency outside a session, clipped to today's
// headroom.
func (e *Engine) AwardCurrency(ctx context.Context, userID string, amount int64, reason string) (out *CurrencyAward, err error) {
	ctx, finish := e.begin(ctx, "award_currency", userID)
	defer func() { finish(err) }()

	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var g *grants
	rec, err := e.update(ctx, "award_currency", userID, func(rec *Record, now time.Time) (*Completion, error) {
		rec.rollDay(now, e.loc)
		g = e.grantsFor(rec)
		awarded := g.grant(KindCurrency, amount)
		out = &CurrencyAward{Awarded: awarded, NewTotal: rec.Currency, Reason: reason}
		if awarded < amount {
			out.Reason = g.currency.capReason(amount, awarded)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	g.report(e.obs)
	e.log.Info("currency awarded", "user", userID, "requested", amount, "awarded", out.Awarded, "reason", reason)
	e.publish(userID, rec.UpdatedAt, EventReward, out)
	return out, nil
}
