package progression

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionCompletion is the "session completed" event from the workout player.
type SessionCompletion struct {
	UserID          string `json:"userId" validate:"required,max=128"`
	EnrollmentRef   string `json:"enrollmentRef" validate:"required,max=128"`
	DayNumber       int    `json:"dayNumber" validate:"gte=1"`
	DurationSeconds int    `json:"durationSeconds" validate:"gte=0"`
	PerfectForm     bool   `json:"perfectForm"`
}

// Bonus labels reported in RewardResult.Bonuses.
const (
	BonusPerfectForm = "Perfect Form"
	BonusFirstOfDay  = "First Workout"
	BonusFreezeUsed  = "Streak Freeze"
	BonusRepairUsed  = "Streak Repair"
)

// RewardResult reports the amounts actually applied by CompleteSession,
// never the requested ones.
type RewardResult struct {
	CompletionID    string           `json:"completionId"`
	XPAwarded       int64            `json:"xpAwarded"`
	CurrencyAwarded int64            `json:"currencyAwarded"`
	Bonuses         []string         `json:"bonuses"`
	Streak          int              `json:"streak"`
	BestStreak      int              `json:"bestStreak"`
	StreakBroken    bool             `json:"streakBroken"`
	FreezeUsed      bool             `json:"freezeUsed"`
	RepairUsed      bool             `json:"repairUsed"`
	Milestones      []MilestoneAward `json:"milestones"`
	Level           int              `json:"level"`
	LeveledUp       bool             `json:"leveledUp"`
	NewLevel        *int             `json:"newLevel,omitempty"`
	Rank            Rank             `json:"rank"`
	RankedUp        bool             `json:"rankedUp"`
	CapReason       string           `json:"capReason,omitempty"`
}

// CompleteSession converts a finished training session into XP, currency,
// streak progress and milestone bonuses. Sessions shorter than the
// configured minimum are rejected before the record is read. All effects,
// including the completion log entry, commit as one unit.
func (e *Engine) CompleteSession(ctx context.Context, in SessionCompletion) (res *RewardResult, err error) {
	ctx, finish := e.begin(ctx, "complete_session", in.UserID)
	defer func() { finish(err) }()

	if verr := e.validate.Struct(in); verr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCompletion, verr)
	}
	if in.DurationSeconds < e.tables.MinSessionSeconds {
		return nil, ErrSessionTooShort
	}

	var g *grants
	_, err = e.update(ctx, "complete_session", in.UserID, func(rec *Record, now time.Time) (*Completion, error) {
		g = e.grantsFor(rec)
		res = e.applySession(rec, in, now, g)
		return &Completion{
			ID:              res.CompletionID,
			UserID:          in.UserID,
			EnrollmentRef:   in.EnrollmentRef,
			DayNumber:       in.DayNumber,
			CompletedAt:     now,
			XPAwarded:       res.XPAwarded,
			CurrencyAwarded: res.CurrencyAwarded,
			DurationSeconds: in.DurationSeconds,
			PerfectForm:     in.PerfectForm,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	g.report(e.obs)
	e.obs.SessionCompleted(res)
	for _, m := range res.Milestones {
		e.obs.MilestoneFired(m.Milestone)
	}
	e.log.Info("session completed",
		"user", in.UserID,
		"enrollment", in.EnrollmentRef,
		"day", in.DayNumber,
		"xp", res.XPAwarded,
		"currency", res.CurrencyAwarded,
		"streak", res.Streak,
		"milestones", len(res.Milestones),
		"capped", res.CapReason != "")
	e.publishReward(in.UserID, res)
	return res, nil
}

// applySession is steps 2-6 of the transaction: daily reset, streak,
// base reward, milestones, capping.
func (e *Engine) applySession(rec *Record, in SessionCompletion, now time.Time, g *grants) *RewardResult {
	rec.rollDay(now, e.loc)

	firstToday := rec.LastActivityAt.IsZero() || !sameDay(rec.LastActivityAt, now, e.loc)
	before := e.position(rec)

	tr := AdvanceStreak(StreakState{
		Current:  rec.CurrentStreak,
		Best:     rec.BestStreak,
		Freezes:  rec.StreakFreezes,
		Repaired: rec.RepairedAt,
	}, rec.LastActivityAt, now, e.loc)
	rec.CurrentStreak = tr.Next.Current
	rec.BestStreak = tr.Next.Best
	rec.StreakFreezes = tr.Next.Freezes
	rec.RepairedAt = tr.Next.Repaired
	rec.LastActivityAt = now

	res := &RewardResult{
		CompletionID: uuid.NewString(),
		Bonuses:      []string{},
		Streak:       tr.Next.Current,
		BestStreak:   tr.Next.Best,
		StreakBroken: tr.Broken,
		FreezeUsed:   tr.FreezeUsed,
		RepairUsed:   tr.RepairUsed,
	}

	rw := e.tables.Session
	xp, currency := rw.XP, rw.Currency
	if in.PerfectForm {
		xp += rw.PerfectFormXP
		currency += rw.PerfectFormCurrency
		res.Bonuses = append(res.Bonuses, BonusPerfectForm)
	}
	if firstToday {
		xp += rw.FirstOfDayXP
		res.Bonuses = append(res.Bonuses, BonusFirstOfDay)
	}
	if tr.FreezeUsed {
		res.Bonuses = append(res.Bonuses, BonusFreezeUsed)
	}
	if tr.RepairUsed {
		res.Bonuses = append(res.Bonuses, BonusRepairUsed)
	}

	g.grant(KindXP, xp)
	g.grant(KindCurrency, currency)

	// Milestones compare the pre-session position with the one after the
	// new streak and the clipped base XP.
	res.Milestones = e.fireMilestones(rec, before, now, g)
	if res.Milestones == nil {
		res.Milestones = []MilestoneAward{}
	}

	after := e.position(rec)
	res.XPAwarded = g.xpTotal
	res.CurrencyAwarded = g.curTotal
	res.CapReason = g.capReason()
	res.Level = after.Level
	if after.Level > before.Level {
		res.LeveledUp = true
		lvl := after.Level
		res.NewLevel = &lvl
	}
	res.Rank = after.Rank
	res.RankedUp = after.Rank.Ordinal() > before.Rank.Ordinal()
	return res
}

func (e *Engine) publishReward(userID string, res *RewardResult) {
	now := e.now()
	e.publish(userID, now, EventReward, res)
	for _, m := range res.Milestones {
		e.publish(userID, now, EventMilestone, m)
	}
	if res.LeveledUp || res.RankedUp {
		e.publish(userID, now, EventLevelUp, LevelChange{Level: res.Level, Rank: res.Rank, RankedUp: res.RankedUp})
	}
}

// LevelChange is the payload of EventLevelUp.
type LevelChange struct {
	Level    int  `json:"level"`
	Rank     Rank `json:"rank"`
	RankedUp bool `json:"rankedUp"`
}
