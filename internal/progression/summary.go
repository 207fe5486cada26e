package progression

import (
	"context"
	"sort"
	"strings"
)

// Summary is the read model behind the athlete's progress screen.
type Summary struct {
	UserID        string     `json:"userId"`
	Level         int        `json:"level"`
	TotalXP       int64      `json:"totalXp"`
	XPProgress    XPProgress `json:"xpProgress"`
	Rank          Rank       `json:"rank"`
	CurrentStreak int        `json:"currentStreak"`
	BestStreak    int        `json:"bestStreak"`
	Currency      int64      `json:"currency"`
	StreakFreezes int        `json:"streakFreezes"`
	RepairPending bool       `json:"repairPending"`
}

// DailyProgress reports today's earnings against the caps.
type DailyProgress struct {
	XPEarnedToday       int64 `json:"xpEarnedToday"`
	CurrencyEarnedToday int64 `json:"currencyEarnedToday"`
	XPCap               int64 `json:"xpCap"`
	CurrencyCap         int64 `json:"currencyCap"`
	CanEarnMoreXP       bool  `json:"canEarnMoreXp"`
	CanEarnMoreCurrency bool  `json:"canEarnMoreCurrency"`
}

// CompletionStats aggregates the completion log.
type CompletionStats struct {
	TotalSessions int   `json:"totalSessions"`
	TotalXP       int64 `json:"totalXp"`
	CompletedDays int   `json:"completedDays"`
}

// Enroll creates the zeroed record for a new athlete.
func (e *Engine) Enroll(ctx context.Context, userID string) (sum *Summary, err error) {
	ctx, finish := e.begin(ctx, "enroll", userID)
	defer func() { finish(err) }()

	userID = strings.TrimSpace(userID)
	if userID == "" || len(userID) > 128 {
		return nil, ErrInvalidUser
	}
	rec := NewRecord(userID, e.now())
	if err := e.store.Create(ctx, rec); err != nil {
		return nil, err
	}
	e.log.Info("athlete enrolled", "user", userID)
	return e.summarize(rec), nil
}

// Record returns a copy of the athlete's stored record.
func (e *Engine) Record(ctx context.Context, userID string) (*Record, error) {
	rec, err := e.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Summary returns level, rank, streak and balance. Level and rank are
// always derived from the stored totals.
func (e *Engine) Summary(ctx context.Context, userID string) (*Summary, error) {
	rec, err := e.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.summarize(rec), nil
}

func (e *Engine) summarize(rec *Record) *Summary {
	level := e.tables.Level(rec.TotalXP)
	return &Summary{
		UserID:        rec.UserID,
		Level:         level,
		TotalXP:       rec.TotalXP,
		XPProgress:    e.tables.Progress(rec.TotalXP),
		Rank:          e.tables.Rank(level, rec.BestStreak),
		CurrentStreak: rec.CurrentStreak,
		BestStreak:    rec.BestStreak,
		Currency:      rec.Currency,
		StreakFreezes: rec.StreakFreezes,
		RepairPending: !rec.RepairedAt.IsZero() && e.now().Sub(rec.RepairedAt) <= repairCreditTTL,
	}
}

// DailyProgress reports today's counters. A record last reset on an
// earlier day reads as zero without being written.
func (e *Engine) DailyProgress(ctx context.Context, userID string) (*DailyProgress, error) {
	rec, err := e.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	xp, currency := rec.dailyView(e.now(), e.loc)
	caps := e.tables.Caps
	return &DailyProgress{
		XPEarnedToday:       xp,
		CurrencyEarnedToday: currency,
		XPCap:               caps.XP,
		CurrencyCap:         caps.Currency,
		CanEarnMoreXP:       xp < caps.XP,
		CanEarnMoreCurrency: currency < caps.Currency,
	}, nil
}

// History returns the athlete's completion log, oldest first.
func (e *Engine) History(ctx context.Context, userID string) ([]Completion, error) {
	if _, err := e.store.Load(ctx, userID); err != nil {
		return nil, err
	}
	log, err := e.store.Completions(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(log, func(i, j int) bool {
		return log[i].CompletedAt.Before(log[j].CompletedAt)
	})
	return log, nil
}

// CompletionStats counts sessions, XP and distinct program days.
func (e *Engine) CompletionStats(ctx context.Context, userID string) (*CompletionStats, error) {
	log, err := e.History(ctx, userID)
	if err != nil {
		return nil, err
	}
	type slot struct {
		ref string
		day int
	}
	days := make(map[slot]struct{}, len(log))
	st := &CompletionStats{TotalSessions: len(log)}
	for _, c := range log {
		st.TotalXP += c.XPAwarded
		days[slot{c.EnrollmentRef, c.DayNumber}] = struct{}{}
	}
	st.CompletedDays = len(days)
	return st, nil
}
