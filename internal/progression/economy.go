package progression

import (
	"context"
	"time"
)

// Repair windows, measured in hours since the last counted session.
const (
	repairNearWindow = 48 * time.Hour
	repairFarWindow  = 72 * time.Hour
	streakGrace      = 24 * time.Hour
)

// FreezePurchase is the outcome of PurchaseStreakFreeze.
type FreezePurchase struct {
	Success     bool  `json:"success"`
	Cost        int64 `json:"cost"`
	NewCurrency int64 `json:"newCurrency"`
	FreezeCount int   `json:"freezeCount"`
}

// StreakRepair is the outcome of RepairStreak.
type StreakRepair struct {
	Success     bool      `json:"success"`
	Cost        int64     `json:"cost"`
	NewCurrency int64     `json:"newCurrency"`
	ValidUntil  time.Time `json:"validUntil"`
}

// PurchaseStreakFreeze debits the freeze price and adds one freeze token.
func (e *Engine) PurchaseStreakFreeze(ctx context.Context, userID string) (out *FreezePurchase, err error) {
	ctx, finish := e.begin(ctx, "purchase_freeze", userID)
	defer func() { finish(err) }()

	price := e.tables.Prices.StreakFreeze
	rec, err := e.update(ctx, "purchase_freeze", userID, func(rec *Record, _ time.Time) (*Completion, error) {
		if rec.Currency < price {
			return nil, ErrInsufficientCurrency
		}
		if rec.StreakFreezes >= e.tables.MaxFreezes {
			return nil, ErrFreezeLimit
		}
		rec.Currency -= price
		rec.StreakFreezes++
		out = &FreezePurchase{
			Success:     true,
			Cost:        price,
			NewCurrency: rec.Currency,
			FreezeCount: rec.StreakFreezes,
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("streak freeze purchased", "user", userID, "freezes", out.FreezeCount, "currency", out.NewCurrency)
	e.publish(userID, rec.UpdatedAt, EventEconomy, out)
	return out, nil
}

// RepairStreak buys a repair credit for a broken streak. The price depends
// on how long ago the last session was. The streak value itself is not
// touched: the credit lets the next session continue the streak instead of
// resetting it, provided that session happens within a day of the purchase.
func (e *Engine) RepairStreak(ctx context.Context, userID string) (out *StreakRepair, err error) {
	ctx, finish := e.begin(ctx, "repair_streak", userID)
	defer func() { finish(err) }()

	rec, err := e.update(ctx, "repair_streak", userID, func(rec *Record, now time.Time) (*Completion, error) {
		if rec.LastActivityAt.IsZero() {
			return nil, ErrNoStreak
		}
		if !rec.RepairedAt.IsZero() && now.Sub(rec.RepairedAt) <= repairCreditTTL {
			return nil, ErrRepairPending
		}
		cost, err := e.repairPrice(now.Sub(rec.LastActivityAt))
		if err != nil {
			return nil, err
		}
		if rec.Currency < cost {
			return nil, ErrInsufficientCurrency
		}
		rec.Currency -= cost
		rec.RepairedAt = now
		out = &StreakRepair{
			Success:     true,
			Cost:        cost,
			NewCurrency: rec.Currency,
			ValidUntil:  now.Add(repairCreditTTL),
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("streak repair purchased", "user", userID, "cost", out.Cost, "currency", out.NewCurrency)
	e.publish(userID, rec.UpdatedAt, EventEconomy, out)
	return out, nil
}

// RepairQuote reports what RepairStreak would charge right now without
// changing anything.
func (e *Engine) RepairQuote(ctx context.Context, userID string) (int64, error) {
	rec, err := e.store.Load(ctx, userID)
	if err != nil {
		return 0, err
	}
	if rec.LastActivityAt.IsZero() {
		return 0, ErrNoStreak
	}
	return e.repairPrice(e.now().Sub(rec.LastActivityAt))
}

func (e *Engine) repairPrice(since time.Duration) (int64, error) {
	switch {
	case since <= streakGrace:
		return 0, ErrStreakNotBroken
	case since <= repairNearWindow:
		return e.tables.Prices.RepairNear, nil
	case since <= repairFarWindow:
		return e.tables.Prices.RepairFar, nil
	default:
		return 0, ErrRepairWindowExpired
	}
}
