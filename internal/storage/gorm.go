package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yp-alpha/progression/internal/progression"
)

// RecordRow is the persisted progression record.
type RecordRow struct {
	UserID              string `gorm:"primaryKey;size:128"`
	TotalXP             int64  `gorm:"not null;default:0"`
	Currency            int64  `gorm:"not null;default:0"`
	CurrentStreak       int    `gorm:"not null;default:0"`
	BestStreak          int    `gorm:"not null;default:0"`
	StreakFreezes       int    `gorm:"not null;default:0"`
	DailyXPEarned       int64  `gorm:"column:daily_xp_earned;not null;default:0"`
	DailyCurrencyEarned int64  `gorm:"not null;default:0"`
	LastDailyResetAt    *time.Time
	LastActivityAt      *time.Time
	RepairedAt          *time.Time
	Milestones          string `gorm:"type:text;not null"`
	Version             int64  `gorm:"not null;default:1"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (RecordRow) TableName() string { return "progression_records" }

// CompletionRow is one entry of the append-only completion log.
type CompletionRow struct {
	ID              string    `gorm:"primaryKey;size:36"`
	UserID          string    `gorm:"size:128;not null;uniqueIndex:idx_completion_slot,priority:1;index"`
	EnrollmentRef   string    `gorm:"size:128;not null;uniqueIndex:idx_completion_slot,priority:2"`
	DayNumber       int       `gorm:"not null;uniqueIndex:idx_completion_slot,priority:3"`
	CompletedAt     time.Time `gorm:"not null;index"`
	XPAwarded       int64     `gorm:"column:xp_awarded;not null"`
	CurrencyAwarded int64     `gorm:"not null"`
	DurationSeconds int       `gorm:"not null"`
	PerfectForm     bool      `gorm:"not null;default:false"`
}

func (CompletionRow) TableName() string { return "completion_log" }

// AutoMigrate creates or updates the ledger tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&RecordRow{}, &CompletionRow{})
}

// GormStore is the relational progression store. Commits are a single
// transaction: the completion log entry is inserted and the record row is
// updated only where its version still matches.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open connection. Call AutoMigrate first.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the underlying connection for health checks.
func (s *GormStore) DB() *gorm.DB { return s.db }

func (s *GormStore) Load(ctx context.Context, userID string) (*progression.Record, error) {
	var row RecordRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, progression.ErrNotFound
		}
		return nil, fmt.Errorf("loading record: %w", err)
	}
	return row.toRecord()
}

func (s *GormStore) Create(ctx context.Context, rec *progression.Record) error {
	rec.Version = 1
	row, err := fromRecord(rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&RecordRow{}).Where("user_id = ?", rec.UserID).Count(&n).Error; err != nil {
			return fmt.Errorf("checking enrollment: %w", err)
		}
		if n > 0 {
			return progression.ErrAlreadyEnrolled
		}
		if err := tx.Create(row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return progression.ErrAlreadyEnrolled
			}
			return fmt.Errorf("creating record: %w", err)
		}
		return nil
	})
}

func (s *GormStore) Commit(ctx context.Context, rec *progression.Record, entry *progression.Completion) error {
	row, err := fromRecord(rec)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if entry != nil {
			var n int64
			err := tx.Model(&CompletionRow{}).
				Where("user_id = ? AND enrollment_ref = ? AND day_number = ?", entry.UserID, entry.EnrollmentRef, entry.DayNumber).
				Count(&n).Error
			if err != nil {
				return fmt.Errorf("checking completion log: %w", err)
			}
			if n > 0 {
				return progression.ErrAlreadyCompleted
			}
		}

		res := tx.Model(&RecordRow{}).
			Where("user_id = ? AND version = ?", rec.UserID, rec.Version).
			Updates(map[string]any{
				"total_xp":              row.TotalXP,
				"currency":              row.Currency,
				"current_streak":        row.CurrentStreak,
				"best_streak":           row.BestStreak,
				"streak_freezes":        row.StreakFreezes,
				"daily_xp_earned":       row.DailyXPEarned,
				"daily_currency_earned": row.DailyCurrencyEarned,
				"last_daily_reset_at":   row.LastDailyResetAt,
				"last_activity_at":      row.LastActivityAt,
				"repaired_at":           row.RepairedAt,
				"milestones":            row.Milestones,
				"version":               rec.Version + 1,
				"updated_at":            row.UpdatedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("updating record: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return progression.ErrConflict
		}

		if entry != nil {
			if err := tx.Create(fromCompletion(entry)).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return progression.ErrAlreadyCompleted
				}
				return fmt.Errorf("appending completion: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	rec.Version++
	return nil
}

func (s *GormStore) Completions(ctx context.Context, userID string) ([]progression.Completion, error) {
	var rows []CompletionRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("completed_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing completions: %w", err)
	}
	out := make([]progression.Completion, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toCompletion())
	}
	return out, nil
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func fromRecord(rec *progression.Record) (*RecordRow, error) {
	milestones := rec.Milestones
	if milestones == nil {
		milestones = map[string]time.Time{}
	}
	data, err := json.Marshal(milestones)
	if err != nil {
		return nil, fmt.Errorf("encoding milestones: %w", err)
	}
	return &RecordRow{
		UserID:              rec.UserID,
		TotalXP:             rec.TotalXP,
		Currency:            rec.Currency,
		CurrentStreak:       rec.CurrentStreak,
		BestStreak:          rec.BestStreak,
		StreakFreezes:       rec.StreakFreezes,
		DailyXPEarned:       rec.DailyXPEarned,
		DailyCurrencyEarned: rec.DailyCurrencyEarned,
		LastDailyResetAt:    timePtr(rec.LastDailyResetAt),
		LastActivityAt:      timePtr(rec.LastActivityAt),
		RepairedAt:          timePtr(rec.RepairedAt),
		Milestones:          string(data),
		Version:             rec.Version,
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
	}, nil
}

func (r *RecordRow) toRecord() (*progression.Record, error) {
	milestones := make(map[string]time.Time)
	if r.Milestones != "" {
		if err := json.Unmarshal([]byte(r.Milestones), &milestones); err != nil {
			return nil, fmt.Errorf("decoding milestones for %s: %w", r.UserID, err)
		}
	}
	return &progression.Record{
		UserID:              r.UserID,
		TotalXP:             r.TotalXP,
		Currency:            r.Currency,
		CurrentStreak:       r.CurrentStreak,
		BestStreak:          r.BestStreak,
		StreakFreezes:       r.StreakFreezes,
		DailyXPEarned:       r.DailyXPEarned,
		DailyCurrencyEarned: r.DailyCurrencyEarned,
		LastDailyResetAt:    timeVal(r.LastDailyResetAt),
		LastActivityAt:      timeVal(r.LastActivityAt),
		RepairedAt:          timeVal(r.RepairedAt),
		Milestones:          milestones,
		Version:             r.Version,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}, nil
}

func fromCompletion(c *progression.Completion) *CompletionRow {
	return &CompletionRow{
		ID:              c.ID,
		UserID:          c.UserID,
		EnrollmentRef:   c.EnrollmentRef,
		DayNumber:       c.DayNumber,
		CompletedAt:     c.CompletedAt,
		XPAwarded:       c.XPAwarded,
		CurrencyAwarded: c.CurrencyAwarded,
		DurationSeconds: c.DurationSeconds,
		PerfectForm:     c.PerfectForm,
	}
}

func (r CompletionRow) toCompletion() progression.Completion {
	return progression.Completion{
		ID:              r.ID,
		UserID:          r.UserID,
		EnrollmentRef:   r.EnrollmentRef,
		DayNumber:       r.DayNumber,
		CompletedAt:     r.CompletedAt,
		XPAwarded:       r.XPAwarded,
		CurrencyAwarded: r.CurrencyAwarded,
		DurationSeconds: r.DurationSeconds,
		PerfectForm:     r.PerfectForm,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
