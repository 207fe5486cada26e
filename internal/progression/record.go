package progression

import "time"

// Record is the mutable progression state of one athlete. It is created
// zeroed on enrollment and only changed through Engine operations.
type Record struct {
	UserID              string               `json:"userId"`
	TotalXP             int64                `json:"totalXp"`
	Currency            int64                `json:"currency"`
	CurrentStreak       int                  `json:"currentStreak"`
	BestStreak          int                  `json:"bestStreak"`
	StreakFreezes       int                  `json:"streakFreezes"`
	DailyXPEarned       int64                `json:"dailyXpEarned"`
	DailyCurrencyEarned int64                `json:"dailyCurrencyEarned"`
	LastDailyResetAt    time.Time            `json:"lastDailyResetAt"`
	LastActivityAt      time.Time            `json:"lastActivityAt"`
	RepairedAt          time.Time            `json:"repairedAt"`
	Milestones          map[string]time.Time `json:"milestones"`

	// Version is the compare-and-swap token. Stores only accept a commit
	// whose Version equals the stored one, and bump it on success.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewRecord returns the zeroed record created on first enrollment.
func NewRecord(userID string, now time.Time) *Record {
	return &Record{
		UserID:     userID,
		Milestones: make(map[string]time.Time),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Milestones = make(map[string]time.Time, len(r.Milestones))
	for k, v := range r.Milestones {
		cp.Milestones[k] = v
	}
	return &cp
}

// HasMilestone reports whether key has already been granted.
func (r *Record) HasMilestone(key string) bool {
	_, ok := r.Milestones[key]
	return ok
}

func (r *Record) grantMilestone(key string, now time.Time) {
	if r.Milestones == nil {
		r.Milestones = make(map[string]time.Time)
	}
	r.Milestones[key] = now
}

// rollDay zeroes the daily counters the first time it is called on a new
// calendar day. It is applied inside the same write as the award that
// triggered it.
func (r *Record) rollDay(now time.Time, loc *time.Location) bool {
	if !r.LastDailyResetAt.IsZero() && sameDay(r.LastDailyResetAt, now, loc) {
		return false
	}
	r.DailyXPEarned = 0
	r.DailyCurrencyEarned = 0
	r.LastDailyResetAt = now
	return true
}

// dailyView returns today's counters without mutating r.
func (r *Record) dailyView(now time.Time, loc *time.Location) (xp, currency int64) {
	if r.LastDailyResetAt.IsZero() || !sameDay(r.LastDailyResetAt, now, loc) {
		return 0, 0
	}
	return r.DailyXPEarned, r.DailyCurrencyEarned
}

// Completion is one entry of the append-only completion log.
type Completion struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	EnrollmentRef   string    `json:"enrollmentRef"`
	DayNumber       int       `json:"dayNumber"`
	CompletedAt     time.Time `json:"completedAt"`
	XPAwarded       int64     `json:"xpAwarded"`
	CurrencyAwarded int64     `json:"currencyAwarded"`
	DurationSeconds int       `json:"durationSeconds"`
	PerfectForm     bool      `json:"perfectForm"`
}

// SameSlot reports whether c records the same program day as other.
func (c *Completion) SameSlot(other *Completion) bool {
	return c.UserID == other.UserID && c.EnrollmentRef == other.EnrollmentRef && c.DayNumber == other.DayNumber
}

// calendarDays returns the number of whole calendar days from a to b in loc.
// Both instants are reduced to their local date first, so 23:59 to 00:01
// the next morning is one day.
func calendarDays(a, b time.Time, loc *time.Location) int {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	return calendarDays(a, b, loc) == 0
}
