package progression

import "errors"

// RejectError is returned when an operation is refused because of its
// input or the athlete's current state. A rejected call never changes the
// record. Compare with errors.Is against the sentinels below.
type RejectError struct {
	Code    string
	Message string
}

func (e *RejectError) Error() string { return e.Message }

func reject(code, msg string) *RejectError {
	return &RejectError{Code: code, Message: msg}
}

var (
	ErrSessionTooShort      = reject("session_too_short", "session too short to count")
	ErrAlreadyCompleted     = reject("already_completed", "program day already completed")
	ErrInsufficientCurrency = reject("insufficient_currency", "not enough currency")
	ErrFreezeLimit          = reject("freeze_limit", "already holding the maximum number of streak freezes")
	ErrStreakNotBroken      = reject("streak_not_broken", "streak is not broken yet")
	ErrRepairWindowExpired  = reject("repair_window_expired", "too late to repair streak")
	ErrRepairPending        = reject("repair_pending", "a streak repair is already waiting to be used")
	ErrNoStreak             = reject("no_streak", "no completed session to repair from")
	ErrInvalidAmount        = reject("invalid_amount", "amount must be positive")
	ErrAlreadyEnrolled      = reject("already_enrolled", "athlete already enrolled")
	ErrInvalidCompletion    = reject("invalid_completion", "invalid session completion")
	ErrInvalidUser          = reject("invalid_user", "user id must be 1 to 128 characters")
)

var (
	// ErrNotFound is returned for an unknown athlete. It is never retried.
	ErrNotFound = errors.New("progression record not found")

	// ErrConflict is returned by a Store when the record changed since it
	// was read. The engine retries it; callers only see it once the retry
	// budget is spent.
	ErrConflict = errors.New("progression record modified concurrently")
)

// AsReject extracts the RejectError from err, if any.
func AsReject(err error) (*RejectError, bool) {
	var rej *RejectError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
