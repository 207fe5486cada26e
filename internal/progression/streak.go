package progression

import "time"

// repairCreditTTL is how long a purchased repair stays redeemable.
const repairCreditTTL = 24 * time.Hour

// StreakState is the input and output of the streak transition.
type StreakState struct {
	Current  int
	Best     int
	Freezes  int
	Repaired time.Time // zero when no repair credit is held
}

// StreakTransition describes what a session did to the streak.
type StreakTransition struct {
	Old        int
	Next       StreakState
	Days       int  // calendar days since the last counted session; -1 for the first one
	Continued  bool // streak grew by one
	FreezeUsed bool
	RepairUsed bool
	Broken     bool
}

// AdvanceStreak computes the streak after a session completed at now.
// lastActivity is the zero time for an athlete who never completed one.
//
//	0 days         unchanged (same-day repeat)
//	1 day          +1
//	2+ days        +1 if a live repair credit is held (credit consumed)
//	2 days         +1 if a freeze is held (freeze consumed)
//	otherwise      reset to 1
//
// Best is raised to Current in every case.
func AdvanceStreak(st StreakState, lastActivity, now time.Time, loc *time.Location) StreakTransition {
	tr := StreakTransition{Old: st.Current, Next: st, Days: -1}
	next := &tr.Next

	// A credit is only good for the session right after the purchase.
	creditLive := !st.Repaired.IsZero() && now.Sub(st.Repaired) <= repairCreditTTL

	switch {
	case lastActivity.IsZero():
		next.Current = 1
		tr.Continued = true
	default:
		tr.Days = calendarDays(lastActivity, now, loc)
		switch {
		case tr.Days <= 0:
			// Already counted today.
		case tr.Days == 1:
			next.Current++
			tr.Continued = true
		case creditLive:
			next.Current++
			tr.Continued = true
			tr.RepairUsed = true
		case tr.Days == 2 && st.Freezes > 0:
			next.Current++
			next.Freezes--
			tr.Continued = true
			tr.FreezeUsed = true
		default:
			next.Current = 1
			tr.Broken = true
		}
	}

	// Any counted day spends or forfeits the credit; a lapsed one is dropped.
	if !creditLive || tr.Days != 0 {
		next.Repaired = time.Time{}
	}
	next.Best = max(next.Best, next.Current)
	return tr
}
