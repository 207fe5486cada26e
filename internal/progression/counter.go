package progression

// Clip returns how much of requested fits under dailyCap given what has
// already been earned today. It never returns a negative amount.
func Clip(requested, earnedToday, dailyCap int64) int64 {
	if requested <= 0 {
		return 0
	}
	return min(requested, max(0, dailyCap-earnedToday))
}

// Kind names the reward a Counter tracks.
type Kind string

const (
	KindXP       Kind = "xp"
	KindCurrency Kind = "currency"
)

// Counter is a capped earning counter bound to one pair of record fields:
// the running total and today's earnings. XP and currency are both
// instances of it.
type Counter struct {
	Kind  Kind
	Cap   int64
	total *int64
	today *int64
}

func (r *Record) counter(kind Kind, caps Caps) *Counter {
	switch kind {
	case KindCurrency:
		return &Counter{Kind: kind, Cap: caps.Currency, total: &r.Currency, today: &r.DailyCurrencyEarned}
	default:
		return &Counter{Kind: KindXP, Cap: caps.XP, total: &r.TotalXP, today: &r.DailyXPEarned}
	}
}

// Grant adds as much of requested as today's headroom allows and returns the
// amount actually applied.
func (c *Counter) Grant(requested int64) int64 {
	granted := Clip(requested, *c.today, c.Cap)
	*c.total += granted
	*c.today += granted
	return granted
}

// Remaining is today's headroom.
func (c *Counter) Remaining() int64 {
	return max(0, c.Cap-*c.today)
}

// Total is the current balance.
func (c *Counter) Total() int64 { return *c.total }

// capReason describes why a grant came out smaller than requested, or ""
// if it did not.
func (c *Counter) capReason(requested, granted int64) string {
	if granted >= requested {
		return ""
	}
	if c.Kind == KindCurrency {
		return "Daily currency cap reached"
	}
	return "Daily XP cap reached"
}
