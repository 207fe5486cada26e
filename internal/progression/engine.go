package progression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxAttempts    = 8
	defaultInitialBackoff = 5 * time.Millisecond
	defaultMaxBackoff     = 250 * time.Millisecond

	tracerName = "github.com/yp-alpha/progression/internal/progression"
)

// Store persists progression records and the completion log.
//
// Commit must be atomic: the record update and the optional log entry are
// applied together or not at all. It must only succeed when the stored
// record's Version equals rec.Version, and must then increment rec.Version.
// A version mismatch returns ErrConflict. An entry whose program day is
// already logged returns ErrAlreadyCompleted. Create returns
// ErrAlreadyEnrolled when the athlete exists and Load returns ErrNotFound
// when it does not.
type Store interface {
	Load(ctx context.Context, userID string) (*Record, error)
	Create(ctx context.Context, rec *Record) error
	Commit(ctx context.Context, rec *Record, entry *Completion) error
	Completions(ctx context.Context, userID string) ([]Completion, error)
}

// Engine is the reward transaction processor. Every mutating operation is
// one optimistic read-modify-write against a single athlete's record.
// Engine is safe for concurrent use.
type Engine struct {
	store    Store
	tables   *Tables
	loc      *time.Location
	now      func() time.Time
	log      *slog.Logger
	obs      Observer
	pub      Publisher
	tracer   trace.Tracer
	validate *validator.Validate

	maxAttempts    uint64
	initialBackoff time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the time zone calendar days are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithObserver installs a metrics observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.obs = o
		}
	}
}

// WithPublisher installs the sink for committed progression events.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.pub = p }
}

// WithRetry bounds the retry-on-conflict loop.
func WithRetry(maxAttempts int, initial time.Duration) Option {
	return func(e *Engine) {
		if maxAttempts > 0 {
			e.maxAttempts = uint64(maxAttempts)
		}
		if initial > 0 {
			e.initialBackoff = initial
		}
	}
}

// NewEngine creates an Engine over store using tables.
func NewEngine(store Store, tables *Tables, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("progression: store is required")
	}
	if tables == nil {
		tables = DefaultTables()
	}
	if err := tables.Validate(); err != nil {
		return nil, fmt.Errorf("progression: invalid tables: %w", err)
	}
	e := &Engine{
		store:          store,
		tables:         tables,
		loc:            time.UTC,
		now:            time.Now,
		log:            slog.Default(),
		obs:            nopObserver{},
		tracer:         otel.Tracer(tracerName),
		validate:       validator.New(),
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Tables returns the economy the engine runs with.
func (e *Engine) Tables() *Tables { return e.tables }

// mutation edits a private copy of the record. It may be invoked several
// times for one call when commits conflict, so it must derive everything
// it reports from rec and now alone. The returned entry, if any, is
// appended to the completion log in the same commit.
type mutation func(rec *Record, now time.Time) (*Completion, error)

// update runs fn inside a compare-and-swap loop until a commit succeeds,
// fn rejects, or the retry budget is spent. Accepted work is never
// abandoned because the caller went away, so the store sees a context
// that cannot be cancelled.
func (e *Engine) update(ctx context.Context, op, userID string, fn mutation) (*Record, error) {
	ctx = context.WithoutCancel(ctx)

	var committed *Record
	attempt := 0
	operation := func() error {
		attempt++
		cur, err := e.store.Load(ctx, userID)
		if err != nil {
			return backoff.Permanent(err)
		}
		next := cur.Clone()
		now := e.now()
		entry, err := fn(next, now)
		if err != nil {
			return backoff.Permanent(err)
		}
		next.UpdatedAt = now
		if err := e.store.Commit(ctx, next, entry); err != nil {
			if errors.Is(err, ErrConflict) {
				e.obs.Conflict(op)
				e.log.Debug("progression write conflict, retrying",
					"op", op, "user", userID, "attempt", attempt)
				return err
			}
			return backoff.Permanent(err)
		}
		committed = next
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithMaxRetries(e.newBackoff(), e.maxAttempts-1)); err != nil {
		if errors.Is(err, ErrConflict) {
			e.log.Warn("progression retry budget exhausted",
				"op", op, "user", userID, "attempts", attempt)
		}
		return nil, err
	}
	return committed, nil
}

func (e *Engine) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.initialBackoff
	b.MaxInterval = defaultMaxBackoff
	b.MaxElapsedTime = 0
	return b
}

// begin opens a span and returns the function that closes it and records
// the outcome.
func (e *Engine) begin(ctx context.Context, op, userID string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "progression."+op,
		trace.WithAttributes(attribute.String("progression.user", userID)))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if rej, ok := AsReject(err); ok {
				e.obs.Rejected(op, rej.Code)
				e.log.Debug("progression call rejected", "op", op, "user", userID, "reason", rej.Code)
			}
		}
		span.End()
		e.obs.Duration(op, time.Since(start), err)
	}
}

// position captures the values milestones are measured against.
func (e *Engine) position(rec *Record) Position {
	level := e.tables.Level(rec.TotalXP)
	return Position{
		Streak: rec.CurrentStreak,
		Level:  level,
		Rank:   e.tables.Rank(level, rec.BestStreak),
	}
}

// fireMilestones grants every milestone crossed since from that the athlete
// does not hold yet. Milestone XP can itself cross a level, so detection
// repeats from the last position until nothing new fires.
func (e *Engine) fireMilestones(rec *Record, from Position, now time.Time, g *grants) []MilestoneAward {
	var awards []MilestoneAward
	for {
		to := e.position(rec)
		fired := false
		for _, m := range e.tables.DetectMilestones(from, to) {
			if rec.HasMilestone(m.Key) {
				continue
			}
			rec.grantMilestone(m.Key, now)
			awards = append(awards, MilestoneAward{
				Milestone:       m,
				XPGranted:       g.grant(KindXP, m.XP),
				CurrencyGranted: g.grant(KindCurrency, m.Currency),
			})
			fired = true
		}
		if !fired {
			return awards
		}
		from = to
	}
}

func (e *Engine) publish(userID string, at time.Time, typ EventType, data any) {
	if e.pub == nil {
		return
	}
	e.pub.Publish(Event{Type: typ, UserID: userID, At: at, Data: data})
}

// grants applies capped awards to one record and remembers totals and the
// reason for any clipping.
type grants struct {
	xp, currency *Counter
	xpTotal      int64
	curTotal     int64
	xpAsked      int64
	curAsked     int64
	reasons      []string
}

func (e *Engine) grantsFor(rec *Record) *grants {
	return &grants{
		xp:       rec.counter(KindXP, e.tables.Caps),
		currency: rec.counter(KindCurrency, e.tables.Caps),
	}
}

func (g *grants) grant(kind Kind, requested int64) int64 {
	if requested <= 0 {
		return 0
	}
	c, sum, asked := g.xp, &g.xpTotal, &g.xpAsked
	if kind == KindCurrency {
		c, sum, asked = g.currency, &g.curTotal, &g.curAsked
	}
	granted := c.Grant(requested)
	*sum += granted
	*asked += requested
	if reason := c.capReason(requested, granted); reason != "" {
		g.note(reason)
	}
	return granted
}

// report forwards the totals to the observer once the write committed.
func (g *grants) report(obs Observer) {
	if g.xpAsked > 0 {
		obs.Granted(KindXP, g.xpAsked, g.xpTotal)
	}
	if g.curAsked > 0 {
		obs.Granted(KindCurrency, g.curAsked, g.curTotal)
	}
}

func (g *grants) note(reason string) {
	for _, r := range g.reasons {
		if r == reason {
			return
		}
	}
	g.reasons = append(g.reasons, reason)
}

func (g *grants) capReason() string {
	switch len(g.reasons) {
	case 0:
		return ""
	case 1:
		return g.reasons[0]
	default:
		return g.reasons[0] + "; " + g.reasons[1]
	}
}
