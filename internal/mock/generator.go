// Package mock drives the progression engine with synthetic athletes.
package mock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/yp-alpha/progression/internal/progression"
)

// Ledger is the engine surface the simulator drives.
type Ledger interface {
	Enroll(ctx context.Context, userID string) (*progression.Summary, error)
	CompleteSession(ctx context.Context, in progression.SessionCompletion) (*progression.RewardResult, error)
	PurchaseStreakFreeze(ctx context.Context, userID string) (*progression.FreezePurchase, error)
	Summary(ctx context.Context, userID string) (*progression.Summary, error)
	Tables() *progression.Tables
}

// Athlete behaviours. Each is a different kind of pressure on the engine.
const (
	patternSteady    = "steady"    // one normal session per tick
	patternPerfect   = "perfect"   // always perfect form
	patternRetrier   = "retrier"   // submits every session twice at once
	patternRusher    = "rusher"    // every third session is too short
	patternSaver     = "saver"     // buys streak freezes when affordable
	tooShortDuration = 120
)

var roster = []string{patternSteady, patternPerfect, patternRetrier, patternRusher, patternSaver}

type mockAthlete struct {
	id      string
	ref     string
	pattern string
	day     int
	ticks   int
}

// plan is decided up front so the shared rng is never touched concurrently.
type plan struct {
	athlete   *mockAthlete
	duration  int
	perfect   bool
	duplicate bool
	buyFreeze bool
}

// Stats counts simulator outcomes.
type Stats struct {
	Completed  int64 `json:"completed"`
	Duplicates int64 `json:"duplicates"`
	Rejected   int64 `json:"rejected"`
	Freezes    int64 `json:"freezes"`
	Errors     int64 `json:"errors"`
}

type counters struct {
	completed, duplicates, rejected, freezes, errors atomic.Int64
}

type Generator struct {
	ledger   Ledger
	log      *slog.Logger
	tick     time.Duration
	limiter  *rate.Limiter
	athletes []*mockAthlete

	rngMu sync.Mutex
	rng   *rand.Rand

	stats counters
}

type Option func(*Generator)

// WithSeed makes session durations reproducible.
func WithSeed(seed int64) Option {
	return func(g *Generator) { g.rng = rand.New(rand.NewSource(seed)) }
}

// WithRate caps engine calls per second across all athletes.
func WithRate(perSecond float64, burst int) Option {
	return func(g *Generator) { g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.log = l
		}
	}
}

// NewGenerator creates n synthetic athletes that act every tick.
func NewGenerator(ledger Ledger, n int, tick time.Duration, opts ...Option) *Generator {
	if n <= 0 {
		n = len(roster)
	}
	if tick <= 0 {
		tick = 2 * time.Second
	}
	g := &Generator{
		ledger:  ledger,
		log:     slog.Default(),
		tick:    tick,
		limiter: rate.NewLimiter(rate.Inf, 1),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(g)
	}
	for i := 0; i < n; i++ {
		pattern := roster[i%len(roster)]
		g.athletes = append(g.athletes, &mockAthlete{
			id:      fmt.Sprintf("mock-%s-%02d", pattern, i+1),
			ref:     fmt.Sprintf("mock-program-%d", i%3+1),
			pattern: pattern,
		})
	}
	return g
}

// AthleteIDs lists the simulated athletes.
func (g *Generator) AthleteIDs() []string {
	ids := make([]string, len(g.athletes))
	for i, a := range g.athletes {
		ids[i] = a.id
	}
	return ids
}

// Start enrolls every athlete and then steps once per tick until ctx ends.
// Athletes left over from an earlier run keep their records.
func (g *Generator) Start(ctx context.Context) error {
	for _, a := range g.athletes {
		if _, err := g.ledger.Enroll(ctx, a.id); err != nil && !errors.Is(err, progression.ErrAlreadyEnrolled) {
			return fmt.Errorf("enroll %s: %w", a.id, err)
		}
	}
	g.log.Info("mock athletes enrolled", "count", len(g.athletes), "tick", g.tick)

	go g.run(ctx)
	return nil
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.Step(ctx); err != nil && ctx.Err() == nil {
				g.log.Warn("mock step failed", "error", err)
			}
		}
	}
}

// Step advances every athlete once, concurrently.
func (g *Generator) Step(ctx context.Context) error {
	plans := g.plan()

	eg, ctx := errgroup.WithContext(ctx)
	for _, p := range plans {
		p := p
		eg.Go(func() error { return g.advance(ctx, p) })
	}
	return eg.Wait()
}

func (g *Generator) plan() []plan {
	g.rngMu.Lock()
	defer g.rngMu.Unlock()

	plans := make([]plan, 0, len(g.athletes))
	for _, a := range g.athletes {
		a.ticks++
		p := plan{
			athlete:  a,
			duration: 900 + g.rng.Intn(2700),
			perfect:  g.rng.Intn(5) == 0,
		}
		switch a.pattern {
		case patternPerfect:
			p.perfect = true
		case patternRetrier:
			p.duplicate = true
		case patternRusher:
			if a.ticks%3 == 0 {
				p.duration = tooShortDuration
			}
		case patternSaver:
			p.buyFreeze = true
		}
		if p.duration >= g.ledger.Tables().MinSessionSeconds {
			a.day++
		}
		plans = append(plans, p)
	}
	return plans
}

func (g *Generator) advance(ctx context.Context, p plan) error {
	a := p.athlete
	day := a.day
	if day == 0 {
		day = 1
	}
	in := progression.SessionCompletion{
		UserID:          a.id,
		EnrollmentRef:   a.ref,
		DayNumber:       day,
		DurationSeconds: p.duration,
		PerfectForm:     p.perfect,
	}

	submissions := 1
	if p.duplicate {
		submissions = 2
	}
	var sub errgroup.Group
	for i := 0; i < submissions; i++ {
		sub.Go(func() error { return g.submit(ctx, in) })
	}
	if err := sub.Wait(); err != nil {
		return err
	}

	if p.buyFreeze {
		return g.maybeBuyFreeze(ctx, a.id)
	}
	return nil
}

func (g *Generator) submit(ctx context.Context, in progression.SessionCompletion) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	res, err := g.ledger.CompleteSession(ctx, in)
	switch {
	case err == nil:
		g.stats.completed.Add(1)
		if len(res.Milestones) > 0 {
			g.log.Debug("mock milestone", "user", in.UserID, "milestones", len(res.Milestones))
		}
		return nil
	case errors.Is(err, progression.ErrAlreadyCompleted):
		g.stats.duplicates.Add(1)
		return nil
	default:
		return g.outcome(in.UserID, err)
	}
}

func (g *Generator) maybeBuyFreeze(ctx context.Context, userID string) error {
	sum, err := g.ledger.Summary(ctx, userID)
	if err != nil {
		return g.outcome(userID, err)
	}
	t := g.ledger.Tables()
	if sum.Currency < t.Prices.StreakFreeze || sum.StreakFreezes >= t.MaxFreezes {
		return nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := g.ledger.PurchaseStreakFreeze(ctx, userID); err != nil {
		return g.outcome(userID, err)
	}
	g.stats.freezes.Add(1)
	return nil
}

// outcome counts an engine refusal as expected traffic and anything else as
// a failure worth surfacing.
func (g *Generator) outcome(userID string, err error) error {
	if _, ok := progression.AsReject(err); ok {
		g.stats.rejected.Add(1)
		return nil
	}
	g.stats.errors.Add(1)
	return fmt.Errorf("%s: %w", userID, err)
}

// Stats returns the outcome counters so far.
func (g *Generator) Stats() Stats {
	return Stats{
		Completed:  g.stats.completed.Load(),
		Duplicates: g.stats.duplicates.Load(),
		Rejected:   g.stats.rejected.Load(),
		Freezes:    g.stats.freezes.Load(),
		Errors:     g.stats.errors.Load(),
	}
}
