// Package api serves the progression ledger over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/yp-alpha/progression/internal/progression"
)

// Ledger is the engine surface the handlers use.
type Ledger interface {
	Enroll(ctx context.Context, userID string) (*progression.Summary, error)
	CompleteSession(ctx context.Context, in progression.SessionCompletion) (*progression.RewardResult, error)
	AwardXP(ctx context.Context, userID string, amount int64, reason string) (*progression.XPAward, error)
	AwardCurrency(ctx context.Context, userID string, amount int64, reason string) (*progression.CurrencyAward, error)
	PurchaseStreakFreeze(ctx context.Context, userID string) (*progression.FreezePurchase, error)
	RepairStreak(ctx context.Context, userID string) (*progression.StreakRepair, error)
	RepairQuote(ctx context.Context, userID string) (int64, error)
	Summary(ctx context.Context, userID string) (*progression.Summary, error)
	DailyProgress(ctx context.Context, userID string) (*progression.DailyProgress, error)
	History(ctx context.Context, userID string) ([]progression.Completion, error)
	CompletionStats(ctx context.Context, userID string) (*progression.CompletionStats, error)
}

var _ Ledger = (*progression.Engine)(nil)

// Config captures the dependencies required to construct the server.
type Config struct {
	Ledger         Ledger
	Feed           http.Handler // mounted at /ws when set
	Metrics        http.Handler // mounted at /metrics when set
	Auth           *Authenticator
	RateLimit      float64 // requests per second per client; <= 0 disables
	RateBurst      int
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Server holds the HTTP router and its dependencies.
type Server struct {
	ledger   Ledger
	auth     *Authenticator
	limiter  *RateLimiter
	validate *validator.Validate
	log      *slog.Logger
	timeout  time.Duration

	router http.Handler
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Auth == nil {
		cfg.Auth = NewAuthenticator("", "")
	}
	s := &Server{
		ledger:   cfg.Ledger,
		auth:     cfg.Auth,
		validate: validator.New(),
		log:      cfg.Logger,
		timeout:  cfg.RequestTimeout,
	}
	if cfg.RateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	s.router = s.buildRouter(cfg.Feed, cfg.Metrics)
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func (s *Server) buildRouter(feed, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(chimw.Recoverer)
	r.Use(securityHeaders)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	if feed != nil {
		r.Handle("/ws", feed)
	}

	r.Route("/api/v1/athletes/{userID}", func(ar chi.Router) {
		if s.limiter != nil {
			ar.Use(s.limiter.Middleware)
		}
		ar.Use(s.auth.Middleware)
		if s.timeout > 0 {
			ar.Use(chimw.Timeout(s.timeout))
		}

		ar.Post("/enroll", s.handleEnroll)
		ar.Post("/sessions", s.handleCompleteSession)
		ar.Post("/xp", s.handleAwardXP)
		ar.Post("/currency", s.handleAwardCurrency)
		ar.Post("/streak-freeze", s.handlePurchaseFreeze)
		ar.Get("/streak-repair", s.handleRepairQuote)
		ar.Post("/streak-repair", s.handleRepairStreak)
		ar.Get("/summary", s.handleSummary)
		ar.Get("/daily", s.handleDailyProgress)
		ar.Get("/completions", s.handleHistory)
		ar.Get("/stats", s.handleStats)
	})

	return r
}
