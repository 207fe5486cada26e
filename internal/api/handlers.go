package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yp-alpha/progression/internal/progression"
)

const maxBodyBytes = 64 << 10

type sessionRequest struct {
	EnrollmentRef   string `json:"enrollmentRef" validate:"required,max=128"`
	DayNumber       int    `json:"dayNumber" validate:"gte=1"`
	DurationSeconds int    `json:"durationSeconds" validate:"gte=0"`
	PerfectForm     bool   `json:"perfectForm"`
}

// Non-positive amounts are left to the engine so they surface as
// invalid_amount rather than a body error.
type awardRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason" validate:"max=64"`
}

func userID(r *http.Request) string {
	return chi.URLParam(r, "userID")
}

// decode reads a JSON body into dst and runs its validate tags.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body required"
		}
		writeError(w, http.StatusBadRequest, "bad_request", msg)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", validationMessage(err))
		return false
	}
	return true
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	sum, err := s.ledger.Enroll(r.Context(), userID(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sum)
}

func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.ledger.CompleteSession(r.Context(), progression.SessionCompletion{
		UserID:          userID(r),
		EnrollmentRef:   req.EnrollmentRef,
		DayNumber:       req.DayNumber,
		DurationSeconds: req.DurationSeconds,
		PerfectForm:     req.PerfectForm,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAwardXP(w http.ResponseWriter, r *http.Request) {
	var req awardRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.ledger.AwardXP(r.Context(), userID(r), req.Amount, req.Reason)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAwardCurrency(w http.ResponseWriter, r *http.Request) {
	var req awardRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.ledger.AwardCurrency(r.Context(), userID(r), req.Amount, req.Reason)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePurchaseFreeze(w http.ResponseWriter, r *http.Request) {
	res, err := s.ledger.PurchaseStreakFreeze(r.Context(), userID(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRepairQuote(w http.ResponseWriter, r *http.Request) {
	cost, err := s.ledger.RepairQuote(r.Context(), userID(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"cost": cost})
}

func (s *Server) handleRepairStreak(w http.ResponseWriter, r *http.Request) {
	res, err := s.ledger.RepairStreak(r.Context(), userID(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.ledger.Summary(r.Context(), userID(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleDailyProgress(w http.ResponseWriter, r *http.Request) {
	dp, err := s.ledger.DailyProgress(r.Context(), userID(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.ledger.History(r.Context(), userID(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if hist == nil {
		hist = []progression.Completion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"completions": hist})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.CompletionStats(r.Context(), userID(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
