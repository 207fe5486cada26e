package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/yp-alpha/progression/internal/progression"
)

func TestGranted_CountsClips(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Granted(progression.KindXP, 100, 10)
	m.Granted(progression.KindXP, 50, 50)

	assert.Equal(t, 150.0, testutil.ToFloat64(m.requested.WithLabelValues("xp")))
	assert.Equal(t, 60.0, testutil.ToFloat64(m.granted.WithLabelValues("xp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.clipped.WithLabelValues("xp")))
}

func TestRejectedAndConflicts(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Rejected("complete_session", "session_too_short")
	m.Rejected("complete_session", "")
	m.Conflict("purchase_freeze")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("complete_session", "session_too_short")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("complete_session", "unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts.WithLabelValues("purchase_freeze")))
}

func TestDuration_Outcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Duration("award_xp", time.Millisecond, nil)
	m.Duration("award_xp", time.Millisecond, progression.ErrInvalidAmount)
	m.Duration("award_xp", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 3, testutil.CollectAndCount(m.latency))
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Progression
	assert.NotPanics(t, func() {
		m.SessionCompleted(nil)
		m.Rejected("op", "code")
		m.Granted(progression.KindCurrency, 1, 1)
		m.MilestoneFired(progression.Milestone{})
		m.Conflict("op")
		m.Duration("op", time.Second, nil)
		m.SetClients(3)
	})
}

func TestDefault_Singleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}
