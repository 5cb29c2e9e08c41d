package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/tbourn/bot-dispatch/internal/connpool"
	"github.com/tbourn/bot-dispatch/internal/queue"
)

var _ connpool.Observer = (*DispatchMetrics)(nil)

func TestDispatchMetrics_RecordsPoolEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDispatchMetrics(reg, zerolog.Nop())

	m.JobFinished(queue.OutcomeDone, 20*time.Millisecond)
	m.JobFinished(queue.OutcomeTransient, time.Second)
	m.JobFinished(queue.OutcomeTransient, time.Second)
	m.JobRetried(1)
	m.JobDeadLettered()
	m.StaleRequeued(3)

	if got := testutil.ToFloat64(m.jobsTotal.WithLabelValues("transient")); got != 2 {
		t.Fatalf("transient=%v", got)
	}
	if got := testutil.ToFloat64(m.jobsTotal.WithLabelValues("done")); got != 1 {
		t.Fatalf("done=%v", got)
	}
	if got := testutil.ToFloat64(m.retriesTotal.WithLabelValues("1")); got != 1 {
		t.Fatalf("retries=%v", got)
	}
	if testutil.ToFloat64(m.deadTotal) != 1 || testutil.ToFloat64(m.staleRequeued) != 3 {
		t.Fatal("dead/stale counters wrong")
	}
	if n := testutil.CollectAndCount(m.jobDuration); n != 2 {
		t.Fatalf("duration series=%d, want 2", n)
	}
}

func TestDispatchMetrics_SessionsAndSweeper(t *testing.T) {
	m := NewDispatchMetrics(prometheus.NewRegistry(), zerolog.Nop())

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.LoginFailed()
	m.Swept(4, 1)

	if got := testutil.ToFloat64(m.sessionsActive); got != 1 {
		t.Fatalf("sessions=%v", got)
	}
	if testutil.ToFloat64(m.loginFailures) != 1 {
		t.Fatal("login failures wrong")
	}
	if testutil.ToFloat64(m.sweepRequeued) != 4 || testutil.ToFloat64(m.sweepFailures) != 1 {
		t.Fatal("sweeper counters wrong")
	}
}

func TestDispatchMetrics_DuplicateRegistrationIsNotFatal(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewDispatchMetrics(reg, zerolog.Nop())
	m := NewDispatchMetrics(reg, zerolog.Nop())
	m.JobDeadLettered()
	if testutil.ToFloat64(m.deadTotal) != 1 {
		t.Fatal("second sink should still count locally")
	}
}

func TestDispatchMetrics_NilRegistry(t *testing.T) {
	m := NewDispatchMetrics(nil, zerolog.Nop())
	m.LoginFailed()
	if testutil.ToFloat64(m.loginFailures) != 1 {
		t.Fatal("unregistered sink should still count")
	}
}
