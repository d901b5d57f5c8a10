package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.IncrementAttempt("ticket", "ok")
	m.IncrementAttempt("ticket", "ok")
	m.IncrementAttempt("test", "failed")
	m.SetQueueDepth(3)
	m.SetActiveClients(2)
	m.IncrementRateLimited()
	m.ObserveCommand("list", time.Now())

	if got := testutil.ToFloat64(m.PrintAttempts.WithLabelValues("ticket", "ok")); got != 2 {
		t.Errorf("ticket/ok attempts = %v; want 2", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth); got != 3 {
		t.Errorf("queue depth = %v; want 3", got)
	}
	if got := testutil.ToFloat64(m.ActiveClients); got != 2 {
		t.Errorf("active clients = %v; want 2", got)
	}
	if got := testutil.ToFloat64(m.RateLimited); got != 1 {
		t.Errorf("rate limited = %v; want 1", got)
	}
	if got := testutil.CollectAndCount(m.CommandLatency); got != 1 {
		t.Errorf("command latency series = %d; want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncrementAttempt("ticket", "ok")
	m.ObserveCommand("print", time.Now())
	m.SetQueueDepth(1)
	m.SetActiveClients(1)
	m.IncrementRateLimited()
}
