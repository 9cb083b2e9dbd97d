package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"coordinator/internal/core/domain"
	"coordinator/internal/core/ports"
	"coordinator/pkg/circuitbreaker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusCollector(reg)

	p.ClientConnected(domain.RoleWearable)
	p.ClientConnected(domain.RoleRobot)
	p.ClientDisconnected(domain.RoleRobot)
	p.PairFormed()
	p.PairFormed()
	p.PairBroken("unpair")
	p.MessageRelayed(domain.KindBytes, 9)
	p.MessageRelayed(domain.KindBytes, 1)
	p.MessageDropped("unpaired")
	p.DecodeError(domain.KindText)
	p.ClientReaped()
	p.AdminAction("close", "ok")
	p.LatencyObserved(20 * time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.clientsConnected.WithLabelValues("wearable")))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.clientsConnected.WithLabelValues("robot")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.connectionsTotal.WithLabelValues("robot")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.pairsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.pairsFormedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.pairsBrokenTotal.WithLabelValues("unpair")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.messagesRelayed.WithLabelValues("bytes")))
	assert.Equal(t, 10.0, testutil.ToFloat64(p.bytesRelayed.WithLabelValues("bytes")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.messagesDropped.WithLabelValues("unpaired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.decodeErrorsTotal.WithLabelValues("text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.clientsReaped))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.adminActions.WithLabelValues("close", "ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(p.pingLatency))
}

func TestPrometheusCollector_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPrometheusCollector(prometheus.NewRegistry())
		NewPrometheusCollector(prometheus.NewRegistry())
	})
}

type verifyStub struct {
	ports.Registry
	err error
}

func (v verifyStub) Verify() error { return v.err }

func TestHealthChecker_CheckAll(t *testing.T) {
	h := NewHealthChecker()
	h.AddRegistryCheck(verifyStub{}, time.Second)
	h.AddCheck("always", func(ctx context.Context) (bool, error) { return true, nil }, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["pairing_registry"])
	assert.True(t, h.IsReady(context.Background()))
}

func TestHealthChecker_FailingChecks(t *testing.T) {
	h := NewHealthChecker()
	h.AddRegistryCheck(verifyStub{err: errors.New("a -> b is not symmetric")}, time.Second)
	h.AddCheck("flag", func(ctx context.Context) (bool, error) { return false, nil }, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "a -> b is not symmetric", status.Checks["pairing_registry"])
	assert.Equal(t, "check failed", status.Checks["flag"])
	assert.False(t, h.IsReady(context.Background()))
}

func TestHealthChecker_CheckTimeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
}

func TestHealthChecker_BreakerCheck(t *testing.T) {
	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold:    1,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		MaxRequestsHalfOpen: 1,
	})
	h := NewHealthChecker()
	h.AddBreakerCheck("event_bus", breaker, time.Second)
	assert.True(t, h.IsReady(context.Background()))

	_ = breaker.Execute(context.Background(), func() error { return errors.New("redis down") })

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "circuit breaker open", status.Checks["event_bus"])
}
