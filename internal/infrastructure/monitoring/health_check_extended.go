package monitoring

import (
	"context"
	"fmt"
	"time"

	"coordinator/internal/core/ports"
	"coordinator/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client redis.UniversalClient, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

// BreakerState is the part of a circuit breaker a readiness check needs.
type BreakerState interface {
	GetState() circuitbreaker.State
}

// AddBreakerCheck reports unhealthy while breaker is open, so readiness fails
// fast during an outage instead of waiting on a ping timeout.
func (h *HealthChecker) AddBreakerCheck(name string, breaker BreakerState, timeout time.Duration) {
	h.AddCheck(name, func(ctx context.Context) (bool, error) {
		if state := breaker.GetState(); state == circuitbreaker.StateOpen {
			return false, fmt.Errorf("circuit breaker %s", state)
		}
		return true, nil
	}, timeout)
}

// AddRegistryCheck reports unhealthy when the pairing registry fails its
// symmetry check.
func (h *HealthChecker) AddRegistryCheck(registry ports.Registry, timeout time.Duration) {
	h.AddCheck("pairing_registry", func(ctx context.Context) (bool, error) {
		if err := registry.Verify(); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	status := h.CheckAll(ctx)
	return status.Status == "healthy"
}
