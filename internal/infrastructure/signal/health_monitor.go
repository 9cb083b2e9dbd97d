package signal

import (
	"context"
	"time"

	"coordinator/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const reapedPeerMessage = "The paired client stopped responding"

// HealthMonitor pings every registered client on a fixed interval and reaps
// clients that have not answered a ping within the pong timeout. Application
// traffic does not count as liveness.
type HealthMonitor struct {
	registry    ports.Registry
	pairing     ports.PairingService
	metrics     ports.MetricsRecorder
	interval    time.Duration
	pongTimeout time.Duration
	now         func() time.Time
	logger      *zap.SugaredLogger
}

func NewHealthMonitor(
	registry ports.Registry,
	pairing ports.PairingService,
	metrics ports.MetricsRecorder,
	interval, pongTimeout time.Duration,
	logger *zap.SugaredLogger,
) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if pongTimeout <= 0 {
		pongTimeout = 3 * interval
	}
	return &HealthMonitor{
		registry:    registry,
		pairing:     pairing,
		metrics:     metrics,
		interval:    interval,
		pongTimeout: pongTimeout,
		now:         time.Now,
		logger:      logger,
	}
}

// Run ticks until ctx is cancelled.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Infow("health monitor started", "interval", m.interval, "pong_timeout", m.pongTimeout)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one ping/reap cycle and returns the number of reaped clients.
func (m *HealthMonitor) Tick(ctx context.Context) int {
	now := m.now()
	reaped := 0

	for _, h := range m.registry.Handles() {
		silent := now.Sub(h.LastAlive())
		if silent > m.pongTimeout {
			m.logger.Warnw("client unresponsive, closing",
				"client_id", h.ID(),
				"role", h.Role(),
				"silent_for", silent,
			)
			h.Close(websocket.CloseGoingAway, "Ping timeout")
			m.pairing.Leave(ctx, h.ID(), reapedPeerMessage)
			if m.metrics != nil {
				m.metrics.ClientReaped()
			}
			reaped++
			continue
		}
		if !h.Ping(now) {
			m.logger.Debugw("ping not queued, connection closing", "client_id", h.ID())
		}
	}
	return reaped
}
