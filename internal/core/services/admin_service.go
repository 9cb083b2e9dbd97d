package services

import (
	"context"
	"fmt"
	"time"

	"coordinator/internal/core/domain"
	"coordinator/internal/core/ports"
	"coordinator/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	closedByServerMessage     = "Connection closed by server"
	peerClosedByServerMessage = "The paired client was closed by the server"
	unpairedByServerMessage   = "Unpaired by server"
)

type adminService struct {
	registry ports.Registry
	pairing  ports.PairingService
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger
}

func NewAdminService(
	registry ports.Registry,
	pairing ports.PairingService,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) ports.AdminService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &adminService{
		registry: registry,
		pairing:  pairing,
		metrics:  metrics,
		logger:   logger,
	}
}

// Close tells the client it is being closed, closes its transport and runs the
// same unregister path as a client-initiated disconnect.
func (s *adminService) Close(ctx context.Context, id domain.ClientID) error {
	ctx, span := tracing.TraceAdminOperation(ctx, "close", string(id))
	defer span.End()
	defer tracing.MeasureDuration(ctx, time.Now(), "admin.close")

	h, ok := s.registry.Get(id)
	if !ok {
		err := fmt.Errorf("client %s: %w", id, domain.ErrClientNotFound)
		s.finish(ctx, "close", err)
		return err
	}

	h.SendControl(domain.StatusUpdate{
		Status:   domain.StatusDisconnected,
		ClientID: id,
		Message:  closedByServerMessage,
	})
	h.Close(websocket.CloseNormalClosure, closedByServerMessage)
	s.pairing.Leave(ctx, id, peerClosedByServerMessage)

	s.logger.Infow("connection closed by admin", "client_id", id)
	s.finish(ctx, "close", nil)
	return nil
}

func (s *adminService) ForcePair(ctx context.Context, a, b domain.ClientID) (domain.ForcePairResult, error) {
	ctx, span := tracing.TraceAdminOperation(ctx, "force_pair", string(a))
	defer span.End()
	defer tracing.MeasureDuration(ctx, time.Now(), "admin.force_pair")
	span.SetAttributes(tracing.PeerIDKey.String(string(b)))

	result, err := s.pairing.ForcePair(ctx, a, b)
	s.finish(ctx, "force_pair", err)
	return result, err
}

func (s *adminService) Unpair(ctx context.Context, id domain.ClientID) (domain.UnpairResult, error) {
	ctx, span := tracing.TraceAdminOperation(ctx, "unpair", string(id))
	defer span.End()
	defer tracing.MeasureDuration(ctx, time.Now(), "admin.unpair")

	result, err := s.pairing.Unpair(ctx, id, unpairedByServerMessage)
	s.finish(ctx, "unpair", err)
	return result, err
}

// Dashboard groups the registry snapshot into unpaired clients per role and
// paired clients, each listed once per pair.
func (s *adminService) Dashboard(ctx context.Context) ports.DashboardView {
	view := ports.DashboardView{Unpaired: make(map[domain.Role][]domain.ConnectionSummary)}

	seen := make(map[domain.ClientID]bool)
	for _, summary := range s.registry.Snapshot() {
		view.TotalCount++
		if !summary.IsPaired() {
			view.Unpaired[summary.Role] = append(view.Unpaired[summary.Role], summary)
			continue
		}
		if seen[summary.PairedWith] {
			continue
		}
		seen[summary.ID] = true
		view.Paired = append(view.Paired, summary)
	}
	return view
}

func (s *adminService) Details(ctx context.Context, id domain.ClientID) (*ports.ConnectionDetails, error) {
	summary, err := s.registry.Summary(id)
	if err != nil {
		return nil, err
	}
	h, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("client %s: %w", id, domain.ErrClientNotFound)
	}

	details := &ports.ConnectionDetails{
		Summary:          summary,
		MessageLog:       h.MessageLog(),
		AvailableClients: []domain.ConnectionSummary{},
	}

	candidates, err := s.registry.Candidates(id)
	if err != nil {
		return nil, err
	}
	for _, cid := range candidates {
		if c, err := s.registry.Summary(cid); err == nil {
			details.AvailableClients = append(details.AvailableClients, c)
		}
	}
	return details, nil
}

func (s *adminService) finish(ctx context.Context, action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		tracing.RecordError(ctx, err)
		s.logger.Warnw("admin action failed", "action", action, "error", err)
	} else {
		tracing.SetSpanStatus(ctx, codes.Ok, "")
	}
	if s.metrics != nil {
		s.metrics.AdminAction(action, outcome)
	}
}
