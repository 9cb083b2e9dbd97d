package ports

import (
	"context"
	"time"

	"coordinator/internal/core/domain"
)

type PairingService interface {
	Join(ctx context.Context, h ClientHandle) (domain.RegisterResult, error)
	Leave(ctx context.Context, id domain.ClientID, reason string) bool
	Unpair(ctx context.Context, id domain.ClientID, reason string) (domain.UnpairResult, error)
	ForcePair(ctx context.Context, a, b domain.ClientID) (domain.ForcePairResult, error)
}

type ConnectionDetails struct {
	Summary          domain.ConnectionSummary   `json:"client"`
	MessageLog       []domain.MessageLogEntry   `json:"message_log"`
	AvailableClients []domain.ConnectionSummary `json:"available_clients"`
}

type DashboardView struct {
	Unpaired   map[domain.Role][]domain.ConnectionSummary `json:"unpaired"`
	Paired     []domain.ConnectionSummary                 `json:"paired"`
	TotalCount int                                        `json:"total_count"`
}

type AdminService interface {
	Close(ctx context.Context, id domain.ClientID) error
	ForcePair(ctx context.Context, a, b domain.ClientID) (domain.ForcePairResult, error)
	Unpair(ctx context.Context, id domain.ClientID) (domain.UnpairResult, error)
	Dashboard(ctx context.Context) DashboardView
	Details(ctx context.Context, id domain.ClientID) (*ConnectionDetails, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event domain.PairingEvent) error
}

type MetricsRecorder interface {
	ClientConnected(role domain.Role)
	ClientDisconnected(role domain.Role)
	PairFormed()
	PairBroken(reason string)
	MessageRelayed(kind domain.MessageKind, size int)
	MessageDropped(reason string)
	DecodeError(kind domain.MessageKind)
	LatencyObserved(rtt time.Duration)
	ClientReaped()
	AdminAction(action, outcome string)
}
