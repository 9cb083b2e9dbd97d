package ports

import (
	"time"

	"coordinator/internal/core/domain"
)

// ClientHandle is one live connection as seen by the registry, the relay
// engine, the health monitor and the admin surface.
type ClientHandle interface {
	ID() domain.ClientID
	Role() domain.Role
	// Tag is the client type as announced, which may be an alias of Role.
	// Messages addressed to clients use it.
	Tag() string
	RemoteAddr() string
	ConnectedAt() time.Time

	// SetPairing mirrors registry state onto the handle. Only the registry
	// calls it, while holding its own lock.
	SetPairing(state domain.PairState, peer domain.ClientID)

	// RecordInbound counts and logs a message received on this connection.
	RecordInbound(entry domain.MessageLogEntry)
	// Deliver enqueues msg unmodified on the outbound queue, counts it and
	// logs it. It reports false when the connection is already closed.
	Deliver(msg domain.Message, entry domain.MessageLogEntry) bool
	SendControl(msg domain.ControlMessage) bool

	Ping(at time.Time) bool
	LastAlive() time.Time
	Close(code int, reason string)

	Stats() domain.ClientStats
	MessageLog() []domain.MessageLogEntry
}

// Registry is the single source of truth for live connections and their
// pairing relationships. All mutations are linearizable.
type Registry interface {
	Register(h ClientHandle) (domain.RegisterResult, error)
	Unregister(id domain.ClientID) domain.UnregisterResult
	ForcePair(a, b domain.ClientID) (domain.ForcePairResult, error)
	Unpair(id domain.ClientID) (domain.UnpairResult, error)
	LookupPeer(id domain.ClientID) (domain.ClientID, bool)
	PeerOf(id domain.ClientID) (ClientHandle, bool)
	Get(id domain.ClientID) (ClientHandle, bool)
	Handles() []ClientHandle
	Candidates(id domain.ClientID) ([]domain.ClientID, error)
	Snapshot() []domain.ConnectionSummary
	Summary(id domain.ClientID) (domain.ConnectionSummary, error)
	Verify() error
	Len() int
}
