package services

import (
	"context"
	"fmt"
	"sync"

	"coordinator/internal/core/domain"
	"coordinator/internal/core/ports"

	"go.uber.org/zap"
)

const forcePairDisplacedMessage = "Your paired client was paired with another client by the server"

// pairingService applies registry transitions and tells the affected clients
// about them. Status updates are queued while mu is held so every client sees
// them in the order the registry changed.
type pairingService struct {
	mu        sync.Mutex
	registry  ports.Registry
	metrics   ports.MetricsRecorder
	publisher ports.EventPublisher
	logger    *zap.SugaredLogger
}

func NewPairingService(
	registry ports.Registry,
	metrics ports.MetricsRecorder,
	publisher ports.EventPublisher,
	logger *zap.SugaredLogger,
) ports.PairingService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &pairingService{
		registry:  registry,
		metrics:   metrics,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *pairingService) Join(ctx context.Context, h ports.ClientHandle) (domain.RegisterResult, error) {
	var events []domain.PairingEvent

	s.mu.Lock()
	result, err := s.registry.Register(h)
	if err != nil {
		s.mu.Unlock()
		return result, err
	}

	h.SendControl(domain.StatusUpdate{
		Status:   domain.StatusWaiting,
		ClientID: h.ID(),
		Message:  fmt.Sprintf("Connected as %s. Waiting for a peer to connect...", h.Tag()),
	})
	events = append(events, domain.PairingEvent{
		Type:     domain.EventClientConnected,
		ClientID: h.ID(),
		Role:     h.Role(),
	})
	if result.State == domain.StatePaired {
		events = append(events, s.notifyPairedLocked(domain.Pair{A: h.ID(), B: result.Peer})...)
	}
	s.mu.Unlock()

	s.recordConnected(h.Role())
	s.logger.Infow("client registered", "client_id", h.ID(), "role", h.Role(), "state", result.State, "peer_id", result.Peer)
	s.publish(ctx, events)
	return result, nil
}

// Leave unregisters id. A former peer is told with reason and may be paired
// again straight away. It reports false when id was not registered.
func (s *pairingService) Leave(ctx context.Context, id domain.ClientID, reason string) bool {
	var events []domain.PairingEvent

	s.mu.Lock()
	result := s.registry.Unregister(id)
	if !result.Removed {
		s.mu.Unlock()
		return false
	}

	events = append(events, domain.PairingEvent{
		Type:     domain.EventClientDisconnected,
		ClientID: id,
		Role:     result.Role,
	})
	if result.FormerPeer != "" {
		s.sendStatus(result.FormerPeer, domain.StatusDisconnected, reason)
		events = append(events, domain.PairingEvent{
			Type:     domain.EventPairBroken,
			ClientID: result.FormerPeer,
			PeerID:   id,
			Reason:   "disconnect",
		})
	}
	for _, pair := range result.Pairs {
		events = append(events, s.notifyPairedLocked(pair)...)
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ClientDisconnected(result.Role)
		if result.FormerPeer != "" {
			s.metrics.PairBroken("disconnect")
		}
	}
	s.logger.Infow("client unregistered", "client_id", id, "role", result.Role, "former_peer", result.FormerPeer)
	s.publish(ctx, events)
	return true
}

func (s *pairingService) Unpair(ctx context.Context, id domain.ClientID, reason string) (domain.UnpairResult, error) {
	var events []domain.PairingEvent

	s.mu.Lock()
	result, err := s.registry.Unpair(id)
	if err != nil {
		s.mu.Unlock()
		return result, err
	}

	for _, side := range []domain.ClientID{id, result.FormerPeer} {
		s.sendStatus(side, domain.StatusWaiting, reason)
	}
	events = append(events, domain.PairingEvent{
		Type:     domain.EventPairBroken,
		ClientID: id,
		PeerID:   result.FormerPeer,
		Reason:   "unpair",
	})
	for _, pair := range result.Pairs {
		events = append(events, s.notifyPairedLocked(pair)...)
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.PairBroken("unpair")
	}
	s.logger.Infow("pair broken", "client_id", id, "peer_id", result.FormerPeer, "reason", reason)
	s.publish(ctx, events)
	return result, nil
}

func (s *pairingService) ForcePair(ctx context.Context, a, b domain.ClientID) (domain.ForcePairResult, error) {
	var events []domain.PairingEvent

	s.mu.Lock()
	result, err := s.registry.ForcePair(a, b)
	if err != nil || result.AlreadyPaired {
		s.mu.Unlock()
		return result, err
	}

	for _, displaced := range result.Displaced {
		s.sendStatus(displaced, domain.StatusWaiting, forcePairDisplacedMessage)
		events = append(events, domain.PairingEvent{
			Type:     domain.EventPairBroken,
			ClientID: displaced,
			Reason:   "force_pair",
		})
	}
	events = append(events, s.notifyPairedLocked(domain.Pair{A: a, B: b})...)
	for _, pair := range result.Pairs {
		events = append(events, s.notifyPairedLocked(pair)...)
	}
	s.mu.Unlock()

	if s.metrics != nil {
		for range result.Displaced {
			s.metrics.PairBroken("force_pair")
		}
	}
	s.logger.Infow("clients force-paired", "client_id", a, "peer_id", b, "displaced", result.Displaced)
	s.publish(ctx, events)
	return result, nil
}

// notifyPairedLocked tells both sides of a new pair who their peer is.
func (s *pairingService) notifyPairedLocked(pair domain.Pair) []domain.PairingEvent {
	ha, okA := s.registry.Get(pair.A)
	hb, okB := s.registry.Get(pair.B)
	if !okA || !okB {
		return nil
	}

	for _, side := range [][2]ports.ClientHandle{{ha, hb}, {hb, ha}} {
		self, peer := side[0], side[1]
		self.SendControl(domain.StatusUpdate{
			Status:     domain.StatusPaired,
			ClientID:   self.ID(),
			Message:    fmt.Sprintf("You are now paired with a %s client", peer.Tag()),
			PairedWith: &domain.PeerInfo{ID: peer.ID(), Type: peer.Tag()},
		})
	}
	if s.metrics != nil {
		s.metrics.PairFormed()
	}
	return []domain.PairingEvent{{
		Type:     domain.EventPairFormed,
		ClientID: pair.A,
		PeerID:   pair.B,
	}}
}

func (s *pairingService) sendStatus(id domain.ClientID, status domain.Status, message string) {
	h, ok := s.registry.Get(id)
	if !ok {
		return
	}
	h.SendControl(domain.StatusUpdate{Status: status, ClientID: id, Message: message})
}

func (s *pairingService) recordConnected(role domain.Role) {
	if s.metrics != nil {
		s.metrics.ClientConnected(role)
	}
}

func (s *pairingService) publish(ctx context.Context, events []domain.PairingEvent) {
	if s.publisher == nil {
		return
	}
	for _, event := range events {
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warnw("failed to publish pairing event", "type", event.Type, "client_id", event.ClientID, "error", err)
		}
	}
}
