package signal

import (
	"time"

	"coordinator/internal/core/domain"
	"coordinator/internal/core/ports"
	"coordinator/internal/infrastructure/codec"

	"go.uber.org/zap"
)

type DropReason string

const (
	DropUnpaired    DropReason = "unpaired"
	DropPeerClosed  DropReason = "peer_closed"
	DropRateLimited DropReason = "rate_limited"
)

// Relay forwards messages between paired clients without touching payload
// bytes. Messages from a client without a peer are dropped, never buffered.
// Every inbound message is counted and logged on its source exactly once,
// whether it is forwarded, dropped or consumed by the broker.
type Relay struct {
	registry      ports.Registry
	metrics       ports.MetricsRecorder
	previewLength int
	logger        *zap.SugaredLogger
}

func NewRelay(registry ports.Registry, metrics ports.MetricsRecorder, previewLength int, logger *zap.SugaredLogger) *Relay {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Relay{
		registry:      registry,
		metrics:       metrics,
		previewLength: previewLength,
		logger:        logger,
	}
}

// Forward enqueues msg on src's peer and records it on src. typeTag is the
// text type field, used only for the log entries.
func (r *Relay) Forward(src ports.ClientHandle, msg domain.Message, typeTag string) (delivered bool, reason DropReason) {
	in := r.entry(msg, typeTag, domain.DirectionIn, time.Now())

	peer, ok := r.registry.PeerOf(src.ID())
	if !ok {
		r.Reject(src, msg, typeTag, DropUnpaired)
		return false, DropUnpaired
	}

	out := in
	out.Direction = domain.DirectionOut
	if !peer.Deliver(msg, out) {
		r.Reject(src, msg, typeTag, DropPeerClosed)
		return false, DropPeerClosed
	}

	src.RecordInbound(in)
	if r.metrics != nil {
		r.metrics.MessageRelayed(msg.Kind, len(msg.Data))
	}
	return true, ""
}

// Record counts and logs a message the broker handles itself, such as a
// pong or an unpair request.
func (r *Relay) Record(src ports.ClientHandle, msg domain.Message, typeTag string) {
	src.RecordInbound(r.entry(msg, typeTag, domain.DirectionIn, time.Now()))
}

// Reject counts and logs msg on src as dropped for reason.
func (r *Relay) Reject(src ports.ClientHandle, msg domain.Message, typeTag string, reason DropReason) {
	in := r.entry(msg, typeTag, domain.DirectionIn, time.Now())
	in.Dropped = string(reason)
	src.RecordInbound(in)

	if r.metrics != nil {
		r.metrics.MessageDropped(string(reason))
	}
	r.logger.Debugw("message dropped",
		"client_id", src.ID(),
		"kind", msg.Kind,
		"type", typeTag,
		"size", len(msg.Data),
		"reason", reason,
	)
}

func (r *Relay) entry(msg domain.Message, typeTag string, dir domain.Direction, now time.Time) domain.MessageLogEntry {
	content, data := codec.Preview(msg, r.previewLength)
	return domain.MessageLogEntry{
		Timestamp: now,
		Direction: dir,
		Kind:      msg.Kind,
		Type:      typeTag,
		Content:   content,
		Data:      data,
	}
}
