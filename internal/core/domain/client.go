package domain

import "time"

type ClientID string

// Role is the client-kind tag a connection declares right after connecting.
type Role string

const (
	RoleWearable Role = "wearable"
	RoleRobot    Role = "robot"
)

type PairState string

const (
	StateUnclassified PairState = "unclassified"
	StateUnpaired     PairState = "unpaired"
	StateWaiting      PairState = "waiting"
	StatePaired       PairState = "paired"
)

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindBytes MessageKind = "bytes"
)

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Message is one inbound or outbound transport frame. Data is never mutated
// once a Message is built.
type Message struct {
	Kind MessageKind
	Data []byte
}

// MessageLogEntry is one record in a connection's bounded message log.
// Content holds a truncated preview for text; Data holds raw bytes for binary.
type MessageLogEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Direction Direction   `json:"direction"`
	Kind      MessageKind `json:"kind"`
	Type      string      `json:"type,omitempty"`
	Content   string      `json:"content,omitempty"`
	Data      []byte      `json:"data,omitempty"`
	// Dropped names why an inbound message was not forwarded, if it wasn't.
	Dropped   string      `json:"dropped,omitempty"`
}

type ClientStats struct {
	MessagesReceived uint64
	MessagesSent     uint64
	QueueDropped     uint64
	AvgLatency       time.Duration
	LatencySamples   int
}

// ConnectionSummary is the read-only view of one connection used by the dashboard.
type ConnectionSummary struct {
	ID               ClientID  `json:"id"`
	Role             Role      `json:"type"`
	RemoteAddr       string    `json:"remote_addr"`
	ConnectedAt      time.Time `json:"connected_at"`
	State            PairState `json:"state"`
	PairedWith       ClientID  `json:"paired_with,omitempty"`
	PairedWithRole   Role      `json:"paired_with_type,omitempty"`
	MessagesReceived uint64    `json:"messages_received"`
	MessagesSent     uint64    `json:"messages_sent"`
	QueueDropped     uint64    `json:"queue_dropped"`
	AvgLatencyMs     *float64  `json:"avg_latency_ms"`
}

func (s ConnectionSummary) IsPaired() bool {
	return s.State == StatePaired
}

// Pair is an unordered association formed by the registry.
type Pair struct {
	A ClientID
	B ClientID
}

type RegisterResult struct {
	State PairState
	Peer  ClientID
}

type UnregisterResult struct {
	Removed    bool
	Role       Role
	FormerPeer ClientID
	// Pairs formed while re-matching the former peer.
	Pairs []Pair
}

type UnpairResult struct {
	FormerPeer ClientID
	Pairs      []Pair
}

type ForcePairResult struct {
	// AlreadyPaired is set when the two clients were already each other's peer.
	AlreadyPaired bool
	// Displaced are former partners of either side, now waiting.
	Displaced []ClientID
	// Pairs formed while re-matching displaced clients.
	Pairs []Pair
}
