package domain

import "encoding/json"

// Control message type tags the broker recognizes or originates.
const (
	TypeStatusUpdate = "status_update"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeUnpair       = "unpair"
)

type Status string

const (
	StatusWaiting      Status = "waiting"
	StatusPaired       Status = "paired"
	StatusDisconnected Status = "disconnected"
)

// ControlMessage is the closed set of messages the broker originates itself.
type ControlMessage interface {
	ControlType() string
}

// PeerInfo names the partner by the type it announced.
type PeerInfo struct {
	ID   ClientID `json:"id"`
	Type string   `json:"type"`
}

type StatusUpdate struct {
	Status     Status    `json:"status"`
	ClientID   ClientID  `json:"client_id,omitempty"`
	Message    string    `json:"message"`
	PairedWith *PeerInfo `json:"paired_with,omitempty"`
}

func (StatusUpdate) ControlType() string { return TypeStatusUpdate }

func (s StatusUpdate) MarshalJSON() ([]byte, error) {
	type alias StatusUpdate
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeStatusUpdate, alias(s)})
}

// Ping carries the send time in milliseconds since the Unix epoch.
type Ping struct {
	Timestamp float64 `json:"timestamp"`
}

func (Ping) ControlType() string { return TypePing }

func (p Ping) MarshalJSON() ([]byte, error) {
	type alias Ping
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypePing, alias(p)})
}

// PairingEventType names lifecycle events published to external observers.
type PairingEventType string

const (
	EventClientConnected    PairingEventType = "client.connected"
	EventClientDisconnected PairingEventType = "client.disconnected"
	EventPairFormed         PairingEventType = "pair.formed"
	EventPairBroken         PairingEventType = "pair.broken"
)

type PairingEvent struct {
	Type     PairingEventType `json:"type"`
	ClientID ClientID         `json:"client_id"`
	PeerID   ClientID         `json:"peer_id,omitempty"`
	Role     Role             `json:"role,omitempty"`
	Reason   string           `json:"reason,omitempty"`
}
