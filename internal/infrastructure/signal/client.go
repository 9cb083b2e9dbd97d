package signal

import (
	"sync"
	"sync/atomic"
	"time"

	"coordinator/internal/core/domain"
	"coordinator/internal/core/ports"
	"coordinator/internal/infrastructure/codec"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConn is the subset of *websocket.Conn the write side needs.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type ClientOptions struct {
	SendQueueSize  int
	MessageLogSize int
	LatencyWindow  int
	WriteTimeout   time.Duration
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 256
	}
	if o.MessageLogSize <= 0 {
		o.MessageLogSize = 100
	}
	if o.LatencyWindow <= 0 {
		o.LatencyWindow = 50
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

// Client is the runtime state of one WebSocket connection: identity,
// counters, message log, latency window and a bounded outbound queue
// drained by writePump.
type Client struct {
	id          domain.ClientID
	remoteAddr  string
	connectedAt time.Time
	conn        wsConn
	opts        ClientOptions
	logger      *zap.SugaredLogger

	roleMu sync.RWMutex
	role   domain.Role
	tag    string

	pairMu sync.RWMutex
	state  domain.PairState
	peer   domain.ClientID

	enqueueMu sync.Mutex
	send      chan domain.Message

	done       chan struct{}
	closeOnce  sync.Once
	closeCode  int
	closeText  string
	pumpExited chan struct{}

	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	queueDropped     atomic.Uint64
	lastAlive        atomic.Int64

	log     *MessageLog
	latency *LatencyWindow
}

var _ ports.ClientHandle = (*Client)(nil)

func NewClient(id domain.ClientID, remoteAddr string, conn wsConn, opts ClientOptions, logger *zap.SugaredLogger) *Client {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	now := time.Now()
	c := &Client{
		id:          id,
		remoteAddr:  remoteAddr,
		connectedAt: now,
		conn:        conn,
		opts:        opts,
		logger:      logger.With("client_id", id),
		state:       domain.StateUnclassified,
		send:        make(chan domain.Message, opts.SendQueueSize),
		done:        make(chan struct{}),
		pumpExited:  make(chan struct{}),
		log:         NewMessageLog(opts.MessageLogSize),
		latency:     NewLatencyWindow(opts.LatencyWindow),
	}
	c.lastAlive.Store(now.UnixNano())
	return c
}

func (c *Client) ID() domain.ClientID    { return c.id }
func (c *Client) RemoteAddr() string     { return c.remoteAddr }
func (c *Client) ConnectedAt() time.Time { return c.connectedAt }

func (c *Client) Role() domain.Role {
	c.roleMu.RLock()
	defer c.roleMu.RUnlock()
	return c.role
}

// Tag is the client type as announced. It differs from Role when the client
// used an alias.
func (c *Client) Tag() string {
	c.roleMu.RLock()
	defer c.roleMu.RUnlock()
	if c.tag == "" {
		return string(c.role)
	}
	return c.tag
}

// DeclareRole sets the role and announced tag once. The connection moves from
// unclassified to unpaired.
func (c *Client) DeclareRole(role domain.Role, tag string) error {
	if role == "" {
		return domain.ErrInvalidRole
	}

	c.roleMu.Lock()
	defer c.roleMu.Unlock()
	if c.role != "" {
		return domain.ErrRoleAlreadyDeclared
	}
	c.role, c.tag = role, tag

	c.pairMu.Lock()
	c.state = domain.StateUnpaired
	c.pairMu.Unlock()
	return nil
}

func (c *Client) SetPairing(state domain.PairState, peer domain.ClientID) {
	c.pairMu.Lock()
	defer c.pairMu.Unlock()
	c.state, c.peer = state, peer
}

func (c *Client) Pairing() (domain.PairState, domain.ClientID) {
	c.pairMu.RLock()
	defer c.pairMu.RUnlock()
	return c.state, c.peer
}

func (c *Client) RecordInbound(entry domain.MessageLogEntry) {
	c.messagesReceived.Add(1)
	c.log.Append(entry)
}

func (c *Client) Deliver(msg domain.Message, entry domain.MessageLogEntry) bool {
	if !c.enqueue(msg) {
		return false
	}
	c.messagesSent.Add(1)
	c.log.Append(entry)
	return true
}

// SendControl queues a broker-originated message. Status updates are logged;
// pings are not.
func (c *Client) SendControl(msg domain.ControlMessage) bool {
	data, err := codec.EncodeControl(msg)
	if err != nil {
		c.logger.Errorw("failed to encode control message", "type", msg.ControlType(), "error", err)
		return false
	}
	if !c.enqueue(domain.Message{Kind: domain.KindText, Data: data}) {
		return false
	}
	if msg.ControlType() != domain.TypePing {
		c.log.Append(domain.MessageLogEntry{
			Timestamp: time.Now(),
			Direction: domain.DirectionOut,
			Kind:      domain.KindText,
			Type:      msg.ControlType(),
			Content:   string(data),
		})
	}
	return true
}

// enqueue never blocks. When the queue is full the oldest frame is dropped.
func (c *Client) enqueue(msg domain.Message) bool {
	c.enqueueMu.Lock()
	defer c.enqueueMu.Unlock()

	if c.Closed() {
		return false
	}
	for {
		select {
		case c.send <- msg:
			return true
		default:
		}
		select {
		case <-c.send:
			c.queueDropped.Add(1)
			c.logger.Debugw("send queue full, dropped oldest frame")
		default:
		}
	}
}

// Ping queues an application ping and writes a transport ping frame.
func (c *Client) Ping(at time.Time) bool {
	if !c.SendControl(domain.Ping{Timestamp: codec.Millis(at)}) {
		return false
	}
	err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout))
	if err != nil {
		c.logger.Debugw("transport ping failed", "error", err)
	}
	return true
}

// RecordPong folds the round trip of an echoed ping into the latency window.
func (c *Client) RecordPong(pingMillis float64, now time.Time) (time.Duration, bool) {
	c.Touch(now)
	rtt := now.Sub(codec.FromMillis(pingMillis))
	if rtt < 0 {
		return 0, false
	}
	c.latency.Add(rtt)
	return rtt, true
}

// Touch marks the connection alive. Only pongs count; application traffic
// does not.
func (c *Client) Touch(now time.Time) {
	c.lastAlive.Store(now.UnixNano())
}

func (c *Client) LastAlive() time.Time {
	return time.Unix(0, c.lastAlive.Load())
}

// Close stops the connection. Frames already queued are flushed before the
// close frame is written.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.enqueueMu.Lock()
		c.closeCode, c.closeText = code, reason
		close(c.done)
		c.enqueueMu.Unlock()
	})
}

func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Stats() domain.ClientStats {
	avg, n := c.latency.Average()
	return domain.ClientStats{
		MessagesReceived: c.messagesReceived.Load(),
		MessagesSent:     c.messagesSent.Load(),
		QueueDropped:     c.queueDropped.Load(),
		AvgLatency:       avg,
		LatencySamples:   n,
	}
}

func (c *Client) MessageLog() []domain.MessageLogEntry {
	return c.log.Entries()
}

// writePump is the only writer of data frames on the connection.
func (c *Client) writePump() {
	defer func() {
		_ = c.conn.Close()
		close(c.pumpExited)
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.logger.Debugw("write failed", "error", err)
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			c.flush()
			c.writeClose()
			return
		}
	}
}

func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(msg domain.Message) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	frameType := websocket.TextMessage
	if msg.Kind == domain.KindBytes {
		frameType = websocket.BinaryMessage
	}
	return c.conn.WriteMessage(frameType, msg.Data)
}

func (c *Client) writeClose() {
	if c.closeCode == 0 || c.closeCode == websocket.CloseAbnormalClosure {
		return
	}
	payload := websocket.FormatCloseMessage(c.closeCode, c.closeText)
	_ = c.conn.WriteControl(websocket.CloseMessage, payload, time.Now().Add(c.opts.WriteTimeout))
}
