package signal

import (
	"context"
	"errors"
	"net/http"
	"time"

	"coordinator/internal/core/domain"
	"coordinator/internal/core/ports"
	"coordinator/internal/infrastructure/codec"
	"coordinator/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	closeReasonInvalidRole  = "Invalid client type"
	closeReasonDecodeErrors = "Too many malformed messages"
	peerDisconnectedMessage = "The paired client has disconnected"
	clientUnpairMessage     = "Client requested to unpair"
)

// RoleResolver maps an announced client type to a role.
type RoleResolver interface {
	Resolve(tag string) (domain.Role, bool)
}

// ConnectionGate admits or rejects a connection before the upgrade.
type ConnectionGate interface {
	Acquire(r *http.Request) (release func(), ok bool)
}

type ServerOptions struct {
	Client            ClientOptions
	HandshakeTimeout  time.Duration
	MaxMessageSize    int64
	MaxDecodeErrors   int
	PreviewLength     int
	AllowedOrigins    []string
	MessagesPerSecond float64
	MessageBurst      int
}

type WebSocketServer struct {
	pairing ports.PairingService
	relay   *Relay
	roles   RoleResolver
	gate    ConnectionGate
	metrics ports.MetricsRecorder
	opts    ServerOptions

	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger
}

func NewWebSocketServer(
	pairing ports.PairingService,
	relay *Relay,
	roles RoleResolver,
	gate ConnectionGate,
	metrics ports.MetricsRecorder,
	opts ServerOptions,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	s := &WebSocketServer{
		pairing: pairing,
		relay:   relay,
		roles:   roles,
		gate:    gate,
		metrics: metrics,
		opts:    opts,
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleWebSocket accepts one client connection and serves it until it closes.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.gate != nil {
		release, ok := s.gate.Acquire(r)
		if !ok {
			s.logger.Warnw("connection rejected by rate limiter", "remote_addr", r.RemoteAddr)
			http.Error(w, "too many connections", http.StatusTooManyRequests)
			return
		}
		defer release()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(domain.ClientID(utils.GenerateClientID()), r.RemoteAddr, conn, s.opts.Client, s.logger)
	go client.writePump()
	defer func() {
		client.Close(websocket.CloseNormalClosure, "")
		<-client.pumpExited
	}()

	if s.opts.MaxMessageSize > 0 {
		conn.SetReadLimit(s.opts.MaxMessageSize)
	}
	conn.SetPongHandler(func(string) error {
		client.Touch(time.Now())
		return nil
	})

	if !s.handshake(conn, client) {
		return
	}

	ctx := r.Context()
	if _, err := s.pairing.Join(ctx, client); err != nil {
		s.logger.Errorw("failed to register client", "client_id", client.ID(), "error", err)
		client.Close(websocket.CloseInternalServerErr, "Registration failed")
		return
	}

	s.readLoop(ctx, conn, client)

	// Leave runs before the deferred close so the peer is notified and the
	// registry no longer lists this client once the handler returns.
	s.pairing.Leave(context.Background(), client.ID(), peerDisconnectedMessage)
	s.logger.Infow("client disconnected", "client_id", client.ID(), "role", client.Role())
}

// handshake reads the role announcement, which must be the first message.
func (s *WebSocketServer) handshake(conn *websocket.Conn, client *Client) bool {
	_ = conn.SetReadDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	msgType, data, err := conn.ReadMessage()
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		s.logger.Debugw("no role announcement", "client_id", client.ID(), "error", err)
		return false
	}

	var (
		role domain.Role
		tag  string
		ok   bool
	)
	if msgType == websocket.TextMessage {
		if info, err := codec.ParseText(data); err == nil {
			tag = info.Type
			role, ok = s.roles.Resolve(tag)
		}
	}
	if !ok {
		s.logger.Warnw("invalid client type", "client_id", client.ID(), "remote_addr", client.RemoteAddr())
		client.Close(websocket.ClosePolicyViolation, closeReasonInvalidRole)
		return false
	}

	if err := client.DeclareRole(role, tag); err != nil {
		client.Close(websocket.ClosePolicyViolation, closeReasonInvalidRole)
		return false
	}
	s.logger.Infow("client connected", "client_id", client.ID(), "role", role, "tag", tag, "remote_addr", client.RemoteAddr())
	return true
}

func (s *WebSocketServer) readLoop(ctx context.Context, conn *websocket.Conn, client *Client) {
	var limiter *rate.Limiter
	if s.opts.MessagesPerSecond > 0 {
		burst := s.opts.MessageBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), burst)
	}

	decodeErrors := 0
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message from client", "client_id", client.ID(), "error", err)
			}
			return
		}

		if err := s.handleMessage(ctx, client, msgType, data, limiter); err != nil {
			var decodeErr *codec.DecodeError
			if !errors.As(err, &decodeErr) {
				s.logger.Warnw("error handling message", "client_id", client.ID(), "error", err)
				continue
			}
			decodeErrors++
			s.logger.Warnw("malformed message dropped",
				"client_id", client.ID(),
				"error", err,
				"consecutive", decodeErrors,
			)
			if s.opts.MaxDecodeErrors > 0 && decodeErrors >= s.opts.MaxDecodeErrors {
				client.Close(websocket.CloseUnsupportedData, closeReasonDecodeErrors)
				return
			}
			continue
		}
		decodeErrors = 0
	}
}

func (s *WebSocketServer) handleMessage(ctx context.Context, client *Client, msgType int, data []byte, limiter *rate.Limiter) error {
	var (
		msg     domain.Message
		typeTag string
	)

	switch msgType {
	case websocket.TextMessage:
		info, err := codec.ParseText(data)
		if err != nil {
			s.decodeFailed(domain.KindText)
			return err
		}
		switch info.Type {
		case domain.TypePong:
			s.relay.Record(client, domain.Message{Kind: domain.KindText, Data: data}, info.Type)
			if ts, ok := codec.ParsePong(data); ok {
				if rtt, ok := client.RecordPong(ts, time.Now()); ok && s.metrics != nil {
					s.metrics.LatencyObserved(rtt)
				}
			}
			return nil
		case domain.TypeUnpair:
			s.relay.Record(client, domain.Message{Kind: domain.KindText, Data: data}, info.Type)
			_, err := s.pairing.Unpair(ctx, client.ID(), clientUnpairMessage)
			if err != nil && !errors.Is(err, domain.ErrNotPaired) {
				return err
			}
			return nil
		}
		msg = domain.Message{Kind: domain.KindText, Data: data}
		typeTag = info.Type

	case websocket.BinaryMessage:
		frame, err := codec.Decode(data)
		if err != nil {
			s.decodeFailed(domain.KindBytes)
			return err
		}
		msg = domain.Message{Kind: domain.KindBytes, Data: data}
		typeTag = codec.KindName(frame.Kind)

	default:
		return nil
	}

	if limiter != nil && !limiter.Allow() {
		s.relay.Reject(client, msg, typeTag, DropRateLimited)
		return nil
	}

	s.relay.Forward(client, msg, typeTag)
	return nil
}

func (s *WebSocketServer) decodeFailed(kind domain.MessageKind) {
	if s.metrics != nil {
		s.metrics.DecodeError(kind)
	}
}
