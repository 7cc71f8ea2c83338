package shared

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/coachpo/venuelink/errs"
	"github.com/coachpo/venuelink/internal/schema"
)

const (
	// DefaultReconnectDelay is the fixed pause before re-dialing after an abnormal close.
	DefaultReconnectDelay = 5 * time.Second

	defaultDialTimeout  = 10 * time.Second
	controlWriteTimeout = 5 * time.Second
	sessionReadLimit    = 2 * 1024 * 1024
	errorBuffer         = 32
)

// State is the lifecycle position of a Session.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateAuthenticating
	StateReady
	StateClosing
	StateClosed
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// SessionOptions configure a Session.
type SessionOptions struct {
	Bundle            Bundle
	Logger            *zap.Logger
	MeterProvider     metric.MeterProvider
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	Clock             func() time.Time
}

// Session drives one websocket connection to one exchange: dial, authenticate,
// subscribe, keep alive, classify inbound frames, and reconnect after abnormal closure.
type Session struct {
	bundle      Bundle
	logger      *zap.Logger
	clock       func() time.Time
	dialTimeout time.Duration
	retry       backoff.BackOff
	ids         *OperationIDs
	subs        *SubscriptionManager
	heartbeat   *Heartbeat
	metrics     *sessionMetrics
	connectorID string
	errs        chan error
	loops       conc.WaitGroup

	// ops serializes subscription activation against Stop's cleanup.
	ops sync.Mutex

	mu            sync.Mutex
	state         State
	conn          *websocket.Conn
	authenticated bool
	stopping      bool
	reauth        bool
	lifeCtx       context.Context
	onMessage     func([]schema.Event)
}

// NewSession validates the bundle and builds an idle session.
func NewSession(opts SessionOptions) (*Session, error) {
	if err := opts.Bundle.validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	connectorID := uuid.NewString()
	logger := opts.Logger.With(
		zap.String("exchange", opts.Bundle.Exchange),
		zap.String("connector_id", connectorID),
	)
	ids := NewOperationIDs(opts.Clock)
	s := &Session{
		bundle:      opts.Bundle,
		logger:      logger,
		clock:       opts.Clock,
		dialTimeout: opts.DialTimeout,
		retry:       backoff.NewConstantBackOff(opts.ReconnectDelay),
		ids:         ids,
		subs:        NewSubscriptionManager(opts.Bundle.Framing, ids, opts.Bundle.Channels),
		heartbeat:   NewHeartbeat(opts.HeartbeatInterval, opts.Bundle.Framing.PingFrame, logger),
		metrics:     newSessionMetrics(opts.MeterProvider, opts.Bundle.Exchange),
		connectorID: connectorID,
		errs:        make(chan error, errorBuffer),
		state:       StateDisconnected,
		lifeCtx:     context.Background(),
	}
	return s, nil
}

// ConnectorID returns the unique id of this session instance.
func (s *Session) ConnectorID() string { return s.connectorID }

// Errors exposes asynchronous failures that occur after Connect has returned.
func (s *Session) Errors() <-chan error { return s.errs }

// OperationIDs returns the session's correlation id generator.
func (s *Session) OperationIDs() *OperationIDs { return s.ids }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Authenticated reports whether the exchange has accepted the auth frame on the live socket.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// SetChannels replaces the desired subscriptions; they take effect on the next (re)connect.
func (s *Session) SetChannels(channels []string) { s.subs.SetChannels(channels) }

// Subscriptions returns the channels live on the current socket.
func (s *Session) Subscriptions() []string { return s.subs.Active() }

// Wait blocks until every read loop started by the session has exited.
func (s *Session) Wait() { s.loops.Wait() }

// Connect opens the socket and returns once the attempt reached Ready (public) or
// Authenticating (private), or failed. ctx bounds the session lifetime, including reconnects.
func (s *Session) Connect(ctx context.Context, onMessage func([]schema.Event)) error {
	if ctx == nil {
		return errs.New(s.bundle.Exchange, errs.CodeInvalid, errs.WithMessage("context required"))
	}
	s.mu.Lock()
	if s.conn != nil || s.state == StateConnecting {
		s.mu.Unlock()
		return errs.New(s.bundle.Exchange, errs.CodeInvalid,
			errs.WithMessage("session already connected"),
			errs.WithCanonicalCode(errs.CanonicalAlreadyConnected))
	}
	s.lifeCtx = ctx
	s.onMessage = onMessage
	s.stopping = false
	s.mu.Unlock()

	s.logger.Info("connecting", zap.String("url", s.bundle.URL))
	return s.dial(ctx, true)
}

// Send writes an ad-hoc frame over the live socket.
func (s *Session) Send(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errs.NotConnected(s.bundle.Exchange)
	}
	return s.writer(conn).WriteFrame(ctx, frame)
}

// Stop unsubscribes every active channel, runs the bundle's cancel-all, stops the heartbeat,
// and closes the socket normally. Cleanup frames are best-effort and not acknowledged.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return errs.NotConnected(s.bundle.Exchange)
	}
	if s.state != StateReady && s.state != StateAuthenticating {
		state := s.state
		s.mu.Unlock()
		return errs.New(s.bundle.Exchange, errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("cannot stop session in state %s", state)))
	}
	s.state = StateClosing
	s.stopping = true
	s.mu.Unlock()

	s.ops.Lock()
	s.logger.Info("stopping session")
	w := s.writer(conn)
	writeCtx, cancel := context.WithTimeout(ctx, controlWriteTimeout)
	defer cancel()

	var cleanup []error
	if err := s.subs.Deactivate(writeCtx, w); err != nil {
		cleanup = append(cleanup, err)
	}
	if s.bundle.Canceller != nil {
		if err := s.bundle.Canceller.CancelAll(writeCtx, w, s.ids); err != nil {
			cleanup = append(cleanup, fmt.Errorf("cancel all orders: %w", err))
		}
	}
	s.heartbeat.Stop()
	s.ops.Unlock()

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.authenticated = false
	s.mu.Unlock()

	if err := conn.Close(websocket.StatusNormalClosure, "stop"); err != nil {
		s.logger.Debug("close websocket", zap.Error(err))
	}
	s.setState(StateClosed)

	if len(cleanup) > 0 {
		err := errors.Join(cleanup...)
		s.logger.Warn("stop cleanup incomplete", zap.Error(err))
		return err
	}
	return nil
}

func (s *Session) dial(ctx context.Context, first bool) error {
	s.setState(StateConnecting)
	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, s.bundle.URL, nil)
	cancel()
	if err != nil {
		if first {
			s.setState(StateDisconnected)
		}
		return errs.New(s.bundle.Exchange, errs.CodeNetwork, errs.WithMessage("dial websocket"), errs.WithCause(err))
	}
	conn.SetReadLimit(sessionReadLimit)

	if r, ok := s.bundle.Mapper.(Resetter); ok {
		r.Reset()
	}
	s.subs.Reset()

	next := StateReady
	if s.bundle.Private {
		next = StateAuthenticating
	}
	s.mu.Lock()
	if s.stopping || ctx.Err() != nil {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return errs.New(s.bundle.Exchange, errs.CodeNetwork, errs.WithMessage("session stopped while connecting"))
	}
	s.conn = conn
	s.authenticated = false
	s.reauth = false
	s.state = StateOpen
	s.mu.Unlock()

	s.metrics.add(ctx, s.metrics.connects, 1)
	w := s.writer(conn)
	s.heartbeat.Start(ctx, w)
	s.setState(next)
	s.loops.Go(func() { s.readLoop(ctx, conn) })

	if s.bundle.Private {
		if err := s.authenticate(ctx, w); err != nil {
			if first {
				s.mu.Lock()
				s.stopping = true
				s.mu.Unlock()
			}
			_ = conn.Close(websocket.StatusInternalError, "auth frame failed")
			return err
		}
		s.logger.Info("websocket open, authentication sent")
		return nil
	}

	s.logger.Info("websocket open")
	s.activate(ctx, conn)
	return nil
}

// activate subscribes the desired channels on conn unless the session has left Ready on it.
func (s *Session) activate(ctx context.Context, conn *websocket.Conn) {
	s.ops.Lock()
	defer s.ops.Unlock()

	s.mu.Lock()
	live := !s.stopping && s.conn == conn && s.state == StateReady
	state := s.state
	s.mu.Unlock()
	if !live {
		s.logger.Debug("skipping subscription", zap.Stringer("state", state))
		return
	}
	if err := s.subs.Activate(ctx, s.writer(conn)); err != nil {
		s.reportError(err)
	}
}

func (s *Session) authenticate(ctx context.Context, w FrameWriter) error {
	frame, err := s.bundle.Framing.AuthFrame(s.clock())
	if err != nil {
		return errs.New(s.bundle.Exchange, errs.CodeAuth, errs.WithMessage("build auth frame"), errs.WithCause(err))
	}
	writeCtx, cancel := context.WithTimeout(ctx, controlWriteTimeout)
	defer cancel()
	return w.WriteFrame(writeCtx, frame)
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			s.handleClose(conn, err)
			return
		}
		s.handleMessage(ctx, conn, typ, data)
	}
}

func (s *Session) handleMessage(ctx context.Context, conn *websocket.Conn, typ websocket.MessageType, data []byte) {
	body, err := s.bundle.Framing.Decode(typ, data)
	if err != nil {
		s.drop(ctx, "decode frame", err)
		return
	}
	frame, err := s.bundle.Framing.Classify(body)
	if err != nil {
		s.drop(ctx, "classify frame", err)
		return
	}

	switch frame.Kind {
	case FrameConnected:
		s.logger.Debug("exchange greeting received")
	case FrameAuth:
		s.handleAuth(ctx, conn, frame)
	case FrameHeartbeat:
		s.logger.Debug("heartbeat acknowledged")
	case FramePing:
		writeCtx, cancel := context.WithTimeout(ctx, controlWriteTimeout)
		if err := s.writer(conn).WriteFrame(writeCtx, frame.Reply); err != nil {
			s.logger.Warn("answer server ping", zap.Error(err))
		}
		cancel()
	case FrameAck:
		s.logger.Debug("operation acknowledged", zap.String("detail", frame.Detail))
	case FrameError:
		s.logger.Warn("exchange reported error", zap.String("detail", frame.Detail))
		s.reportError(errs.New(s.bundle.Exchange, errs.CodeExchange, errs.WithRawMessage(frame.Detail)))
	case FrameData:
		payload := frame.Body
		if payload == nil {
			payload = body
		}
		events, err := s.bundle.Mapper.Map(payload)
		if err != nil {
			s.drop(ctx, "map frame", err)
			return
		}
		if len(events) == 0 {
			return
		}
		s.mu.Lock()
		onMessage := s.onMessage
		s.mu.Unlock()
		s.metrics.add(ctx, s.metrics.eventsEmitted, int64(len(events)))
		if onMessage != nil {
			onMessage(events)
		}
	}
}

func (s *Session) drop(ctx context.Context, stage string, err error) {
	s.metrics.add(ctx, s.metrics.framesDropped, 1)
	if errors.Is(err, ErrUnknownFrame) {
		s.logger.Debug("dropping unknown frame", zap.String("stage", stage))
		return
	}
	s.logger.Warn("dropping frame", zap.String("stage", stage), zap.Error(err))
	s.reportError(err)
}

func (s *Session) handleAuth(ctx context.Context, conn *websocket.Conn, frame Frame) {
	s.mu.Lock()
	if s.conn != conn || s.state != StateAuthenticating {
		state := s.state
		s.mu.Unlock()
		s.logger.Debug("ignoring auth acknowledgment", zap.Stringer("state", state))
		return
	}
	if frame.AuthOK {
		s.authenticated = true
		s.state = StateReady
		s.mu.Unlock()
		s.logger.Info("websocket authenticated")
		s.activate(ctx, conn)
		return
	}
	s.authenticated = false
	s.state = StateClosing
	s.reauth = true
	s.mu.Unlock()

	s.metrics.add(ctx, s.metrics.authFailures, 1)
	s.logger.Error("websocket authentication rejected", zap.String("detail", frame.Detail))
	s.reportError(errs.New(s.bundle.Exchange, errs.CodeAuth,
		errs.WithMessage("authentication rejected"),
		errs.WithRawMessage(frame.Detail)))
	go func() {
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed")
	}()
}

func (s *Session) handleClose(conn *websocket.Conn, err error) {
	status := websocket.CloseStatus(err)

	s.mu.Lock()
	if s.conn != nil && s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.authenticated = false
	reauth := s.reauth
	s.reauth = false
	terminal := s.stopping || s.lifeCtx.Err() != nil || (status == websocket.StatusNormalClosure && !reauth)
	if terminal {
		s.state = StateClosed
	} else {
		s.state = StateReconnecting
	}
	s.mu.Unlock()

	s.heartbeat.Stop()
	s.ops.Lock()
	s.subs.Reset()
	s.ops.Unlock()

	if terminal {
		s.logger.Info("websocket closed", zap.Int("code", int(status)))
		return
	}
	s.logger.Warn("websocket closed abnormally", zap.Int("code", int(status)), zap.Error(err))
	if !reauth {
		s.reportError(errs.New(s.bundle.Exchange, errs.CodeNetwork, errs.WithMessage("connection lost"), errs.WithCause(err)))
	}
	s.scheduleReconnect()
}

func (s *Session) scheduleReconnect() {
	delay := s.retry.NextBackOff()
	if delay == backoff.Stop {
		delay = DefaultReconnectDelay
	}
	s.mu.Lock()
	ctx := s.lifeCtx
	s.mu.Unlock()

	s.metrics.add(ctx, s.metrics.reconnects, 1)
	s.logger.Info("reconnect scheduled", zap.Duration("delay", delay))
	time.AfterFunc(delay, func() { s.reconnect(ctx) })
}

func (s *Session) reconnect(ctx context.Context) {
	s.mu.Lock()
	if s.stopping || s.conn != nil || s.state != StateReconnecting {
		s.mu.Unlock()
		return
	}
	if ctx.Err() != nil {
		s.state = StateClosed
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.dial(ctx, false); err != nil {
		s.logger.Warn("reconnect failed", zap.Error(err))
		s.reportError(err)
		s.mu.Lock()
		retry := !s.stopping && s.conn == nil && ctx.Err() == nil
		if retry {
			s.state = StateReconnecting
		} else if s.conn == nil {
			s.state = StateClosed
		}
		s.mu.Unlock()
		if retry {
			s.scheduleReconnect()
		}
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	if prev != state {
		s.logger.Debug("session state", zap.Stringer("from", prev), zap.Stringer("to", state))
	}
}

func (s *Session) reportError(err error) {
	if err == nil {
		return
	}
	select {
	case s.errs <- err:
	default:
	}
}

func (s *Session) writer(conn *websocket.Conn) FrameWriter {
	return connWriter{exchange: s.bundle.Exchange, conn: conn}
}

type connWriter struct {
	exchange string
	conn     *websocket.Conn
}

func (w connWriter) WriteFrame(ctx context.Context, frame []byte) error {
	if w.conn == nil {
		return errs.NotConnected(w.exchange)
	}
	if err := w.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return errs.New(w.exchange, errs.CodeNetwork, errs.WithMessage("write frame"), errs.WithCause(err))
	}
	return nil
}
