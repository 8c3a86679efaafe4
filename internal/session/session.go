// Package session owns one live AACP connection: the protocol loop over the
// L2CAP socket, the handshake, the device-state snapshot, and the command
// dispatcher that reconciles user-issued setting writes with asynchronous
// device notifications.
//
// A Session is built for exactly one physical connection and is torn down
// wholesale on disconnect; the supervising daemon creates a fresh Session
// for every reconnect so no pending command or state field survives a
// connection boundary.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"aacpctl/internal/aacp"
	"aacpctl/internal/capability"
	"aacpctl/internal/logx"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateHandshaking
	StateReady
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

var (
	// ErrNotReady reports a command issued before the handshake completed
	// or after disconnect.
	ErrNotReady = errors.New("session not ready")
	// ErrClosed reports a command issued against a closed session.
	ErrClosed = errors.New("session closed")
	// ErrHandshakeTimeout reports that the device never identified itself.
	ErrHandshakeTimeout = errors.New("handshake timed out")
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultAckTimeout       = 2 * time.Second
)

// Option configures a Session.
type Option func(*Session)

// WithHandshakeTimeout bounds how long the session waits for the device's
// identification response.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Session) { s.handshakeTimeout = d }
}

// WithAckTimeout bounds how long a setting write may wait for the device's
// acknowledgment before it is retried (once) and then failed.
func WithAckTimeout(d time.Duration) Option {
	return func(s *Session) { s.ackTimeout = d }
}

// WithLogger overrides the package logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// Session drives the AACP protocol over an externally supplied socket.
// All socket writes and all device-state mutation happen on the protocol
// loop goroutine; consumers interact only through snapshot reads and the
// command API.
type Session struct {
	conn io.ReadWriteCloser
	reg  *capability.Registry
	log  zerolog.Logger

	handshakeTimeout time.Duration
	ackTimeout       time.Duration

	cmds     chan *commandRequest
	frames   chan aacp.Frame
	readErrc chan error
	timeouts chan timeoutEvent

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}

	mu        sync.RWMutex
	state     State
	caps      capability.Set
	snap      Snapshot
	observers []func(Snapshot)
	stemObs   []func(aacp.StemPress)

	// Owned by the protocol loop goroutine, no locking.
	pending     map[capability.Setting]*pendingCommand
	pendingStem []aacp.StemAction
	seq         uint64
}

// New builds a session over an already-open, bidirectional socket. The
// session takes ownership of conn and closes it on teardown. Run must be
// called to start the protocol.
func New(conn io.ReadWriteCloser, reg *capability.Registry, opts ...Option) *Session {
	s := &Session{
		conn:             conn,
		reg:              reg,
		log:              logx.Log.With().Str("component", "session").Logger(),
		handshakeTimeout: defaultHandshakeTimeout,
		ackTimeout:       defaultAckTimeout,
		cmds:             make(chan *commandRequest, 16),
		frames:           make(chan aacp.Frame, 32),
		readErrc:         make(chan error, 1),
		timeouts:         make(chan timeoutEvent, 16),
		closing:          make(chan struct{}),
		done:             make(chan struct{}),
		pending:          make(map[capability.Setting]*pendingCommand),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnStateChanged registers an observer invoked with a fresh immutable
// snapshot every time a notification frame changes the device state.
// Observers run on the protocol loop goroutine in frame-decode order.
func (s *Session) OnStateChanged(fn func(Snapshot)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// OnStemPress registers an observer for physical stem press events.
func (s *Session) OnStemPress(fn func(aacp.StemPress)) {
	s.mu.Lock()
	s.stemObs = append(s.stemObs, fn)
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Capabilities returns the capability set resolved during the handshake.
// The zero Set is returned before the session is ready.
func (s *Session) Capabilities() capability.Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}

// Snapshot returns an immutable copy of the current device state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.clone()
}

// Run performs the handshake and then drives the steady-state protocol loop.
// It blocks until the connection drops, the context is canceled, or Close is
// called, and returns the connection-fatal error if there was one. After Run
// returns the session is terminally Disconnected.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.teardown()

	go s.readLoop()

	ident, backlog, err := s.handshake(ctx)
	if err != nil {
		return err
	}

	caps := s.reg.Lookup(ident.ProductID)
	s.mu.Lock()
	s.state = StateReady
	s.caps = caps
	s.snap = Snapshot{
		State:     StateReady,
		VendorID:  ident.VendorID,
		ProductID: ident.ProductID,
		ModelName: caps.ModelName,
		Settings:  make(map[capability.Setting]int),
	}
	s.mu.Unlock()
	s.log.Info().
		Uint16("vendor", ident.VendorID).
		Uint16("product", ident.ProductID).
		Str("model", caps.ModelName).
		Msg("handshake complete")

	if capability.NeedsInitExt(ident.ProductID) {
		if err := s.writeFrame(aacp.NewInitExt()); err != nil {
			return err
		}
	}
	if err := s.writeFrame(aacp.NewProximityKeysRequest()); err != nil {
		return err
	}

	// Frames the device pushed before identifying are applied now that the
	// capability set exists.
	for _, f := range backlog {
		s.applyFrame(f)
	}

	return s.readyLoop(ctx)
}

// handshake sends the bootstrap sequence and waits for the device's
// identification response.
func (s *Session) handshake(ctx context.Context) (aacp.Identification, []aacp.Frame, error) {
	s.mu.Lock()
	s.state = StateHandshaking
	s.mu.Unlock()

	if _, err := s.conn.Write(aacp.PacketHandshake); err != nil {
		return aacp.Identification{}, nil, fmt.Errorf("send handshake: %w", err)
	}
	if err := s.writeFrame(aacp.NewFeatureFlags()); err != nil {
		return aacp.Identification{}, nil, err
	}
	if err := s.writeFrame(aacp.NewNotificationsRequest()); err != nil {
		return aacp.Identification{}, nil, err
	}

	timer := time.NewTimer(s.handshakeTimeout)
	defer timer.Stop()

	var backlog []aacp.Frame
	for {
		select {
		case <-ctx.Done():
			return aacp.Identification{}, nil, ctx.Err()
		case <-s.closing:
			return aacp.Identification{}, nil, ErrClosed
		case <-timer.C:
			return aacp.Identification{}, nil, ErrHandshakeTimeout
		case err := <-s.readErrc:
			return aacp.Identification{}, nil, err
		case f := <-s.frames:
			if f.Opcode != aacp.OpIdentification {
				backlog = append(backlog, f)
				continue
			}
			ident, err := aacp.ParseIdentification(f.Payload)
			if err != nil {
				return aacp.Identification{}, nil, fmt.Errorf("%w: %v", aacp.ErrFraming, err)
			}
			if ident.VendorID != capability.AppleVendorID {
				s.log.Warn().Uint16("vendor", ident.VendorID).Msg("unexpected vendor id in identification")
			}
			return ident, backlog, nil
		}
	}
}

// readyLoop is the steady state: incoming frames update the snapshot or
// resolve pending commands, outgoing command requests are coalesced and
// written, ack timers drive the retry policy.
func (s *Session) readyLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closing:
			return nil
		case err := <-s.readErrc:
			return err
		case f := <-s.frames:
			s.applyFrame(f)
		case req := <-s.cmds:
			s.enqueue(req)
			// Coalesce every queued request before touching the wire so a
			// superseded command is never transmitted.
		drain:
			for {
				select {
				case more := <-s.cmds:
					s.enqueue(more)
				default:
					break drain
				}
			}
			if err := s.flush(); err != nil {
				return err
			}
		case ev := <-s.timeouts:
			if err := s.handleTimeout(ev); err != nil {
				return err
			}
		}
	}
}

// enqueue records a request, superseding any outstanding command for the
// same setting. Nothing is written here; flush does the transmission.
func (s *Session) enqueue(req *commandRequest) {
	if req.stem != nil {
		s.pendingStem = append(s.pendingStem, *req.stem)
		return
	}
	if prev, ok := s.pending[req.setting]; ok {
		prev.resolve(OutcomeSuperseded)
	}
	s.seq++
	s.pending[req.setting] = &pendingCommand{
		setting: req.setting,
		value:   req.value,
		frame:   aacp.Encode(aacp.NewControlCommand(req.setting.ControlID(), byte(req.value))),
		issued:  time.Now(),
		seq:     s.seq,
		outcome: req.outcome,
	}
}

// flush transmits every queued command exactly once and arms its ack timer.
// Writes are serialized on the loop goroutine; at most one frame is on the
// wire at a time.
func (s *Session) flush() error {
	for _, action := range s.pendingStem {
		f := aacp.NewStemAction(action, aacp.ComponentRight)
		if _, err := s.conn.Write(aacp.Encode(f)); err != nil {
			return fmt.Errorf("write stem action: %w", err)
		}
		s.log.Debug().Str("action", action.String()).Msg("stem action sent")
	}
	s.pendingStem = nil

	for _, p := range s.pending {
		if p.sent {
			continue
		}
		if _, err := s.conn.Write(p.frame); err != nil {
			return fmt.Errorf("write command: %w", err)
		}
		p.sent = true
		p.attempts = 1
		s.armTimer(p)
		s.log.Debug().
			Str("setting", p.setting.String()).
			Int("value", p.value).
			Msg("command sent")
	}
	return nil
}

func (s *Session) armTimer(p *pendingCommand) {
	ev := timeoutEvent{setting: p.setting, seq: p.seq}
	p.timer = time.AfterFunc(s.ackTimeout, func() {
		select {
		case s.timeouts <- ev:
		case <-s.done:
		}
	})
}

// handleTimeout retries an unacknowledged command once with the same
// encoded frame; a second timeout fails it. Never a third send.
func (s *Session) handleTimeout(ev timeoutEvent) error {
	p, ok := s.pending[ev.setting]
	if !ok || p.seq != ev.seq {
		return nil // stale timer from a superseded or resolved command
	}
	if p.attempts >= 2 {
		s.log.Warn().Str("setting", p.setting.String()).Msg("no acknowledgment after retry")
		p.resolve(OutcomeFailed)
		delete(s.pending, ev.setting)
		return nil
	}
	s.log.Debug().Str("setting", p.setting.String()).Msg("ack timeout, retrying once")
	if _, err := s.conn.Write(p.frame); err != nil {
		return fmt.Errorf("retry command: %w", err)
	}
	p.attempts++
	s.armTimer(p)
	return nil
}

// RequestSetting validates a setting change against the device's capability
// set and submits it for transmission. Validation failures are synchronous;
// the returned channel reports the asynchronous outcome. A newer request for
// the same setting supersedes an unresolved older one.
func (s *Session) RequestSetting(setting capability.Setting, value int) (<-chan Outcome, error) {
	s.mu.RLock()
	state, caps := s.state, s.caps
	s.mu.RUnlock()
	if state != StateReady {
		return nil, ErrNotReady
	}
	if err := caps.Validate(setting, value); err != nil {
		return nil, err
	}
	req := &commandRequest{
		setting: setting,
		value:   value,
		outcome: make(chan Outcome, 1),
	}
	select {
	case s.cmds <- req:
		return req.outcome, nil
	case <-s.done:
		return nil, ErrClosed
	}
}

// RequestStemAction submits a stem action to the device.
func (s *Session) RequestStemAction(action aacp.StemAction) error {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state != StateReady {
		return ErrNotReady
	}
	a := action
	select {
	case s.cmds <- &commandRequest{stem: &a}:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Close tears the session down. It is idempotent; closing an already
// disconnected session is a no-op.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.conn.Close()
	})
	return nil
}

// teardown resolves all in-flight commands as failed and discards the
// device state. Runs exactly once, as Run returns.
func (s *Session) teardown() {
	for setting, p := range s.pending {
		p.resolve(OutcomeFailed)
		delete(s.pending, setting)
	}
	_ = s.conn.Close()
	s.mu.Lock()
	s.state = StateDisconnected
	s.caps = capability.Set{}
	s.snap = Snapshot{State: StateDisconnected}
	s.mu.Unlock()
	s.log.Info().Msg("session disconnected")
}

// readLoop feeds raw socket bytes through the incremental decoder and hands
// complete frames to the protocol loop. Any read or framing error ends the
// connection.
func (s *Session) readLoop() {
	var dec aacp.Decoder
	buf := make([]byte, 1024)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				f, ok, derr := dec.Next()
				if derr != nil {
					s.reportReadError(derr)
					return
				}
				if !ok {
					break
				}
				select {
				case s.frames <- f:
				case <-s.done:
					return
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("transport closed: %w", err)
			}
			s.reportReadError(err)
			return
		}
	}
}

func (s *Session) reportReadError(err error) {
	select {
	case s.readErrc <- err:
	case <-s.done:
	}
}
