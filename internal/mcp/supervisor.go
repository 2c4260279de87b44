package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/telnet2/mcpchat/internal/event"
	"github.com/telnet2/mcpchat/internal/logging"
)

const (
	defaultListTimeout = 15 * time.Second
)

// Dialer opens a Channel for a server configuration. The default spawns the
// configured command over stdio; tests substitute in-process channels.
type Dialer func(cfg ServerConfig) (Channel, error)

// connection is the supervisor-owned state for one configured server.
// opMu serializes lifecycle operations (connect/disconnect); mu guards the
// fields and is only held briefly, so status snapshots never wait on a slow
// handshake. The supervisor is the sole writer of state.
type connection struct {
	opMu sync.Mutex
	mu   sync.Mutex

	cfg        ServerConfig
	state      State
	session    *Session
	registry   *Registry
	generation uint64
	lastErr    error
	info       *ServerInfo
	connected  time.Time
}

// Supervisor owns the set of configured servers and drives each connection
// through its lifecycle. Operations on one server never block on another.
type Supervisor struct {
	conns map[string]*connection
	order []string

	dial             Dialer
	bus              *event.Bus
	handshakeTimeout time.Duration
	listTimeout      time.Duration
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithDialer overrides how channels are opened.
func WithDialer(d Dialer) SupervisorOption {
	return func(s *Supervisor) { s.dial = d }
}

// WithBus attaches an event bus for lifecycle notifications.
func WithBus(bus *event.Bus) SupervisorOption {
	return func(s *Supervisor) { s.bus = bus }
}

// WithHandshakeTimeout bounds the initialize exchange.
func WithHandshakeTimeout(d time.Duration) SupervisorOption {
	return func(s *Supervisor) { s.handshakeTimeout = d }
}

// WithListTimeout bounds tool discovery requests.
func WithListTimeout(d time.Duration) SupervisorOption {
	return func(s *Supervisor) { s.listTimeout = d }
}

// NewSupervisor builds a supervisor over the given configurations. Nothing is
// connected until Connect or RefreshAll is called.
func NewSupervisor(configs []ServerConfig, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		conns: make(map[string]*connection, len(configs)),
		dial: func(cfg ServerConfig) (Channel, error) {
			return SpawnStdio(cfg)
		},
		handshakeTimeout: defaultHandshakeTimeout,
		listTimeout:      defaultListTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, cfg := range configs {
		if _, dup := s.conns[cfg.Name]; dup {
			logging.Warn().Str("server", cfg.Name).Msg("duplicate server name in configuration, keeping first")
			continue
		}
		s.conns[cfg.Name] = &connection{cfg: cfg, state: StateDisconnected}
		s.order = append(s.order, cfg.Name)
	}
	return s
}

// Connect drives one server from Disconnected (or Failed) to Ready: spawn,
// handshake, then asynchronous tool discovery. Connecting an already-ready
// server is a no-op.
func (s *Supervisor) Connect(ctx context.Context, name string) error {
	conn, ok := s.conns[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}

	conn.opMu.Lock()
	defer conn.opMu.Unlock()

	if !conn.cfg.Enabled {
		return fmt.Errorf("%w: %s", ErrServerDisabled, name)
	}

	conn.mu.Lock()
	if conn.state == StateReady {
		conn.mu.Unlock()
		return nil
	}
	// A Failed connection may hold a dead session; discard residual state.
	if residual := conn.session; residual != nil {
		go func() { _ = residual.Close() }()
	}
	conn.session = nil
	conn.registry = nil
	conn.info = nil
	conn.connected = time.Time{}
	conn.state = StateConnecting
	conn.lastErr = nil
	conn.mu.Unlock()

	s.publish(event.New(event.ServerConnecting, name, nil))
	logging.Info().Str("server", name).Msg("connecting")

	ch, err := s.dial(conn.cfg)
	if err != nil {
		s.fail(conn, err)
		return err
	}

	conn.mu.Lock()
	conn.state = StateHandshaking
	conn.mu.Unlock()

	sess := NewSession(name, ch, nil)

	hctx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	info, err := sess.Initialize(hctx)
	cancel()
	if err != nil {
		if sc, ok := ch.(*StdioChannel); ok {
			if tail := strings.TrimSpace(sc.Stderr()); tail != "" {
				err = fmt.Errorf("%w (stderr: %s)", err, tail)
			}
		}
		go func() { _ = sess.Close() }()
		s.fail(conn, err)
		return err
	}

	conn.mu.Lock()
	conn.generation++
	gen := conn.generation
	conn.session = sess
	conn.info = info
	conn.registry = emptyRegistry(name, gen)
	conn.connected = time.Now()
	conn.state = StateReady
	conn.mu.Unlock()

	s.publish(event.New(event.ServerReady, name, info))
	logging.Info().Str("server", name).Str("peer", info.Name).Msg("ready")

	go s.watch(conn, sess)
	go func() {
		if err := s.refresh(context.Background(), conn, sess, gen); err != nil {
			logging.Warn().Str("server", name).Err(err).Msg("initial tool discovery failed")
		}
	}()
	return nil
}

// Disconnect gracefully tears one connection down.
func (s *Supervisor) Disconnect(ctx context.Context, name string) error {
	conn, ok := s.conns[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}

	conn.opMu.Lock()
	defer conn.opMu.Unlock()

	conn.mu.Lock()
	if conn.state == StateDisconnected {
		conn.mu.Unlock()
		return nil
	}
	sess := conn.session
	conn.state = StateDisconnecting
	conn.session = nil
	conn.registry = nil
	conn.info = nil
	conn.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}

	conn.mu.Lock()
	conn.state = StateDisconnected
	conn.connected = time.Time{}
	conn.mu.Unlock()

	s.publish(event.New(event.ServerDisconnected, name, nil))
	logging.Info().Str("server", name).Msg("disconnected")
	return nil
}

// RefreshAll connects every enabled server that is Disconnected or Failed and
// re-runs tool discovery on servers that are already Ready. Reconnection is
// always caller-initiated; there is no background retry loop. Servers are
// refreshed in parallel; the result maps each enabled server to its error,
// nil on success.
func (s *Supervisor) RefreshAll(ctx context.Context) map[string]error {
	results := make(map[string]error, len(s.order))

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, name := range s.order {
		conn := s.conns[name]
		if !conn.cfg.Enabled {
			continue
		}

		wg.Add(1)
		go func(name string, conn *connection) {
			defer wg.Done()

			conn.mu.Lock()
			state := conn.state
			conn.mu.Unlock()

			var err error
			switch state {
			case StateDisconnected, StateFailed:
				if err = s.Connect(ctx, name); err == nil {
					err = s.RefreshTools(ctx, name)
				}
			case StateReady:
				err = s.RefreshTools(ctx, name)
			}

			mu.Lock()
			results[name] = err
			mu.Unlock()
		}(name, conn)
	}
	wg.Wait()

	return results
}

// RefreshTools re-runs discovery on a Ready server, replacing its registry
// snapshot wholesale without disturbing the session.
func (s *Supervisor) RefreshTools(ctx context.Context, name string) error {
	conn, ok := s.conns[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}

	conn.mu.Lock()
	if conn.state != StateReady {
		conn.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrServerUnavailable, name, conn.state)
	}
	sess := conn.session
	gen := conn.generation
	conn.mu.Unlock()

	return s.refresh(ctx, conn, sess, gen)
}

// refresh performs one tools/list exchange and installs the result, unless
// the connection has moved on to a newer generation in the meantime.
func (s *Supervisor) refresh(ctx context.Context, conn *connection, sess *Session, gen uint64) error {
	lctx, cancel := context.WithTimeout(ctx, s.listTimeout)
	tools, err := sess.ListTools(lctx)
	cancel()

	conn.mu.Lock()
	if conn.session != sess || conn.generation != gen || conn.state != StateReady {
		conn.mu.Unlock()
		return nil // superseded by a disconnect or reconnect
	}

	if err != nil {
		if errors.Is(err, ErrCallTimeout) {
			// A slow catalog is not fatal; the old snapshot stands.
			conn.mu.Unlock()
			return err
		}
		s.failLocked(conn, err)
		conn.mu.Unlock()
		s.publishFailed(conn, err)
		go func() { _ = sess.Close() }()
		return err
	}

	conn.registry = newRegistry(conn.cfg.Name, gen, tools)
	count := conn.registry.Len()
	conn.mu.Unlock()

	s.publish(event.New(event.RegistryRefreshed, conn.cfg.Name, map[string]any{
		"tools":      count,
		"generation": gen,
	}))
	logging.Debug().Str("server", conn.cfg.Name).Int("tools", count).Msg("tool catalog refreshed")
	return nil
}

// watch fails the connection when its session dies out from under it, e.g.
// the peer process exits. A session replaced by Disconnect or a reconnect is
// ignored.
func (s *Supervisor) watch(conn *connection, sess *Session) {
	<-sess.Done()

	conn.mu.Lock()
	if conn.session != sess {
		conn.mu.Unlock()
		return
	}
	err := sess.Err()
	if err == nil {
		err = ErrTransportClosed
	}
	s.failLocked(conn, err)
	conn.mu.Unlock()
	s.publishFailed(conn, err)
}

// fail moves a connection to Failed.
func (s *Supervisor) fail(conn *connection, err error) {
	conn.mu.Lock()
	s.failLocked(conn, err)
	conn.mu.Unlock()
	s.publishFailed(conn, err)
}

// failLocked moves a connection to Failed. Caller holds conn.mu and publishes
// the failure event after releasing it.
func (s *Supervisor) failLocked(conn *connection, err error) {
	conn.state = StateFailed
	conn.lastErr = err
	conn.session = nil
	conn.registry = nil
	conn.info = nil
	conn.connected = time.Time{}
}

func (s *Supervisor) publishFailed(conn *connection, err error) {
	s.publish(event.New(event.ServerFailed, conn.cfg.Name, map[string]string{"error": err.Error()}))
	logging.Error().Str("server", conn.cfg.Name).Err(err).Msg("connection failed")
}

// sessionFor returns the live session and registry snapshot for a Ready
// server.
func (s *Supervisor) sessionFor(name string) (*Session, *Registry, error) {
	conn, ok := s.conns[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.state != StateReady || conn.session == nil {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrServerUnavailable, name, conn.state)
	}
	return conn.session, conn.registry, nil
}

// readyRegistries returns the current registry snapshot of every Ready
// server, in configuration order.
func (s *Supervisor) readyRegistries() []*Registry {
	out := make([]*Registry, 0, len(s.order))
	for _, name := range s.order {
		conn := s.conns[name]
		conn.mu.Lock()
		if conn.state == StateReady && conn.registry != nil {
			out = append(out, conn.registry)
		}
		conn.mu.Unlock()
	}
	return out
}

// State returns the lifecycle state of one server.
func (s *Supervisor) State(name string) (State, error) {
	conn, ok := s.conns[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.state, nil
}

// Statuses returns a read-only snapshot of every configured server, in
// configuration order.
func (s *Supervisor) Statuses() []ServerStatus {
	out := make([]ServerStatus, 0, len(s.order))
	for _, name := range s.order {
		conn := s.conns[name]
		conn.mu.Lock()
		st := ServerStatus{
			Name:        conn.cfg.Name,
			Description: conn.cfg.Description,
			State:       conn.state,
			Enabled:     conn.cfg.Enabled,
			Info:        conn.info,
		}
		if conn.registry != nil {
			st.ToolCount = conn.registry.Len()
		}
		if conn.lastErr != nil {
			st.Error = conn.lastErr.Error()
		}
		if !conn.connected.IsZero() {
			t := conn.connected
			st.ConnectedAt = &t
		}
		conn.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// Close disconnects every server in parallel.
func (s *Supervisor) Close() error {
	ctx := context.Background()
	var wg sync.WaitGroup
	for _, name := range s.order {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_ = s.Disconnect(ctx, name)
		}(name)
	}
	wg.Wait()
	return nil
}

// publish forwards an event when a bus is attached.
func (s *Supervisor) publish(evt event.Event) {
	if s.bus != nil {
		s.bus.Publish(evt)
	}
}
