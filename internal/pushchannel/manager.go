package pushchannel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/vendorsync/internal/infrastructure/config"
	"github.com/nerrad567/vendorsync/internal/metrics"
)

const (
	controlWriteWait = 10 * time.Second
	eventBuffer      = 64
	aliveMessage     = "alive"
)

// Logger is the logging surface the manager needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// AddressFunc returns a freshly signed channel address. It is called before
// every connection attempt and is expected to log in again.
type AddressFunc func(ctx context.Context) (string, error)

// MessageFunc processes one inbound text frame. Returning false reports a
// protocol error and forces a reconnect.
type MessageFunc func(ctx context.Context, frame []byte) bool

// HealthFunc reports whether the data behind the channel is still
// trustworthy. false or an error forces a reconnect.
type HealthFunc func(ctx context.Context) (bool, error)

// PhaseFunc observes phase transitions. It is called on the manager loop
// with the new state already visible through State, and the loop handles
// nothing else until it returns. It must not block; publish the state from
// another goroutine.
type PhaseFunc func(from, to Phase)

// Options configures a Manager.
type Options struct {
	Server      string
	Address     AddressFunc
	Dialer      Dialer
	OnMessage   MessageFunc
	HealthCheck HealthFunc
	OnPhase     PhaseFunc
	Logger      Logger
	Config      config.PushChannelConfig
}

// Manager keeps one push channel connected.
//
// Phase changes, heartbeat accounting, timers and callback dispatch all run
// on the goroutine that called Run. The connection's reader, the connect
// attempt and the health check run on helper goroutines and report back to
// that loop as events tagged with the connection generation; events from an
// older generation are discarded.
type Manager struct {
	opts    Options
	cfg     config.PushChannelConfig
	started atomic.Bool
	state   atomic.Pointer[State]

	// loop-owned
	events  chan event
	done    chan struct{}
	gen     uint64
	conn    Conn
	current State
	bo      *backoff.ExponentialBackOff

	tick      *time.Timer
	health    *time.Timer
	alive     *time.Timer
	reconnect *time.Timer

	healthRunning bool
}

type eventKind int

const (
	evConnected eventKind = iota
	evConnectFailed
	evMessage
	evPing
	evReadFailed
	evHealth
)

type event struct {
	kind    eventKind
	gen     uint64
	conn    Conn
	data    []byte
	healthy bool
	err     error
}

// New validates opts and builds a Manager in the Disconnected phase.
// Nothing is dialled until Run.
//
// Parameters:
//   - opts: Callbacks, dialer and timing; zero Config fields take their
//     defaults and a nil Dialer uses WebSocketDialer
//
// Returns:
//   - *Manager: Manager ready to Run once
//   - error: If the Address or OnMessage callback is missing
func New(opts Options) (*Manager, error) {
	if opts.Address == nil {
		return nil, fmt.Errorf("push channel address func is required")
	}
	if opts.OnMessage == nil {
		return nil, fmt.Errorf("push channel message func is required")
	}
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{}
	}
	cfg := withDefaults(opts.Config)

	// Reconnect delays grow from InitialReconnectDelay and are capped at
	// MaxReconnectDelay; the backoff is reset on every successful connect.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialReconnectDelay
	bo.Multiplier = cfg.ReconnectMultiplier
	bo.RandomizationFactor = cfg.ReconnectJitter
	bo.MaxInterval = cfg.MaxReconnectDelay
	bo.Reset()

	m := &Manager{
		opts:   opts,
		cfg:    cfg,
		bo:     bo,
		events: make(chan event, eventBuffer),
		done:   make(chan struct{}),
	}
	m.current = State{Server: opts.Server, Phase: Disconnected}
	m.publish()
	return m, nil
}

func withDefaults(c config.PushChannelConfig) config.PushChannelConfig {
	if c.TickInterval <= 0 {
		c.TickInterval = 60 * time.Second
	}
	if c.FirstTickDelay <= 0 {
		c.FirstTickDelay = time.Second
	}
	if c.HeartbeatLimit <= 0 {
		c.HeartbeatLimit = 5
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 300 * time.Second
	}
	if c.InitialHealthCheckDelay <= 0 {
		c.InitialHealthCheckDelay = 3 * time.Second
	}
	if c.AliveLogInterval <= 0 {
		c.AliveLogInterval = 300 * time.Second
	}
	if c.InitialReconnectDelay <= 0 {
		c.InitialReconnectDelay = time.Second
	}
	if c.ReconnectMultiplier < 1 {
		c.ReconnectMultiplier = 2.718
	}
	if c.ReconnectJitter < 0 {
		c.ReconnectJitter = 0
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 100
	}
	return c
}

// State returns the latest snapshot. It is safe to call from any goroutine.
func (m *Manager) State() State {
	return *m.state.Load()
}

// Server returns the vendor server this channel belongs to.
func (m *Manager) Server() string {
	return m.opts.Server
}

// Run connects and keeps the channel up until ctx is cancelled, which
// returns nil, or until MaxRetries consecutive attempts fail, which returns
// ErrRetriesExhausted. A Manager runs once.
func (m *Manager) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(m.done)
	defer m.teardown()

	m.startConnect(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logInfo("push channel stopping", "server", m.opts.Server)
			return nil

		case ev := <-m.events:
			if err := m.handle(ctx, ev); err != nil {
				return err
			}

		case <-timerC(m.reconnect):
			m.reconnect = nil
			m.startConnect(ctx)

		case <-timerC(m.tick):
			m.onTick()

		case <-timerC(m.health):
			m.health.Reset(m.cfg.HealthCheckInterval)
			m.startHealthCheck(ctx)

		case <-timerC(m.alive):
			m.alive.Reset(m.cfg.AliveLogInterval)
			m.logInfo(aliveMessage, "server", m.opts.Server, "heartbeat_count", m.current.HeartbeatCount)
		}
	}
}

func (m *Manager) handle(ctx context.Context, ev event) error {
	if ev.kind == evHealth {
		m.healthRunning = false
	}
	if ev.gen != m.gen {
		if ev.conn != nil {
			ev.conn.Close()
		}
		return nil
	}

	switch ev.kind {
	case evConnected:
		m.onConnected(ev.conn)

	case evConnectFailed:
		return m.onConnectFailed(ev.err)

	case evMessage:
		if m.current.Phase != Connected {
			return nil
		}
		ok := m.dispatch(ctx, ev.data)
		metrics.IncPushChannelFrame(m.opts.Server, ok)
		if !ok {
			m.logWarn("push message rejected, reconnecting", "server", m.opts.Server)
			m.drop("message rejected")
		}

	case evPing:
		m.current.HeartbeatCount = 0
		m.publish()
		m.logDebug("ping received, heartbeat reset", "server", m.opts.Server)

	case evReadFailed:
		m.logWarn("push channel connection lost", "server", m.opts.Server, "error", ev.err)
		m.drop(errString(ev.err))

	case evHealth:
		if m.current.Phase != Connected {
			return nil
		}
		if ev.err != nil {
			m.logError("health check failed, reconnecting", "server", m.opts.Server, "error", ev.err)
			m.drop(errString(ev.err))
			return nil
		}
		if !ev.healthy {
			m.logInfo("health check unhealthy, reconnecting", "server", m.opts.Server)
			m.drop("unhealthy")
		}
	}
	return nil
}

// startConnect begins a connection attempt in the Connecting phase.
func (m *Manager) startConnect(ctx context.Context) {
	// A new generation invalidates events still in flight from the last
	// connection.
	m.gen++
	gen := m.gen
	m.setPhase(Connecting)
	m.logInfo("connecting push channel", "server", m.opts.Server, "attempt", m.current.ReconnectAttempts+1)

	go func() {
		url, err := m.opts.Address(ctx)
		if err != nil {
			m.post(event{kind: evConnectFailed, gen: gen, err: fmt.Errorf("obtaining address: %w", err)})
			return
		}
		conn, err := m.opts.Dialer.Dial(ctx, url)
		if err != nil {
			m.post(event{kind: evConnectFailed, gen: gen, err: fmt.Errorf("dialing: %w", err)})
			return
		}
		if !m.post(event{kind: evConnected, gen: gen, conn: conn}) {
			conn.Close()
		}
	}()
}

func (m *Manager) onConnected(conn Conn) {
	gen := m.gen
	m.conn = conn
	m.bo.Reset()
	m.current.ConsecutiveFailures = 0
	m.current.HeartbeatCount = 0
	m.current.ConnectedSince = time.Now().UTC()
	m.current.LastError = ""
	m.setPhase(Connected)
	m.logInfo("push channel connected", "server", m.opts.Server)

	conn.SetPingHandler(func(appData string) error {
		m.post(event{kind: evPing, gen: gen})
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(controlWriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	go m.read(gen, conn)

	m.tick = time.NewTimer(m.cfg.FirstTickDelay)
	m.alive = time.NewTimer(m.cfg.InitialHealthCheckDelay)
	if m.opts.HealthCheck != nil {
		m.health = time.NewTimer(m.cfg.InitialHealthCheckDelay)
	}
}

func (m *Manager) onConnectFailed(err error) error {
	m.current.ConsecutiveFailures++
	m.current.LastError = errString(err)
	m.logWarn("push channel connection attempt failed", "server", m.opts.Server,
		"consecutive_failures", m.current.ConsecutiveFailures, "error", err)

	// MaxRetries counts consecutive failures, not attempts since Run.
	if m.current.ConsecutiveFailures >= m.cfg.MaxRetries {
		m.setPhase(Disconnected)
		metrics.IncPushChannelGaveUp(m.opts.Server)
		m.logError("push channel reconnect retries exhausted", "server", m.opts.Server,
			"attempts", m.current.ConsecutiveFailures)
		return fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, m.opts.Server, m.current.ConsecutiveFailures, err)
	}
	m.scheduleReconnect()
	return nil
}

// drop closes the current connection and schedules a reconnect.
func (m *Manager) drop(reason string) {
	// Several triggers can fire for the same connection; only the first
	// one tears it down.
	if m.current.Phase != Connected {
		return
	}
	m.closeConn()
	m.current.Disconnects++
	m.current.LastError = reason
	m.current.ConnectedSince = time.Time{}
	m.setPhase(Connecting)
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	m.current.ReconnectAttempts++
	m.publish()
	metrics.IncPushChannelReconnect(m.opts.Server)

	// backoff.Stop (-1) or a value past the cap falls back to the cap.
	delay := m.bo.NextBackOff()
	if delay < 0 || delay > m.cfg.MaxReconnectDelay {
		delay = m.cfg.MaxReconnectDelay
	}
	m.logInfo("reconnecting push channel", "server", m.opts.Server,
		"attempt", m.current.ReconnectAttempts, "delay", delay.String())
	m.reconnect = time.NewTimer(delay)
}

// onTick counts a timer tick without a ping. The vendor pings about once a
// minute, so more than HeartbeatLimit silent ticks means a dead connection.
func (m *Manager) onTick() {
	m.current.HeartbeatCount++
	m.publish()
	m.logDebug("heartbeat tick", "server", m.opts.Server, "heartbeat_count", m.current.HeartbeatCount)

	if m.current.HeartbeatCount > m.cfg.HeartbeatLimit {
		m.logInfo("no ping received, disconnecting", "server", m.opts.Server,
			"heartbeat_limit", m.cfg.HeartbeatLimit, "tick_interval", m.cfg.TickInterval.String())
		m.drop("heartbeat timeout")
		return
	}
	m.tick.Reset(m.cfg.TickInterval)
}

// startHealthCheck runs the health callback off the loop. At most one
// check is in flight.
func (m *Manager) startHealthCheck(ctx context.Context) {
	if m.healthRunning || m.opts.HealthCheck == nil {
		return
	}
	m.healthRunning = true
	gen := m.gen
	go func() {
		healthy, err := m.safeHealthCheck(ctx)
		m.post(event{kind: evHealth, gen: gen, healthy: healthy, err: err})
	}()
}

func (m *Manager) safeHealthCheck(ctx context.Context) (healthy bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			healthy, err = false, fmt.Errorf("health check panicked: %v", r)
		}
	}()
	return m.opts.HealthCheck(ctx)
}

func (m *Manager) dispatch(ctx context.Context, frame []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logError("push message handler panicked", "server", m.opts.Server, "panic", r)
			ok = false
		}
	}()
	return m.opts.OnMessage(ctx, frame)
}

// read pumps frames from conn to the loop until the connection fails.
// Binary frames are ignored.
func (m *Manager) read(gen uint64, conn Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			m.post(event{kind: evReadFailed, gen: gen, err: err})
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if !m.post(event{kind: evMessage, gen: gen, data: data}) {
			return
		}
	}
}

// post hands ev to the loop. It returns false once Run has returned.
func (m *Manager) post(ev event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) closeConn() {
	m.gen++
	stopTimer(&m.tick)
	stopTimer(&m.health)
	stopTimer(&m.alive)
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.logDebug("closing push channel connection", "server", m.opts.Server, "error", err)
		}
		m.conn = nil
	}
}

func (m *Manager) teardown() {
	m.closeConn()
	stopTimer(&m.reconnect)
	m.setPhase(Disconnected)
}

// setPhase publishes the state before OnPhase runs, so the callback sees
// the new phase through State.
func (m *Manager) setPhase(p Phase) {
	from := m.current.Phase
	m.current.Phase = p
	m.publish()
	metrics.SetPushChannelState(m.opts.Server, int(p))
	if from != p && m.opts.OnPhase != nil {
		m.opts.OnPhase(from, p)
	}
}

func (m *Manager) publish() {
	s := m.current
	m.state.Store(&s)
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (m *Manager) logDebug(msg string, args ...any) {
	if m.opts.Logger != nil {
		m.opts.Logger.Debug(msg, args...)
	}
}

func (m *Manager) logInfo(msg string, args ...any) {
	if m.opts.Logger != nil {
		m.opts.Logger.Info(msg, args...)
	}
}

func (m *Manager) logWarn(msg string, args ...any) {
	if m.opts.Logger != nil {
		m.opts.Logger.Warn(msg, args...)
	}
}

func (m *Manager) logError(msg string, args ...any) {
	if m.opts.Logger != nil {
		m.opts.Logger.Error(msg, args...)
	}
}
