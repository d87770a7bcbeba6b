package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"cellar/cmd/internal/backoff"
	"cellar/cmd/internal/transport"
	v1 "cellar/shared/contracts/sync/v1"
)

// State is the channel lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const (
	defaultHeartbeatInterval = 25 * time.Second
	defaultDialTimeout       = 10 * time.Second
	defaultWriteTimeout      = 5 * time.Second

	defaultReconnectBase = 5 * time.Second
	// Reconnect delays never exceed this, whatever the policy says.
	reconnectDelayCeiling = 30 * time.Second

	defaultMaxReconnectAttempts = 10
)

// Config wires a Channel.
type Config struct {
	URL string

	// DefaultTopic is joined right after the server's connection ack.
	DefaultTopic string

	HeartbeatInterval time.Duration

	// Reconnect backs off reconnection attempts. Unlike the outbox policy
	// it carries no jitter by default and is capped at 30 seconds, so the
	// two subsystems' retry timing stays uncorrelated.
	Reconnect            backoff.Policy
	MaxReconnectAttempts int

	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c Config) normalized() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Reconnect.Base <= 0 {
		c.Reconnect = backoff.Policy{
			Strategy: backoff.StrategyExponential,
			Base:     defaultReconnectBase,
			MaxDelay: reconnectDelayCeiling,
		}
	}
	if c.Reconnect.MaxDelay <= 0 || c.Reconnect.MaxDelay > reconnectDelayCeiling {
		c.Reconnect.MaxDelay = reconnectDelayCeiling
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// Channel is the client side of the realtime link.
type Channel struct {
	log    *slog.Logger
	dialer transport.Dialer
	cfg    Config
	events *emitter

	now func() time.Time

	// sendMu serializes outbound frames on the current connection.
	sendMu sync.Mutex

	mu                sync.Mutex
	state             State
	clientID          string
	topics            map[string]struct{}
	reconnectAttempts int
	hidden            bool
	destroyed         bool
	lastSeen          time.Time

	// gen invalidates goroutines belonging to superseded connections.
	gen            int
	conn           transport.DuplexChannel
	connDone       chan struct{}
	reconnectTimer *time.Timer
}

// NewChannel constructs a disconnected channel.
func NewChannel(log *slog.Logger, dialer transport.Dialer, cfg Config) *Channel {
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		log:    log,
		dialer: dialer,
		cfg:    cfg.normalized(),
		events: newEmitter(),
		now:    func() time.Time { return time.Now().UTC() },
		state:  StateDisconnected,
		topics: make(map[string]struct{}),
	}
}

// Notify registers a channel event handler and returns a cancel func.
func (c *Channel) Notify(fn Handler) func() {
	return c.events.subscribe(fn)
}

// Connect opens the duplex transport. It is a no-op while already
// Connecting or Connected.
func (c *Channel) Connect() {
	c.mu.Lock()
	if c.destroyed || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.dial(gen)
}

// Disconnect closes the link with the clean close code and cancels any
// pending reconnect. The channel stays usable; Connect starts over.
func (c *Channel) Disconnect() {
	c.teardown("client disconnect")
}

// Destroy is Disconnect plus detaching all event handlers. The instance is
// dead afterwards; any request already in flight is ignored, not cancelled.
func (c *Channel) Destroy() {
	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()

	c.teardown("destroyed")
	c.events.reset()
}

// SetVisibility mirrors the host's foreground/background signal. The
// heartbeat is suspended while hidden; becoming visible while Disconnected
// triggers an immediate reconnect attempt.
func (c *Channel) SetVisibility(visible bool) {
	c.mu.Lock()
	c.hidden = !visible
	state := c.state
	c.mu.Unlock()

	if visible && state == StateDisconnected {
		c.Connect()
	}
}

// JoinTopic asks the server for membership in topic. The local topic set
// is only updated by the server's acknowledgement.
func (c *Channel) JoinTopic(topic string) error {
	return c.sendControl(v1.TypeTopicJoin, topic, v1.TopicJoinPayload{Topic: topic})
}

// LeaveTopic asks the server to drop membership in topic.
func (c *Channel) LeaveTopic(topic string) error {
	return c.sendControl(v1.TypeTopicLeave, topic, v1.TopicLeavePayload{Topic: topic})
}

// ---- accessors ----

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ClientID returns the server-assigned session identity, empty while
// disconnected.
func (c *Channel) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Topics returns the acknowledged topic memberships, sorted.
func (c *Channel) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ReconnectAttempts returns the current reconnect attempt count.
func (c *Channel) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectAttempts
}

// ---- connection lifecycle ----

func (c *Channel) dial(gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	conn, err := c.dialer.Dial(ctx, c.cfg.URL)
	cancel()

	if err != nil {
		c.log.Info("ws.dial.fail", "url", c.cfg.URL, "err", err)
		c.onDisconnect(gen, err)
		return
	}

	c.mu.Lock()
	if c.destroyed || gen != c.gen {
		c.mu.Unlock()
		_ = conn.Close("superseded")
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.reconnectAttempts = 0
	c.lastSeen = c.now()
	done := make(chan struct{})
	c.connDone = done
	c.mu.Unlock()

	c.log.Info("ws.connect", "url", c.cfg.URL)
	c.events.emit(Event{Type: EventConnect})

	go c.heartbeatLoop(conn, done)
	c.readLoop(gen, conn)
}

func (c *Channel) readLoop(gen int, conn transport.DuplexChannel) {
	for {
		data, err := conn.Receive(context.Background())
		if err != nil {
			c.onDisconnect(gen, err)
			return
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("ws.read.bad_json", "err", err)
			continue
		}
		if err := env.Validate(); err != nil {
			c.log.Warn("ws.read.bad_envelope", "type", env.Type, "err", err)
			continue
		}

		c.dispatch(env)
	}
}

func (c *Channel) heartbeatLoop(conn transport.DuplexChannel, done chan struct{}) {
	t := time.NewTicker(c.cfg.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-done:
			return
		case <-t.C:
			c.mu.Lock()
			hidden := c.hidden
			c.mu.Unlock()
			if hidden {
				// Backgrounded: liveness pings are suspended.
				continue
			}

			payload, _ := json.Marshal(v1.HeartbeatPayload{SentAt: c.now()})
			env := c.newEnvelope(v1.TypeHeartbeat, "", payload)
			if err := c.write(conn, env); err != nil {
				// The read loop will observe the broken link shortly.
				c.log.Info("ws.heartbeat.fail", "err", err)
			}
		}
	}
}

// onDisconnect handles transport errors and closes for the connection
// generation gen. Stale generations are ignored.
func (c *Channel) onDisconnect(gen int, cause error) {
	clean := isCleanClose(cause)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}

	conn := c.conn
	c.conn = nil
	if c.connDone != nil {
		close(c.connDone)
		c.connDone = nil
	}

	wasConnected := c.state == StateConnected
	c.state = StateDisconnected
	c.clientID = ""
	c.topics = make(map[string]struct{})

	scheduleReconnect := false
	var delay time.Duration
	if !clean && !c.destroyed && c.reconnectAttempts < c.cfg.MaxReconnectAttempts {
		c.reconnectAttempts++
		delay = backoff.Delay(c.reconnectAttempts, c.cfg.Reconnect)
		scheduleReconnect = true

		if c.reconnectTimer != nil {
			c.reconnectTimer.Stop()
		}
		c.reconnectTimer = time.AfterFunc(delay, c.Connect)
	}
	attempts := c.reconnectAttempts
	exhausted := !clean && !scheduleReconnect && !c.destroyed
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close("closing")
	}

	if wasConnected {
		ev := Event{Type: EventDisconnect}
		if !clean {
			ev.Err = cause
		}
		c.log.Info("ws.disconnect", "clean", clean, "err", cause)
		c.events.emit(ev)
	}

	if scheduleReconnect {
		c.log.Info("ws.reconnect.schedule", "attempt", attempts, "delay", delay)
	} else if exhausted {
		c.log.Warn("ws.reconnect.exhausted", "attempts", attempts)
	}
}

// teardown is the intentional close path shared by Disconnect and Destroy.
func (c *Channel) teardown(reason string) {
	c.mu.Lock()
	// Orphan any running read/heartbeat goroutines.
	c.gen++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	if c.connDone != nil {
		close(c.connDone)
		c.connDone = nil
	}
	wasConnected := c.state == StateConnected
	c.state = StateDisconnected
	c.clientID = ""
	c.topics = make(map[string]struct{})
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(reason)
	}
	if wasConnected {
		c.events.emit(Event{Type: EventDisconnect})
	}
}

// ---- inbound dispatch ----

func (c *Channel) dispatch(env v1.Envelope) {
	c.mu.Lock()
	c.lastSeen = c.now()
	clientID := c.clientID
	c.mu.Unlock()

	c.events.emit(Event{Type: EventMessage, ClientID: clientID, Envelope: &env})

	switch env.Type {
	case v1.TypeConnectionAck:
		var p v1.ConnectionAckPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ClientID == "" {
			c.log.Warn("ws.ack.invalid", "err", err)
			return
		}
		c.mu.Lock()
		c.clientID = p.ClientID
		c.mu.Unlock()
		c.log.Info("ws.session", "client_id", p.ClientID)

		if c.cfg.DefaultTopic != "" {
			if err := c.JoinTopic(c.cfg.DefaultTopic); err != nil {
				c.log.Warn("ws.topic.join_fail", "topic", c.cfg.DefaultTopic, "err", err)
			}
		}

	case v1.TypeHeartbeatAck:
		// Liveness refresh already happened above.

	case v1.TypeTopicJoined:
		var p v1.TopicJoinedPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil && p.Topic != "" {
			c.mu.Lock()
			c.topics[p.Topic] = struct{}{}
			c.mu.Unlock()
			c.log.Info("ws.topic.joined", "topic", p.Topic)
		}

	case v1.TypeTopicLeft:
		var p v1.TopicLeftPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil && p.Topic != "" {
			c.mu.Lock()
			delete(c.topics, p.Topic)
			c.mu.Unlock()
			c.log.Info("ws.topic.left", "topic", p.Topic)
		}

	case v1.TypeUpdate:
		var p v1.UpdatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.log.Warn("ws.update.invalid", "err", err)
			return
		}
		c.events.emit(Event{Type: EventUpdate, ClientID: clientID, Envelope: &env, Update: &p})

	case v1.TypeAction:
		var p v1.ActionPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.log.Warn("ws.action.invalid", "err", err)
			return
		}
		c.events.emit(Event{Type: EventAction, ClientID: clientID, Envelope: &env, Action: &p})

	case v1.TypeNotice:
		var p v1.NoticePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.log.Warn("ws.notice.invalid", "err", err)
			return
		}
		c.events.emit(Event{Type: EventNotice, ClientID: clientID, Envelope: &env, Notice: &p})

	case v1.TypeError:
		var p v1.ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		c.log.Warn("ws.server_error", "code", p.Code, "message", p.Message)
	}
}

// ---- outbound ----

var errNotConnected = errors.New("realtime: not connected")

func (c *Channel) sendControl(typ, topic string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return errNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.write(conn, c.newEnvelope(typ, topic, data))
}

func (c *Channel) write(conn transport.DuplexChannel, env v1.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()
	return conn.Send(ctx, data)
}

func (c *Channel) newEnvelope(typ, topic string, payload json.RawMessage) v1.Envelope {
	id, err := NewEnvelopeID(c.now())
	if err != nil {
		c.log.Warn("ws.envelope_id.fail", "err", err)
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		Topic:   topic,
		TS:      c.now(),
		Payload: payload,
	}
}

func isCleanClose(err error) bool {
	var ce *transport.CloseError
	return errors.As(err, &ce) && ce.Clean()
}
