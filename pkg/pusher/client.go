// Package pusher implements a client for hosted pub/sub channels: a
// persistent websocket transport for receiving events and a signed REST
// interface for publishing them, with end-to-end encryption for
// private-encrypted channels.
package pusher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/riverline/pusherkit/pkg/logging"
)

const queueCapacity = 100

// Client is a connection to the channel service. All methods are safe
// for concurrent use.
type Client struct {
	cfg     Config
	auth    *authenticator
	apiBase string
	http    *http.Client
	log     *logging.Logger
	metrics *Metrics

	dispatcher *dispatcher
	events     chan Event
	status     *connStatus

	mu       sync.RWMutex
	commands chan wsCommand
	channels map[string]Channel
	secrets  map[string][]byte
	closed   bool

	activityTimeout time.Duration
	pongTimeout     time.Duration
	policy          ReconnectPolicy

	dispatchDone chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used by the client and its transport.
func WithLogger(log *logging.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithHTTPClient sets the HTTP client used for signed REST calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithActivityTimeout sets the default quiet period before the client
// probes the connection with a ping. The service's handshake may
// advertise a different value, which takes precedence.
func WithActivityTimeout(d time.Duration) Option {
	return func(c *Client) { c.activityTimeout = d }
}

// WithPongTimeout bounds the wait for a pong after a probe ping.
func WithPongTimeout(d time.Duration) Option {
	return func(c *Client) { c.pongTimeout = d }
}

// WithReconnectPolicy overrides the reconnection backoff schedule.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// New creates a client and starts its dispatch loop. The client holds no
// connection until Connect is called.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:             cfg,
		auth:            newAuthenticator(cfg.AppKey, cfg.AppSecret),
		apiBase:         cfg.apiBaseURL(),
		http:            &http.Client{Timeout: 30 * time.Second},
		log:             logging.New(nil).WithComponent("pusher"),
		dispatcher:      newDispatcher(),
		events:          make(chan Event, queueCapacity),
		channels:        make(map[string]Channel),
		secrets:         make(map[string][]byte),
		activityTimeout: 120 * time.Second,
		pongTimeout:     30 * time.Second,
		policy:          DefaultReconnectPolicy(),
		dispatchDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.status = &connStatus{metrics: c.metrics}

	go c.dispatcher.run(c.events, c.dispatchDone)
	return c, nil
}

// Connect dials the service and performs the handshake. It returns once
// the connection is established and the socket identifier is recorded;
// the transport then runs in the background, reconnecting under the
// client's policy.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if state, _ := c.status.snapshot(); state != Disconnected && state != Failed {
		return fmt.Errorf("pusher: connect: already %s", state)
	}

	commands := make(chan wsCommand, queueCapacity)
	t := &transport{
		url:              c.cfg.websocketURL(),
		dialer:           &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		status:           c.status,
		events:           c.events,
		commands:         commands,
		log:              c.log.WithComponent("transport"),
		metrics:          c.metrics,
		activityTimeout:  c.activityTimeout,
		pongTimeout:      c.pongTimeout,
		handshakeTimeout: 10 * time.Second,
		writeTimeout:     10 * time.Second,
		policy:           c.policy,
	}

	c.log.Info("connecting", "url", t.url)
	if err := t.connect(ctx); err != nil {
		return err
	}

	c.commands = commands
	return nil
}

// Disconnect requests a clean close of the transport. The client can
// Connect again afterwards.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeTransport()
}

// closeTransport sends the close command if a transport is live.
// Callers hold c.mu.
func (c *Client) closeTransport() error {
	if c.commands == nil {
		return nil
	}
	select {
	case c.commands <- wsCommand{close: true}:
	default:
		// Queue full means the transport already stopped draining.
	}
	close(c.commands)
	c.commands = nil
	return nil
}

// Close disconnects and stops the dispatch loop. The client cannot be
// reused afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	_ = c.closeTransport()
	c.mu.Unlock()

	// Wait for the transport to stop emitting before closing the event
	// queue under the dispatcher.
	deadline := time.After(5 * time.Second)
	for {
		state, _ := c.status.snapshot()
		if state == Disconnected || state == Failed {
			break
		}
		select {
		case <-deadline:
			return fmt.Errorf("pusher: close: transport did not stop")
		case <-time.After(10 * time.Millisecond):
		}
	}

	close(c.events)
	<-c.dispatchDone
	return nil
}

// send enqueues one text frame for the transport.
func (c *Client) send(text string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.commands == nil {
		return ErrNotConnected
	}
	// Only a live session may take frames. A transport mid-reconnect
	// would silently drop anything queued, so the caller gets the error
	// instead.
	if state, _ := c.status.snapshot(); state != Connected {
		return ErrNotConnected
	}
	c.commands <- wsCommand{text: text}
	return nil
}

type subscribePayload struct {
	Channel string `json:"channel"`
}

type subscribeFrame struct {
	Event string           `json:"event"`
	Data  subscribePayload `json:"data"`
}

// Subscribe registers interest in a channel and sends the subscription
// frame over the live socket.
func (c *Client) Subscribe(name string) error {
	c.mu.Lock()
	c.channels[name] = NewChannel(name)
	c.mu.Unlock()

	frame, err := json.Marshal(subscribeFrame{Event: EventSubscribe, Data: subscribePayload{Channel: name}})
	if err != nil {
		return fmt.Errorf("pusher: subscribe: %w", err)
	}
	return c.send(string(frame))
}

// SubscribeEncrypted subscribes to a private-encrypted channel, deriving
// and storing its symmetric secret. The name must carry the
// private-encrypted- prefix; violations fail before any network call.
func (c *Client) SubscribeEncrypted(name string) error {
	if ChannelTypeOf(name) != ChannelPrivateEncrypted {
		return &ChannelError{Channel: name, Reason: "encrypted channels must start with " + encryptedPrefix}
	}

	c.mu.Lock()
	c.secrets[name] = deriveSecret(c.cfg.AppSecret, name)
	c.mu.Unlock()

	return c.Subscribe(name)
}

// Unsubscribe removes a channel and its secret, if any, and sends the
// unsubscription frame. Unsubscribing a channel that is not subscribed
// is not an error.
func (c *Client) Unsubscribe(name string) error {
	c.mu.Lock()
	delete(c.channels, name)
	delete(c.secrets, name)
	c.mu.Unlock()

	frame, err := json.Marshal(subscribeFrame{Event: EventUnsubscribe, Data: subscribePayload{Channel: name}})
	if err != nil {
		return fmt.Errorf("pusher: unsubscribe: %w", err)
	}
	return c.send(string(frame))
}

// Bind registers a handler for an event name. Handlers for the same name
// run in registration order.
func (c *Client) Bind(event string, h Handler) {
	c.dispatcher.bind(event, h)
}

// BindGlobal registers a handler invoked for every dispatched event,
// including connection lifecycle events.
func (c *Client) BindGlobal(h Handler) {
	c.dispatcher.bindGlobal(h)
}

// Unbind removes all handlers for an event name.
func (c *Client) Unbind(event string) {
	c.dispatcher.unbind(event)
}

// Decrypt decrypts an event payload received on an encrypted channel,
// using the secret stored by SubscribeEncrypted. It fails with a
// ChannelError if the channel is not subscribed as encrypted, and with
// ErrDecryption if the ciphertext does not decrypt under the channel
// secret.
func (c *Client) Decrypt(channel, data string) (string, error) {
	c.mu.RLock()
	secret, ok := c.secrets[channel]
	c.mu.RUnlock()
	if !ok {
		return "", &ChannelError{Channel: channel, Reason: "not subscribed as an encrypted channel"}
	}
	return decryptPayload(data, secret)
}

// OnConnect binds a callback invoked whenever a connection is
// established, including after reconnects.
func (c *Client) OnConnect(fn func()) {
	c.Bind(EventConnectionEstablished, func(Event) { fn() })
}

// OnDisconnect binds a callback invoked whenever the connection is lost
// or closed.
func (c *Client) OnDisconnect(fn func()) {
	c.Bind(EventDisconnected, func(Event) { fn() })
}

// ConnectionState returns a snapshot of the transport state.
func (c *Client) ConnectionState() ConnectionState {
	state, _ := c.status.snapshot()
	return state
}

// IsConnected reports whether the transport is currently connected.
func (c *Client) IsConnected() bool {
	return c.ConnectionState() == Connected
}

// SocketID returns the identifier assigned by the service, or the empty
// string when not connected.
func (c *Client) SocketID() string {
	_, id := c.status.snapshot()
	return id
}

// Channels returns the currently subscribed channel names, sorted.
func (c *Client) Channels() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.channels))
	for name := range c.channels {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}
