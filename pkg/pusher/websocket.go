package pusher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/riverline/pusherkit/pkg/logging"
)

// ConnectionState is the transport lifecycle state. The transport
// goroutine is the single writer; readers take a snapshot.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "disconnected"
	}
}

// connStatus holds the connection state and the socket identifier under
// one lock so the invariant holds atomically: Connected implies a
// non-empty socket id, and leaving Connected clears it.
type connStatus struct {
	mu       sync.RWMutex
	state    ConnectionState
	socketID string
	metrics  *Metrics
}

func (c *connStatus) set(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	if s != Connected {
		c.socketID = ""
	}
	c.mu.Unlock()
	c.metrics.setState(s)
}

func (c *connStatus) setConnected(socketID string) {
	c.mu.Lock()
	c.state = Connected
	c.socketID = socketID
	c.mu.Unlock()
	c.metrics.setState(Connected)
}

func (c *connStatus) snapshot() (ConnectionState, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.socketID
}

// wsCommand is a tagged command for the transport: a text frame to send,
// or a close request.
type wsCommand struct {
	text  string
	close bool
}

// ReconnectPolicy bounds the transport's retry behavior after a lost
// connection. After MaxAttempts failed attempts the transport enters
// Failed and stops until a new Connect call.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// DefaultReconnectPolicy returns the default backoff schedule.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  6,
	}
}

// transport owns the live websocket. All writes happen on its goroutine,
// fed by the command queue; decoded events leave through the bounded
// event queue, blocking when the dispatcher falls behind.
type transport struct {
	url      string
	dialer   *websocket.Dialer
	status   *connStatus
	events   chan<- Event
	commands <-chan wsCommand
	log      *logging.Logger
	metrics  *Metrics

	activityTimeout  time.Duration
	pongTimeout      time.Duration
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	policy           ReconnectPolicy
}

type frameResult struct {
	data []byte
	err  error
}

// connect dials the endpoint and performs the service handshake. The
// client calls this synchronously so Connect only returns once the
// socket identifier is recorded.
func (t *transport) connect(ctx context.Context) error {
	t.status.set(Connecting)

	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		t.status.set(Disconnected)
		return fmt.Errorf("dial %s: %w", t.url, err)
	}

	if err := t.handshake(conn); err != nil {
		_ = conn.Close()
		t.status.set(Disconnected)
		return err
	}

	go t.run(conn)
	return nil
}

// handshake expects the first inbound frame to be a
// connection-established event carrying the socket identifier. Anything
// else fails the handshake.
func (t *transport) handshake(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(t.handshakeTimeout))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	ev, err := decodeEvent(frame)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	hs, err := decodeHandshake(ev)
	if err != nil {
		return err
	}

	// The service advertises its activity timeout in the handshake
	// payload; prefer it over the configured default.
	if hs.ActivityTimeout > 0 {
		t.activityTimeout = time.Duration(hs.ActivityTimeout) * time.Second
	}

	t.status.setConnected(hs.SocketID)
	t.log.Info("connected", "socket_id", hs.SocketID)
	t.emit(ev)
	return nil
}

// run drives sessions until a clean close, command-queue closure, or
// exhausted reconnection attempts.
func (t *transport) run(conn *websocket.Conn) {
	for {
		err := t.session(conn)
		if err == nil {
			// Emit before the state change: Close waits for the
			// Disconnected state and then tears down the event queue.
			t.emit(Event{Event: EventDisconnected})
			t.status.set(Disconnected)
			t.log.Info("disconnected")
			return
		}

		t.log.Warn("connection lost", "error", err)
		t.emit(Event{Event: EventDisconnected})

		conn = t.reconnect()
		if conn == nil {
			return
		}
	}
}

// session runs one live connection. It returns nil when a close was
// requested (or all command senders are gone) and an error when the
// transport failed.
func (t *transport) session(conn *websocket.Conn) error {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	frames := make(chan frameResult)
	go t.readLoop(conn, frames, done)

	activity := time.NewTimer(t.activityTimeout)
	defer activity.Stop()
	pong := time.NewTimer(t.pongTimeout)
	pong.Stop()
	defer pong.Stop()
	awaitingPong := false

	for {
		var pongC <-chan time.Time
		if awaitingPong {
			pongC = pong.C
		}

		select {
		case cmd, ok := <-t.commands:
			if !ok || cmd.close {
				t.closeConn(conn)
				return nil
			}
			if err := t.write(conn, cmd.text); err != nil {
				return err
			}

		case fr := <-frames:
			if fr.err != nil {
				return fmt.Errorf("read frame: %w", fr.err)
			}
			awaitingPong = false
			pong.Stop()
			resetTimer(activity, t.activityTimeout)

			ev, err := decodeEvent(fr.data)
			if err != nil {
				t.log.Debug("dropping unrecognized frame", "error", err)
				t.metrics.frameDropped()
				continue
			}

			switch ev.Event {
			case EventPing:
				if err := t.write(conn, systemFrame(EventPong)); err != nil {
					return err
				}
			case EventPong:
				// Keep-alive answered; not surfaced.
			default:
				t.metrics.eventReceived(ev)
				t.emit(ev)
			}

		case <-activity.C:
			// No traffic within the activity timeout: probe the service.
			if err := t.write(conn, systemFrame(EventPing)); err != nil {
				return err
			}
			awaitingPong = true
			resetTimer(pong, t.pongTimeout)
			resetTimer(activity, t.activityTimeout)

		case <-pongC:
			return errors.New("no pong within timeout")
		}
	}
}

// reconnect applies the backoff policy. It returns a handshaken
// connection, or nil after transitioning to Failed (retries exhausted)
// or Disconnected (close requested while waiting).
func (t *transport) reconnect() *websocket.Conn {
	t.status.set(Reconnecting)
	delay := t.policy.InitialDelay

	for attempt := 1; attempt <= t.policy.MaxAttempts; attempt++ {
		timer := time.NewTimer(delay)
	wait:
		for {
			select {
			case cmd, ok := <-t.commands:
				if !ok || cmd.close {
					// The loss that led here already emitted a
					// disconnected event; closing ends the outage
					// without a second one.
					timer.Stop()
					t.status.set(Disconnected)
					return nil
				}
				// A send while reconnecting cannot be applied; the
				// client rejects sends in this state, so this only
				// happens on a race. Drop it with a diagnostic.
				t.log.Warn("dropping frame queued while reconnecting")
			case <-timer.C:
				break wait
			}
		}

		t.metrics.reconnect()
		t.log.Info("reconnecting", "attempt", attempt, "max_attempts", t.policy.MaxAttempts)
		t.status.set(Connecting)

		conn, _, err := t.dialer.Dial(t.url, nil)
		if err == nil {
			if herr := t.handshake(conn); herr == nil {
				return conn
			} else {
				t.log.Warn("handshake failed", "error", herr)
				_ = conn.Close()
			}
		} else {
			t.log.Warn("dial failed", "error", err)
		}

		t.status.set(Reconnecting)
		delay *= 2
		if delay > t.policy.MaxDelay {
			delay = t.policy.MaxDelay
		}
	}

	t.status.set(Failed)
	t.log.Error("reconnection attempts exhausted")
	return nil
}

// readLoop pumps inbound frames to the session loop. It exits when the
// connection errors or the session is done.
func (t *transport) readLoop(conn *websocket.Conn, frames chan<- frameResult, done <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		select {
		case frames <- frameResult{data: data, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (t *transport) write(conn *websocket.Conn, text string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (t *transport) closeConn(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.Close()
}

func (t *transport) emit(ev Event) {
	t.events <- ev
}

func systemFrame(event string) string {
	frame, _ := json.Marshal(Event{Event: event, Data: "{}"})
	return string(frame)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
