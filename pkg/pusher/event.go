package pusher

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Protocol event names. Events in the pusher: namespace are generated by
// the service or by the engine itself; everything else is user traffic.
const (
	EventConnectionEstablished = "pusher:connection_established"
	EventDisconnected          = "pusher:disconnected"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventError                 = "pusher:error"
)

// Event is a single decoded frame. Data is carried as an opaque string
// (usually itself JSON) and is never re-serialized by the engine, so the
// payload reaches handlers byte for byte as it arrived.
type Event struct {
	Event   string `json:"event"`
	Channel string `json:"channel,omitempty"`
	Data    string `json:"data,omitempty"`
}

// IsSystem reports whether the event belongs to the pusher: namespace.
func (e Event) IsSystem() bool {
	return strings.HasPrefix(e.Event, "pusher:")
}

// decodeEvent parses an inbound text frame into an Event. The service
// sends data either as a JSON-encoded string or as a bare object; both
// forms are preserved as the raw payload text.
func decodeEvent(frame []byte) (Event, error) {
	var raw struct {
		Event   string          `json:"event"`
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Event{}, fmt.Errorf("decode frame: %w", err)
	}
	if raw.Event == "" {
		return Event{}, fmt.Errorf("decode frame: missing event name")
	}

	ev := Event{Event: raw.Event, Channel: raw.Channel}
	if len(raw.Data) > 0 {
		var s string
		if err := json.Unmarshal(raw.Data, &s); err == nil {
			ev.Data = s
		} else {
			ev.Data = string(raw.Data)
		}
	}
	return ev, nil
}

// handshakePayload is the data carried by pusher:connection_established.
type handshakePayload struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

func decodeHandshake(ev Event) (handshakePayload, error) {
	if ev.Event != EventConnectionEstablished {
		return handshakePayload{}, fmt.Errorf("handshake: unexpected first event %q", ev.Event)
	}
	var p handshakePayload
	if err := json.Unmarshal([]byte(ev.Data), &p); err != nil {
		return handshakePayload{}, fmt.Errorf("handshake: decode payload: %w", err)
	}
	if p.SocketID == "" {
		return handshakePayload{}, fmt.Errorf("handshake: missing socket_id")
	}
	return p, nil
}
