package pusher

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected indicates a send was attempted before the transport
	// was established.
	ErrNotConnected = errors.New("pusher: not connected")

	// ErrClosed indicates the client has been closed.
	ErrClosed = errors.New("pusher: client closed")

	// ErrDecryption indicates a ciphertext could not be decrypted.
	// With CBC there is no integrity tag, so corruption and tampering
	// both surface as this error.
	ErrDecryption = errors.New("pusher: decryption failed")
)

// APIError is a non-2xx response from the REST API. The response body is
// carried verbatim.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pusher: api error: status %d: %s", e.Status, e.Body)
}

// ChannelError indicates a channel-level contract violation, such as
// subscribing to an encrypted channel without the required prefix or
// triggering on an encrypted channel with no stored secret.
type ChannelError struct {
	Channel string
	Reason  string
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("pusher: channel %q: %s", e.Channel, e.Reason)
}
