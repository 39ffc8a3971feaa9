package pusher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// BatchEvent is one (channel, event, data) triple of a batch trigger.
type BatchEvent struct {
	Channel string
	Event   string
	Data    string
}

type triggerBody struct {
	Name    string `json:"name"`
	Channel string `json:"channel"`
	Data    string `json:"data"`
}

// Trigger publishes an event on a channel through the signed REST API.
// data must be valid JSON; it is carried as an opaque string and never
// re-serialized.
func (c *Client) Trigger(ctx context.Context, channel, event, data string) error {
	if !json.Valid([]byte(data)) {
		return fmt.Errorf("pusher: trigger: data is not valid JSON")
	}
	return c.trigger(ctx, channel, event, data)
}

// TriggerEncrypted encrypts data under the channel's derived secret
// before publishing. The channel must have been subscribed with
// SubscribeEncrypted. The ciphertext travels as an opaque base64
// string, so JSON validity applies to the plaintext only.
func (c *Client) TriggerEncrypted(ctx context.Context, channel, event, data string) error {
	if !json.Valid([]byte(data)) {
		return fmt.Errorf("pusher: trigger: data is not valid JSON")
	}

	c.mu.RLock()
	secret, ok := c.secrets[channel]
	c.mu.RUnlock()
	if !ok {
		return &ChannelError{Channel: channel, Reason: "not subscribed as an encrypted channel"}
	}

	ciphertext, err := encryptPayload(data, secret)
	if err != nil {
		return err
	}
	return c.trigger(ctx, channel, event, ciphertext)
}

func (c *Client) trigger(ctx context.Context, channel, event, data string) error {
	body, err := json.Marshal(triggerBody{Name: event, Channel: channel, Data: data})
	if err != nil {
		return fmt.Errorf("pusher: trigger: encode body: %w", err)
	}

	path := fmt.Sprintf("/apps/%s/events", c.cfg.AppID)
	return c.post(ctx, "trigger", path, body,
		attribute.String("channel", channel),
		attribute.String("event", event))
}

// TriggerBatch publishes multiple events in a single REST call.
func (c *Client) TriggerBatch(ctx context.Context, events []BatchEvent) error {
	batch := make([]triggerBody, 0, len(events))
	for _, ev := range events {
		batch = append(batch, triggerBody{Name: ev.Event, Channel: ev.Channel, Data: ev.Data})
	}

	body, err := json.Marshal(struct {
		Batch []triggerBody `json:"batch"`
	}{Batch: batch})
	if err != nil {
		return fmt.Errorf("pusher: trigger batch: encode body: %w", err)
	}

	path := fmt.Sprintf("/apps/%s/batch_events", c.cfg.AppID)
	return c.post(ctx, "trigger_batch", path, body,
		attribute.Int("batch_size", len(events)))
}

// post signs and issues one REST call. Any non-2xx status surfaces as an
// APIError carrying the status and body verbatim.
func (c *Client) post(ctx context.Context, operation, path string, body []byte, attrs ...attribute.KeyValue) (err error) {
	ctx, span := startSpan(ctx, "pusher."+operation, attrs...)
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.observeTrigger(operation, status, time.Since(start).Seconds())
		endSpan(span, err)
	}()

	params := c.auth.params(http.MethodPost, path, body)
	url := c.apiBase + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("pusher: %s: build request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pusher: %s: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}
