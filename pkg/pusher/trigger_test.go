package pusher

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

type capturedRequest struct {
	method string
	path   string
	query  url.Values
	body   []byte
}

// newRESTClient returns a client whose REST calls hit an in-process
// server, plus a channel of captured requests.
func newRESTClient(t *testing.T, status int, respBody string) (*Client, <-chan capturedRequest) {
	t.Helper()
	requests := make(chan capturedRequest, 8)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests <- capturedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.Query(),
			body:   body,
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)

	c, err := New(
		Config{AppID: "77", AppKey: "app-key", AppSecret: "app-secret", Cluster: "eu"},
		WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	c.apiBase = srv.URL

	return c, requests
}

func TestTriggerSendsSignedRequest(t *testing.T) {
	c, requests := newRESTClient(t, http.StatusOK, "{}")

	if err := c.Trigger(context.Background(), "orders", "order-created", `{"id":1}`); err != nil {
		t.Fatalf("Trigger error = %v", err)
	}

	req := <-requests
	if req.method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.method)
	}
	if req.path != "/apps/77/events" {
		t.Errorf("path = %s, want /apps/77/events", req.path)
	}

	var body triggerBody
	if err := json.Unmarshal(req.body, &body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if body.Name != "order-created" || body.Channel != "orders" || body.Data != `{"id":1}` {
		t.Errorf("body = %+v", body)
	}

	// Recompute the signature server-side from the received request.
	sum := md5.Sum(req.body)
	if got := req.query.Get("body_md5"); got != hex.EncodeToString(sum[:]) {
		t.Errorf("body_md5 = %s does not match the received body", got)
	}
	unsigned := url.Values{}
	for _, k := range []string{"auth_key", "auth_timestamp", "auth_version", "body_md5"} {
		if req.query.Get(k) == "" {
			t.Fatalf("missing query parameter %s", k)
		}
		unsigned.Set(k, req.query.Get(k))
	}
	verifier := newAuthenticator("app-key", "app-secret")
	want := verifier.sign("POST", req.path, unsigned)
	if got := req.query.Get("auth_signature"); got != want {
		t.Errorf("auth_signature = %s, want %s", got, want)
	}
}

func TestTriggerRejectsInvalidJSON(t *testing.T) {
	c, requests := newRESTClient(t, http.StatusOK, "{}")

	if err := c.Trigger(context.Background(), "orders", "order-created", "not json"); err == nil {
		t.Fatal("Trigger should reject non-JSON data")
	}
	if len(requests) != 0 {
		t.Error("no request should be made for invalid data")
	}
}

func TestTriggerAPIError(t *testing.T) {
	c, _ := newRESTClient(t, http.StatusUnauthorized, "forbidden app")

	err := c.Trigger(context.Background(), "orders", "order-created", `{}`)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error should be an APIError, got: %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", apiErr.Status)
	}
	if apiErr.Body != "forbidden app" {
		t.Errorf("Body = %q, want the response body verbatim", apiErr.Body)
	}
}

func TestTriggerBatchBodyShape(t *testing.T) {
	c, requests := newRESTClient(t, http.StatusOK, "{}")

	batch := []BatchEvent{
		{Channel: "orders", Event: "order-created", Data: `{"id":1}`},
		{Channel: "alerts", Event: "paged", Data: `{"level":"warn"}`},
	}
	if err := c.TriggerBatch(context.Background(), batch); err != nil {
		t.Fatalf("TriggerBatch error = %v", err)
	}

	req := <-requests
	if req.path != "/apps/77/batch_events" {
		t.Errorf("path = %s, want /apps/77/batch_events", req.path)
	}

	var body struct {
		Batch []triggerBody `json:"batch"`
	}
	if err := json.Unmarshal(req.body, &body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if len(body.Batch) != 2 {
		t.Fatalf("batch size = %d, want 2", len(body.Batch))
	}
	if body.Batch[0].Name != "order-created" || body.Batch[0].Channel != "orders" {
		t.Errorf("batch[0] = %+v", body.Batch[0])
	}
	if body.Batch[1].Name != "paged" || body.Batch[1].Data != `{"level":"warn"}` {
		t.Errorf("batch[1] = %+v", body.Batch[1])
	}
}

func TestTriggerEncryptedRequiresSubscription(t *testing.T) {
	c, requests := newRESTClient(t, http.StatusOK, "{}")

	err := c.TriggerEncrypted(context.Background(), "private-encrypted-orders", "order-created", `{}`)
	var chErr *ChannelError
	if !errors.As(err, &chErr) {
		t.Fatalf("error should be a ChannelError, got: %v", err)
	}
	if len(requests) != 0 {
		t.Error("no request should be made without a stored secret")
	}
}

func TestTriggerEncryptedPayload(t *testing.T) {
	c, requests := newRESTClient(t, http.StatusOK, "{}")

	// Store the channel secret the way subscription does.
	c.mu.Lock()
	c.secrets["private-encrypted-orders"] = deriveSecret("app-secret", "private-encrypted-orders")
	c.mu.Unlock()

	if err := c.TriggerEncrypted(context.Background(), "private-encrypted-orders", "order-created", `{"id":1}`); err != nil {
		t.Fatalf("TriggerEncrypted error = %v", err)
	}

	req := <-requests
	var body triggerBody
	if err := json.Unmarshal(req.body, &body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if body.Data == `{"id":1}` {
		t.Fatal("payload should not leave in plaintext")
	}

	secret := deriveSecret("app-secret", "private-encrypted-orders")
	plain, err := decryptPayload(body.Data, secret)
	if err != nil {
		t.Fatalf("published payload should decrypt under the derived secret: %v", err)
	}
	if plain != `{"id":1}` {
		t.Errorf("decrypted payload = %q, want the original", plain)
	}
}
