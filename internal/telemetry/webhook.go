package telemetry

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/uicp/runtime/pkg/uicp"
)

// WebhookSink POSTs each event as JSON to a fixed URL, HMAC-signing the
// body when a secret is configured. Grounded on the teacher's
// WebhookChannelDriver, narrowed to a single fixed destination since
// this runtime has one host, not a per-kitchen channel registry.
type WebhookSink struct {
	URL    string
	Secret string
	client *http.Client
}

// NewWebhookSink builds a sink with a bounded HTTP client, mirroring the
// teacher driver's 15s client timeout.
func NewWebhookSink(url, secret string) *WebhookSink {
	return &WebhookSink{
		URL:    url,
		Secret: secret,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (w *WebhookSink) Name() string { return "webhook:" + w.URL }

// Send posts the event once; unlike the teacher's 3-attempt retry loop,
// a single attempt is enough here since the emitter already treats
// delivery as fire-and-forget and logs failures rather than retrying.
func (w *WebhookSink) Send(ctx context.Context, ev uicp.TelemetryEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal telemetry payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-UICP-Event", string(ev.Kind))

	if w.Secret != "" {
		mac := hmac.New(sha256.New, []byte(w.Secret))
		mac.Write(body)
		req.Header.Set("X-UICP-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, w.URL)
	}
	return nil
}
