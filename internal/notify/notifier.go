package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// PanelNotifier POSTs raw event payloads to the panel's callback URL. Only
// echoes travel this way; everything else waits in the mailbox until the
// panel polls.
type PanelNotifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

type Config struct {
	URL     string
	Timeout time.Duration // per-request timeout, 0 means 10s
}

// NewPanelNotifier creates a notifier with its own HTTP client.
func NewPanelNotifier(cfg Config, logger *zap.Logger) *PanelNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &PanelNotifier{
		url: cfg.URL,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Notify delivers one payload to the panel. Any non-2xx answer is an error;
// the first KiB of the response body rides along for debugging.
func (n *PanelNotifier) Notify(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create panel request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "relaydesk/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("panel request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("panel returned non-2xx status: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	n.logger.Debug("panel notified",
		zap.String("url", n.url),
		zap.Int("status_code", resp.StatusCode),
	)

	return nil
}
