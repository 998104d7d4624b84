package webhook

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/downloadnotifier/downloadnotifier/internal/notification/types"
)

const (
	instanceName      = "DownloadNotifier"
	eventTypeTest     = "test"
	eventTypeComplete = "download.complete"
)

// Settings contains webhook-specific configuration
type Settings struct {
	URL      string            `json:"url" mapstructure:"url"`
	Method   string            `json:"method,omitempty" mapstructure:"method"`
	Username string            `json:"username,omitempty" mapstructure:"username"`
	Password string            `json:"password,omitempty" mapstructure:"password"`
	Headers  map[string]string `json:"headers,omitempty" mapstructure:"headers"`
}

// Notifier sends completion events to a custom webhook endpoint
type Notifier struct {
	name       string
	settings   Settings
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a new webhook notifier
func New(name string, settings Settings, httpClient *http.Client, logger zerolog.Logger) *Notifier {
	if settings.Method == "" {
		settings.Method = http.MethodPost
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Notifier{
		name:       name,
		settings:   settings,
		httpClient: httpClient,
		logger:     logger.With().Str("notifier", "webhook").Str("name", name).Logger(),
	}
}

func (n *Notifier) Type() types.NotifierType {
	return types.NotifierWebhook
}

func (n *Notifier) Name() string {
	return n.name
}

// Test sends a test payload to verify the endpoint accepts requests.
func (n *Notifier) Test(ctx context.Context) error {
	payload := Payload{
		EventType:    eventTypeTest,
		InstanceName: instanceName,
		Message:      "Test notification from DownloadNotifier",
		Timestamp:    time.Now().UTC(),
	}
	return n.send(ctx, payload)
}

func (n *Notifier) OnComplete(ctx context.Context, event types.CompletionEvent) error {
	payload := Payload{
		EventType:    eventTypeComplete,
		InstanceName: instanceName,
		Timestamp:    event.CompletedAt.UTC(),
		Download: &PayloadDownload{
			Path:         event.Path,
			Name:         event.Name,
			Size:         event.Size,
			ExpectedSize: event.ExpectedSize,
			ContentType:  event.ContentType,
			FirstSeenAt:  event.FirstSeenAt.UTC(),
		},
		SessionID: event.SessionID,
	}
	return n.send(ctx, payload)
}

func (n *Notifier) send(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, n.settings.Method, n.settings.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	// Add basic auth if configured
	if n.settings.Username != "" && n.settings.Password != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(n.settings.Username + ":" + n.settings.Password))
		req.Header.Set("Authorization", "Basic "+auth)
	}

	for key, value := range n.settings.Headers {
		req.Header.Set(key, value)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Debug().Str("eventType", payload.EventType).Int("status", resp.StatusCode).Msg("Webhook delivered")
	return nil
}

type Payload struct {
	EventType    string           `json:"eventType"`
	InstanceName string           `json:"instanceName"`
	Timestamp    time.Time        `json:"timestamp"`
	Message      string           `json:"message,omitempty"`
	Download     *PayloadDownload `json:"download,omitempty"`
	SessionID    string           `json:"sessionId,omitempty"`
}

type PayloadDownload struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	ExpectedSize int64     `json:"expectedSize,omitempty"`
	ContentType  string    `json:"contentType,omitempty"`
	FirstSeenAt  time.Time `json:"firstSeenAt"`
}
