// Package events publishes lifecycle events consumed by an external job
// runner for side effects such as notification emails and scheduled story
// deletion. Emission is fire-and-forget: failures are logged, never returned.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Event names understood by the job runner.
const (
	ConnectionRequested = "connection.requested"
	StoryCreated        = "story.created"
)

// Event carries the minimal payload the job runner needs to schedule work.
type Event struct {
	Name       string    `json:"name"`
	ActorID    string    `json:"actor_id"`
	SubjectID  string    `json:"subject_id,omitempty"`
	EntityID   string    `json:"entity_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Emitter publishes events to the external trigger collaborator.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// NopEmitter discards events; used when no trigger endpoint is configured.
type NopEmitter struct{}

// Emit discards the event.
func (NopEmitter) Emit(context.Context, Event) {}

const defaultEmitTimeout = 5 * time.Second

var errMissingWebhookURL = errors.New("events: webhook url required")

// WebhookEmitterConfig configures the webhook-backed emitter.
type WebhookEmitterConfig struct {
	URL        string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

// WebhookEmitter POSTs each event as JSON to a configured endpoint on a
// background goroutine. Deliveries carry their own deadline so a slow
// consumer never delays the emitting request.
type WebhookEmitter struct {
	url        string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// NewWebhookEmitter constructs a webhook emitter.
func NewWebhookEmitter(cfg WebhookEmitterConfig) (*WebhookEmitter, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errMissingWebhookURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultEmitTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookEmitter{
		url:        url,
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// Emit schedules one asynchronous delivery of the event.
func (e *WebhookEmitter) Emit(_ context.Context, event Event) {
	go e.post(event)
}

func (e *WebhookEmitter) post(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.Error("event encode failed", zap.String("event", event.Name), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		e.logger.Error("event request build failed", zap.String("event", event.Name), zap.Error(err))
		return
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := e.httpClient.Do(request)
	if err != nil {
		e.logger.Warn("event delivery failed", zap.String("event", event.Name), zap.Error(err))
		return
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		e.logger.Warn("event delivery rejected",
			zap.String("event", event.Name),
			zap.Int("status", response.StatusCode))
	}
}
