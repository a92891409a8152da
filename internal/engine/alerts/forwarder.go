// internal/engine/alerts/forwarder.go
package alerts

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"marketplace-engine/internal/common/config"
	commonhttp "marketplace-engine/internal/common/http"
	"marketplace-engine/internal/common/logger"

	"github.com/lib/pq"
	"github.com/xeipuuv/gojsonschema"
)

// alertEventSchema gates what leaves the process. A malformed notification,
// from a schema migration or a stray pg_notify, is dropped and logged instead
// of being forwarded to the operator webhook.
const alertEventSchema = `{
	"type": "object",
	"required": ["event_type", "payload"],
	"properties": {
		"event_type": {"type": "string", "minLength": 1},
		"payload": {
			"type": "object",
			"required": ["id", "severity", "title", "message", "created_at"],
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"severity": {"type": "string", "enum": ["info", "warning", "critical"]},
				"title": {"type": "string", "minLength": 1},
				"message": {"type": "string"},
				"related_entity": {"type": "string"},
				"created_at": {"type": "string"}
			}
		}
	}
}`

// ListenerFactory opens a LISTEN connection on the alert channel.
type ListenerFactory interface {
	NewListener(minReconnect, maxReconnect time.Duration, callback pq.EventCallbackType) *pq.Listener
}

// Forwarder bridges the in-database alert channel to the operator webhook.
// It consumes pg_notify events, validates each payload against the event
// schema, and POSTs it with a bearer token. Delivery is best effort: the
// alert row is already durable, so a failed POST is logged and dropped.
type Forwarder struct {
	factory ListenerFactory
	client  *commonhttp.Client
	schema  *gojsonschema.Schema
	logger  logger.Logger
	cfg     config.AlertsConfig

	mu       sync.Mutex
	listener *pq.Listener
	stop     chan struct{}
	done     chan struct{}
}

func NewForwarder(factory ListenerFactory, cfg config.AlertsConfig, log logger.Logger) (*Forwarder, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(alertEventSchema))
	if err != nil {
		return nil, fmt.Errorf("alert schema compile failed: %w", err)
	}
	return &Forwarder{
		factory: factory,
		client:  commonhttp.NewClient(cfg.WebhookTimeoutDuration()),
		schema:  schema,
		logger:  log.WithFields(map[string]interface{}{"component": "alert-forwarder"}),
		cfg:     cfg,
	}, nil
}

// Start opens the LISTEN connection and consumes events until Stop.
func (f *Forwarder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listener != nil {
		return nil
	}

	listener := f.factory.NewListener(10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			f.logger.Warn("listener event error", map[string]interface{}{"error": err.Error()})
		}
	})
	if err := listener.Listen(f.cfg.Channel); err != nil {
		listener.Close()
		return fmt.Errorf("listen on %s failed: %w", f.cfg.Channel, err)
	}

	f.listener = listener
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	go f.consume(ctx)

	f.logger.Info("alert forwarder started", map[string]interface{}{"channel": f.cfg.Channel})
	return nil
}

func (f *Forwarder) consume(ctx context.Context) {
	defer close(f.done)

	for {
		select {
		case n := <-f.listener.Notify:
			if n == nil {
				// Reconnect placeholder event; the listener restores LISTEN
				// state itself.
				continue
			}
			f.Forward(ctx, n.Extra)
		case <-time.After(90 * time.Second):
			// Keep the connection honest across idle stretches.
			go f.listener.Ping()
		case <-f.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Forward validates one raw event payload and delivers it to the webhook.
func (f *Forwarder) Forward(ctx context.Context, raw string) {
	result, err := f.schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		f.logger.Warn("alert payload unparseable, dropped", map[string]interface{}{"error": err.Error()})
		return
	}
	if !result.Valid() {
		f.logger.Warn("alert payload failed schema, dropped", map[string]interface{}{
			"errors": fmt.Sprintf("%v", result.Errors()),
		})
		return
	}

	if f.cfg.WebhookURL == "" {
		f.logger.Debug("no webhook configured, alert not forwarded", nil)
		return
	}

	req, err := http.NewRequest(http.MethodPost, f.cfg.WebhookURL, bytes.NewBufferString(raw))
	if err != nil {
		f.logger.Warn("webhook request build failed", map[string]interface{}{"error": err.Error()})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if f.cfg.WebhookToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.WebhookToken)
	}

	resp, err := f.client.DoWithContext(ctx, req)
	if err != nil {
		f.logger.Warn("webhook delivery failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		f.logger.Warn("webhook rejected alert", map[string]interface{}{"status": resp.StatusCode})
		return
	}
	f.logger.Debug("alert forwarded", map[string]interface{}{"status": resp.StatusCode})
}

// Stop closes the LISTEN connection and waits for the consumer to exit.
func (f *Forwarder) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listener == nil {
		return
	}
	close(f.stop)
	<-f.done
	f.listener.Close()
	f.listener = nil
}
