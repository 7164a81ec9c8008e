// Package notify delivers batch alerts to an external webhook.
package notify

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/config"
	"github.com/sells-group/invoice-cli/internal/model"
)

// Notifier sends alerts somewhere a human will see them.
type Notifier interface {
	Notify(ctx context.Context, batch *model.Batch, alerts []model.Alert) int
}

// Payload is the JSON body posted for each alert.
type Payload struct {
	BatchID    string          `json:"batch_id"`
	BatchName  string          `json:"batch_name"`
	VendorID   string          `json:"vendor_id"`
	DocumentID string          `json:"document_id"`
	Type       model.AlertType `json:"type"`
	Severity   model.Severity  `json:"severity"`
	Message    string          `json:"message"`
	Details    map[string]any  `json:"details,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Webhook posts alerts at or above a minimum severity to a URL.
type Webhook struct {
	url         string
	minSeverity model.Severity
	client      *resty.Client
}

// NewWebhook creates a Webhook from config. It returns nil when no URL is set.
func NewWebhook(cfg config.NotifyConfig) *Webhook {
	if cfg.WebhookURL == "" {
		return nil
	}
	minSev := model.Severity(cfg.MinSeverity)
	if !minSev.Valid() {
		minSev = model.SeverityHigh
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Webhook{url: cfg.WebhookURL, minSeverity: minSev, client: client}
}

// Filter returns the alerts that meet the minimum severity.
func (w *Webhook) Filter(alerts []model.Alert) []model.Alert {
	var out []model.Alert
	for _, a := range alerts {
		if !a.Dismissed && a.Severity.AtLeast(w.minSeverity) {
			out = append(out, a)
		}
	}
	return out
}

// Notify delivers qualifying alerts one request each and returns how many
// were accepted. Delivery failures are logged, never returned.
func (w *Webhook) Notify(ctx context.Context, batch *model.Batch, alerts []model.Alert) int {
	sent := 0
	for _, a := range w.Filter(alerts) {
		if err := w.send(ctx, batch, a); err != nil {
			zap.L().Error("notify: failed to send alert",
				zap.String("alert_id", a.ID),
				zap.String("type", string(a.Type)),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	if sent > 0 {
		zap.L().Info("notify: alerts sent", zap.String("batch_id", batch.ID), zap.Int("sent", sent))
	}
	return sent
}

func (w *Webhook) send(ctx context.Context, batch *model.Batch, a model.Alert) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(Payload{
			BatchID:    batch.ID,
			BatchName:  batch.Name,
			VendorID:   batch.VendorID,
			DocumentID: a.DocumentID,
			Type:       a.Type,
			Severity:   a.Severity,
			Message:    a.Message,
			Details:    a.Metadata,
			Timestamp:  a.CreatedAt,
		}).
		Post(w.url)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	if resp.StatusCode() >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode())
	}
	return nil
}
