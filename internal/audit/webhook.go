package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/claims-cli/internal/model"
	"github.com/sells-group/claims-cli/internal/store"
)

// Queue is the subset of the store used to park undelivered events.
type Queue interface {
	EnqueueAudit(ctx context.Context, event model.AuditEvent) error
	PendingAudit(ctx context.Context, limit int) ([]model.AuditEvent, error)
	DeleteAudit(ctx context.Context, eventID string) error
}

// WebhookSink posts audit events to an external endpoint. Events that
// cannot be delivered are queued and retried by RetryPending.
type WebhookSink struct {
	url    string
	client *http.Client
	queue  Queue
}

// NewWebhookSink creates a sink posting to url, parking failures in queue.
func NewWebhookSink(url string, queue Queue) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		queue:  queue,
	}
}

// Emit posts the event. A delivery failure is absorbed: the event goes
// to the retry queue and Emit returns nil so claim processing continues.
func (s *WebhookSink) Emit(ctx context.Context, event model.AuditEvent) error {
	if err := s.post(ctx, event); err != nil {
		zap.L().Warn("audit: delivery failed, queuing for retry",
			zap.String("event_id", event.ID),
			zap.String("claim_id", event.ClaimID),
			zap.Error(err),
		)
		if qErr := s.queue.EnqueueAudit(ctx, event); qErr != nil {
			return eris.Wrap(qErr, "audit: queue undelivered event")
		}
		return nil
	}
	return nil
}

// RetryPending drains the retry queue, redelivering up to limit events.
// Events that fail again stay queued. Returns the number delivered.
func (s *WebhookSink) RetryPending(ctx context.Context, limit int) (int, error) {
	pending, err := s.queue.PendingAudit(ctx, limit)
	if err != nil {
		return 0, eris.Wrap(err, "audit: load pending events")
	}

	delivered := 0
	for _, event := range pending {
		if err := s.post(ctx, event); err != nil {
			zap.L().Warn("audit: retry failed",
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
			continue
		}
		if err := s.queue.DeleteAudit(ctx, event.ID); err != nil {
			return delivered, eris.Wrapf(err, "audit: dequeue event %s", event.ID)
		}
		delivered++
	}
	return delivered, nil
}

func (s *WebhookSink) post(ctx context.Context, event model.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return eris.Wrap(err, "audit: marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "audit: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "audit: post event")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("audit: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

var _ Queue = (store.Store)(nil)
