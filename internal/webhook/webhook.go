package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/owntube/owntube/internal/config"
	"github.com/owntube/owntube/internal/logging"
	"github.com/owntube/owntube/pkg/models"
)

// Retry delays: 1s, 5s, 15s, 1min
var defaultRetryDelays = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
	1 * time.Minute,
}

// Service delivers events to the configured endpoint in the background,
// retrying failed deliveries with backoff.
type Service struct {
	client      *http.Client
	url         string
	secret      string
	retryDelays []time.Duration
	logger      *logging.Logger

	mu       sync.Mutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	recorder func(*models.WebhookDelivery)
}

// NewService creates a new webhook service
func NewService(cfg config.WebhookConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		url:         cfg.URL,
		secret:      cfg.Secret,
		retryDelays: defaultRetryDelays,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// OnDelivery registers a callback invoked with the final state of every delivery
func (s *Service) OnDelivery(fn func(*models.WebhookDelivery)) {
	s.mu.Lock()
	s.recorder = fn
	s.mu.Unlock()
}

// Notify queues an event for delivery and returns its delivery id
func (s *Service) Notify(ctx context.Context, event string, data interface{}) (string, error) {
	payload := models.WebhookEvent{
		ID:        uuid.New().String(),
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	delivery := &models.WebhookDelivery{
		ID:        payload.ID,
		Event:     event,
		Status:    models.WebhookDeliveryStatusPending,
		CreatedAt: payload.Timestamp,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliverWithRetry(delivery, payloadBytes)
	}()

	return delivery.ID, nil
}

// NotifyDownloadCompleted sends notification when a variant is committed
func (s *Service) NotifyDownloadCompleted(ctx context.Context, d *models.DownloadedVariant) error {
	_, err := s.Notify(ctx, models.WebhookEventDownloadCompleted, models.RenderVariant(d, false))
	return err
}

// Close abandons pending retries and waits for in-flight deliveries
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every queued delivery has finished
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) deliverWithRetry(delivery *models.WebhookDelivery, payload []byte) {
	logger := s.logger.WithField("delivery_id", delivery.ID).WithField("event", delivery.Event)

	for {
		err := s.deliver(s.ctx, delivery, payload)
		if err == nil {
			delivery.Status = models.WebhookDeliveryStatusDelivered
			break
		}
		delivery.LastError = err.Error()

		if delivery.Attempts > len(s.retryDelays) {
			// Max retries exceeded
			delivery.Status = models.WebhookDeliveryStatusFailed
			logger.WithError(err).Warn("Webhook delivery failed")
			break
		}

		timer := time.NewTimer(s.retryDelays[delivery.Attempts-1])
		select {
		case <-s.ctx.Done():
			timer.Stop()
			delivery.Status = models.WebhookDeliveryStatusFailed
			logger.Warn("Webhook delivery abandoned")
			s.record(delivery)
			return
		case <-timer.C:
		}
	}

	now := time.Now()
	delivery.CompletedAt = &now
	s.record(delivery)
}

func (s *Service) record(delivery *models.WebhookDelivery) {
	s.mu.Lock()
	fn := s.recorder
	s.mu.Unlock()
	if fn != nil {
		fn(delivery)
	}
}

// deliver makes one delivery attempt
func (s *Service) deliver(ctx context.Context, delivery *models.WebhookDelivery, payload []byte) error {
	delivery.Attempts++

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "OwnTube-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", delivery.Event)
	req.Header.Set("X-Webhook-Delivery", delivery.ID)

	// Add HMAC signature if secret is configured
	if s.secret != "" {
		req.Header.Set("X-Webhook-Signature", generateSignature(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	delivery.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// generateSignature generates HMAC-SHA256 signature for webhook payload
func generateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a signature header against the payload
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(generateSignature(payload, secret)), []byte(signature))
}
