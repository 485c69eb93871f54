package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	svcerrors "github.com/analytiq-hub/doc-router-sub001/internal/errors"
	"github.com/analytiq-hub/doc-router-sub001/internal/logging"
	"github.com/analytiq-hub/doc-router-sub001/internal/metrics"
	"github.com/analytiq-hub/doc-router-sub001/internal/ratelimit"
	"github.com/analytiq-hub/doc-router-sub001/internal/resilience"
)

// BackoffConfig parameterizes the retry schedule in spec.md §4.5.
type BackoffConfig struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultBackoff matches spec.md's stated defaults: base=30s, cap=1h,
// max_attempts=8.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{Base: 30 * time.Second, Cap: time.Hour, MaxAttempts: 8}
}

// Event is the payload shape delivered as the outbound webhook body,
// matching spec.md §6's contract exactly.
type Event struct {
	EventID        string `json:"event_id"`
	EventType      string `json:"event_type"`
	OrganizationID string `json:"organization_id"`
	CreatedAt      string `json:"created_at"`
	Data           any    `json:"data"`
}

// Engine enqueues, signs, sends, and reschedules webhook deliveries.
type Engine struct {
	configs    *ConfigStore
	deliveries *DeliveryStore
	queueSend  func(ctx context.Context, queueName string, payload any) (string, error)
	httpClient *http.Client
	backoff    BackoffConfig
	limiter    *ratelimit.OrgLimiter
	breakers   *resilience.BreakerRegistry
	log        *logging.Logger
	metrics    *metrics.Metrics
}

// NewEngine constructs an Engine. queueSend is the queue service's Send
// method, injected rather than imported directly to keep webhook and
// queue from depending on each other's concrete types.
func NewEngine(
	configs *ConfigStore,
	deliveries *DeliveryStore,
	queueSend func(ctx context.Context, queueName string, payload any) (string, error),
	httpClient *http.Client,
	backoff BackoffConfig,
	limiter *ratelimit.OrgLimiter,
	log *logging.Logger,
	m *metrics.Metrics,
) *Engine {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Engine{
		configs: configs, deliveries: deliveries, queueSend: queueSend,
		httpClient: httpClient, backoff: backoff, limiter: limiter,
		breakers: resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig()),
		log:      log, metrics: m,
	}
}

// Enqueue reads the organization's webhook config and, if enabled for
// eventType, creates a delivery record and pushes {delivery_id} onto the
// webhook queue, per spec.md §4.5's enqueue path. It is a silent no-op
// (not an error) if the org has no webhook configured, webhooks are
// disabled, or eventType is not in the allowlist — those are expected,
// routine states, not failures.
func (e *Engine) Enqueue(ctx context.Context, organizationID, eventType, documentID string, data any) error {
	cfg, err := e.configs.Get(ctx, organizationID)
	if err != nil {
		return err
	}
	if cfg == nil || !cfg.EnabledForEvent(eventType) {
		return nil
	}

	eventID := uuid.NewString()
	event := Event{
		EventID:        eventID,
		EventType:      eventType,
		OrganizationID: organizationID,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
		Data:           data,
	}
	body, err := CanonicalJSON(event)
	if err != nil {
		return svcerrors.Wrap(svcerrors.CodeInvalidInput, "encode webhook event payload", err)
	}

	d := &Delivery{
		OrganizationID:     organizationID,
		EventType:          eventType,
		EventID:            eventID,
		DocumentID:         documentID,
		Payload:            body,
		TargetURL:          cfg.URL,
		AuthType:           cfg.AuthType,
		AuthHeaderName:     cfg.AuthHeaderName,
		AuthHeaderValueEnc: cfg.AuthHeaderValueEnc, // snapshot: the config's ciphertext copied as is, not re-encrypted
		SecretEnc:          cfg.SecretEnc,
	}
	deliveryID, err := e.deliveries.Create(ctx, d)
	if err != nil {
		return err
	}

	if e.queueSend != nil {
		if _, err := e.queueSend(ctx, "webhook", map[string]string{"delivery_id": deliveryID}); err != nil {
			return err
		}
	}
	return nil
}

// ProcessDeliveryID implements the webhook queue handler's body: claim
// the delivery by id and, if due, send it. It never returns an error to
// the queue boundary — every failure is absorbed into the delivery
// record's own retry state, per spec.md §4.4.3.
func (e *Engine) ProcessDeliveryID(ctx context.Context, deliveryID string) {
	d, err := e.deliveries.ClaimByID(ctx, deliveryID)
	if err != nil {
		e.log.WithContext(ctx).WithField("delivery_id", deliveryID).WithField("error", err).Error("webhook: claim failed")
		return
	}
	if d == nil {
		// Not yet due, or already claimed/handled by another worker.
		return
	}
	e.send(ctx, d)
}

// send performs one physical HTTP attempt and applies the response
// classification and backoff rules from spec.md §4.5.
func (e *Engine) send(ctx context.Context, d *Delivery) {
	if e.limiter != nil {
		if ok, _ := e.limiter.Allow(ctx, d.OrganizationID); !ok {
			// Organization is over its outbound rate; this was never
			// attempted, so reschedule without counting it as a failed
			// HTTP attempt or incrementing attempts (see rescheduleOrGiveUp).
			e.rescheduleOrGiveUp(ctx, d, "rate limited", time.Second)
			return
		}
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.TargetURL, bytes.NewReader(d.Payload))
	if err != nil {
		e.finishWithError(ctx, d, 0, fmt.Sprintf("build request: %v", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", d.EventID)
	req.Header.Set("X-Event-Type", d.EventType)
	req.Header.Set("User-Agent", "doc-router-webhooks/1.0")

	switch d.AuthType {
	case AuthHMAC:
		secret, err := e.configs.box.Decrypt([]byte(d.OrganizationID), "webhook.secret", d.SecretEnc)
		if err != nil {
			e.finishWithError(ctx, d, 0, fmt.Sprintf("decrypt secret: %v", err))
			return
		}
		req.Header.Set("X-Signature-256", SignatureHeader(string(secret), timestamp, d.Payload))
		req.Header.Set("X-Webhook-Timestamp", timestamp)
	case AuthHeader:
		if d.AuthHeaderName != "" {
			value, err := e.configs.box.Decrypt([]byte(d.OrganizationID), "webhook.auth_header", d.AuthHeaderValueEnc)
			if err != nil {
				e.finishWithError(ctx, d, 0, fmt.Sprintf("decrypt auth header: %v", err))
				return
			}
			req.Header.Set(d.AuthHeaderName, string(value))
		}
	}

	if e.metrics != nil {
		e.metrics.WebhookAttempts.WithLabelValues(d.EventType).Inc()
	}

	breaker := e.breakers.Get(targetHostKey(d.TargetURL))
	var resp *http.Response
	doErr := breaker.Execute(ctx, func() error {
		var err error
		resp, err = e.httpClient.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("http %d", resp.StatusCode)
		}
		return nil
	})
	if errors.Is(doErr, resilience.ErrCircuitOpen) {
		// Target host is known-bad right now; reschedule without
		// spending an HTTP attempt (see rescheduleOrGiveUp).
		e.rescheduleOrGiveUp(ctx, d, "target circuit open", e.backoff.Base)
		return
	}
	if resp == nil {
		e.retryOrGiveUp(ctx, d, 0, fmt.Sprintf("request error: %v", doErr), nil)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := e.deliveries.MarkSucceeded(ctx, d.ID, resp.StatusCode); err != nil {
			e.log.WithContext(ctx).WithField("error", err).Error("webhook: mark succeeded failed")
		}
		if e.metrics != nil {
			e.metrics.WebhookOutcomes.WithLabelValues("succeeded").Inc()
		}
	case isRetryableStatus(resp.StatusCode):
		e.retryOrGiveUp(ctx, d, resp.StatusCode, fmt.Sprintf("http %d", resp.StatusCode), resp.Header)
	default:
		e.finishWithError(ctx, d, resp.StatusCode, fmt.Sprintf("http %d", resp.StatusCode))
	}
}

// targetHostKey groups deliveries by destination host so one customer's
// dead endpoint doesn't trip a breaker shared with another's.
func targetHostKey(targetURL string) string {
	u, err := url.Parse(targetURL)
	if err != nil || u.Host == "" {
		return targetURL
	}
	return u.Host
}

// isRetryableStatus implements spec.md §4.5's response classification:
// 408, 429, and any 5xx are retryable; every other 4xx is fatal.
func isRetryableStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500
}

func (e *Engine) finishWithError(ctx context.Context, d *Delivery, statusCode int, reason string) {
	if err := e.deliveries.MarkGivingUp(ctx, d.ID, statusCode, reason); err != nil {
		e.log.WithContext(ctx).WithField("error", err).Error("webhook: mark giving_up failed")
	}
	if e.metrics != nil {
		e.metrics.WebhookOutcomes.WithLabelValues("giving_up").Inc()
	}
}

// rescheduleOrGiveUp is retryOrGiveUp's counterpart for a delivery the
// engine skipped rather than tried: a skip is never counted as an
// attempt. It gives up only if attempts already stands at max_attempts;
// retryOrGiveUp gives up before a pending delivery's attempts reach that
// value, so with an unchanged max_attempts a skipped delivery is
// rescheduled every time.
func (e *Engine) rescheduleOrGiveUp(ctx context.Context, d *Delivery, reason string, delay time.Duration) {
	if d.Attempts >= e.backoff.MaxAttempts {
		e.finishWithError(ctx, d, 0, reason+" (max attempts reached)")
		return
	}
	if err := e.deliveries.Reschedule(ctx, d.ID, reason, time.Now().Add(delay)); err != nil {
		e.log.WithContext(ctx).WithField("error", err).Error("webhook: reschedule failed")
	}
}

func (e *Engine) retryOrGiveUp(ctx context.Context, d *Delivery, statusCode int, reason string, headers http.Header) {
	nextAttempt := d.Attempts + 1
	if nextAttempt >= e.backoff.MaxAttempts {
		e.finishWithError(ctx, d, statusCode, reason+" (max attempts reached)")
		return
	}

	delay := computeBackoff(e.backoff, nextAttempt)
	if headers != nil {
		if retryAfter := parseRetryAfter(headers.Get("Retry-After")); retryAfter > delay {
			delay = retryAfter
		}
	}

	if e.metrics != nil {
		e.metrics.WebhookOutcomes.WithLabelValues("retry").Inc()
		e.metrics.WebhookBackoff.Observe(delay.Seconds())
	}

	if err := e.deliveries.MarkRetry(ctx, d.ID, statusCode, reason, time.Now().Add(delay)); err != nil {
		e.log.WithContext(ctx).WithField("error", err).Error("webhook: mark retry failed")
	}
}

// computeBackoff implements next_attempt_at = now + min(cap, base *
// 2^(attempts-1)) + jitter, jitter in [0, 0.2*delay).
func computeBackoff(cfg BackoffConfig, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := cfg.Base * time.Duration(1<<uint(attempts-1))
	if delay > cfg.Cap || delay <= 0 {
		delay = cfg.Cap
	}
	jitterRange := int64(float64(delay) * 0.2)
	if jitterRange <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Int63n(jitterRange))
}

// parseRetryAfter interprets a Retry-After header as a delta-seconds
// value; HTTP-date values are not supported (none of this system's
// targets are known to send them, and spec.md only requires honoring it
// as a lower bound, not full RFC 7231 parsing).
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
