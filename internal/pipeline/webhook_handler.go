package pipeline

import (
	"context"
	"encoding/json"
)

// HandleWebhook implements spec.md §4.4.3: delegate to the delivery
// engine and always complete the queue message — delivery retries are
// driven by the delivery record's next_attempt_at, not by the queue.
func (c *Context) HandleWebhook(ctx context.Context, raw json.RawMessage) error {
	msg, err := DecodeWebhookMessage(raw)
	if err != nil {
		c.Log.WithContext(ctx).WithField("error", err).Error("webhook: decode message")
		return nil
	}
	if msg.DeliveryID == "" {
		c.Log.WithContext(ctx).Error("webhook: message missing delivery_id")
		return nil
	}
	c.Webhooks.ProcessDeliveryID(ctx, msg.DeliveryID)
	return nil
}
