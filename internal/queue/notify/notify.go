// Package notify adapts the teacher's pkg/pgnotify LISTEN/NOTIFY event bus
// into the single-purpose signal the queue service needs: "a message
// became pending." Postgres has no change-stream API, so a trigger on the
// queue table stands in for the Mongo change-stream subscription spec.md
// §4.2 describes as the primary strategy for recv_with_timeout, with the
// same channel-per-concern shape the teacher's SubscribeTable uses.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/analytiq-hub/doc-router-sub001/internal/logging"
)

const channel = "queue_pending"

// Notifier listens for pending-message notifications on queue_messages.
// If LISTEN/NOTIFY setup fails (no replication permissions, standalone
// connection limits, etc.) it stays permanently unavailable and callers
// fall back to polling, logged once at warn — matching the teacher's
// "watch setup errors fall back silently to polling" posture.
type Notifier struct {
	log      *logging.Logger
	listener *pq.Listener

	mu        sync.Mutex
	available bool
	waiters   map[string][]chan struct{}
}

// New creates a Notifier bound to dsn. It never returns an error: a failed
// LISTEN is a degraded-but-valid state, not a startup failure.
func New(dsn string, log *logging.Logger) *Notifier {
	n := &Notifier{
		log:     log,
		waiters: make(map[string][]chan struct{}),
	}

	reportProblem := func(_ pq.ListenerEventType, err error) {
		if err != nil {
			log.WithField("error", err).Warn("queue notify: listener connection problem")
		}
	}
	n.listener = pq.NewListener(dsn, 10*time.Second, time.Minute, reportProblem)

	if err := n.listener.Listen(channel); err != nil {
		log.WithField("error", err).Warn("queue notify: LISTEN failed, falling back to polling")
		return n
	}

	n.available = true
	go n.loop()
	return n
}

// Available reports whether LISTEN/NOTIFY is active for this connection.
func (n *Notifier) Available() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.available
}

// Close releases the underlying listener connection.
func (n *Notifier) Close() error {
	if n.listener == nil {
		return nil
	}
	return n.listener.Close()
}

// Wait blocks until a pending-message notification for queueName arrives,
// ctx is cancelled, or timeout elapses — whichever comes first. It returns
// true only if a notification was observed.
func (n *Notifier) Wait(ctx context.Context, queueName string, timeout time.Duration) bool {
	if !n.Available() {
		return false
	}

	ch := make(chan struct{}, 1)
	n.mu.Lock()
	n.waiters[queueName] = append(n.waiters[queueName], ch)
	n.mu.Unlock()

	defer n.removeWaiter(queueName, ch)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (n *Notifier) removeWaiter(queueName string, target chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	waiters := n.waiters[queueName]
	for i, ch := range waiters {
		if ch == target {
			n.waiters[queueName] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
}

func (n *Notifier) loop() {
	for notification := range n.listener.Notify {
		if notification == nil {
			// Connection dropped; pq.Listener reconnects and re-LISTENs itself.
			continue
		}
		n.broadcast(notification.Extra)
	}
}

func (n *Notifier) broadcast(queueName string) {
	n.mu.Lock()
	waiters := append([]chan struct{}{}, n.waiters[queueName]...)
	n.mu.Unlock()

	for _, ch := range waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// TriggerSQL returns the DDL that wires queue_messages inserts/updates
// landing in pending status to a pg_notify on this package's channel.
func TriggerSQL() string {
	return fmt.Sprintf(`
		CREATE OR REPLACE FUNCTION notify_queue_pending() RETURNS TRIGGER AS $$
		BEGIN
			IF NEW.status = 'pending' THEN
				PERFORM pg_notify('%[1]s', NEW.queue_name);
			END IF;
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql;

		DROP TRIGGER IF EXISTS queue_messages_notify_pending ON queue_messages;
		CREATE TRIGGER queue_messages_notify_pending
		AFTER INSERT OR UPDATE ON queue_messages
		FOR EACH ROW EXECUTE FUNCTION notify_queue_pending();
	`, channel)
}
