// Package queue implements the durable, named FIFO-by-timestamp message
// queues described for the pipeline and webhook delivery engine: send,
// atomic claim (recv/recv_with_timeout), complete, and a visibility-timeout
// recovery sweep. Grounded on the teacher's pkg/storage/postgres.BaseStore
// for the atomic-claim style (single UPDATE ... RETURNING in place of a
// find_one_and_update) and on pkg/pgnotify for the blocking-receive signal.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/analytiq-hub/doc-router-sub001/internal/dbx"
	svcerrors "github.com/analytiq-hub/doc-router-sub001/internal/errors"
	"github.com/analytiq-hub/doc-router-sub001/internal/idgen"
	"github.com/analytiq-hub/doc-router-sub001/internal/logging"
	"github.com/analytiq-hub/doc-router-sub001/internal/metrics"
	"github.com/analytiq-hub/doc-router-sub001/internal/queue/notify"
)

// Status values a message may hold. The queue itself never transitions a
// message to Failed — that is a policy decision made by the handler that
// claimed it.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Message is the pre-image returned by a successful claim.
type Message struct {
	ID        string
	Queue     string
	Status    string
	CreatedAt time.Time
	Payload   json.RawMessage
}

// Store is the queue service, backed by a single shared table partitioned
// logically by queue_name rather than one Postgres table per queue — the
// original's one-collection-per-queue Mongo layout doesn't carry over
// cleanly to a relational schema, and a shared table with an indexed
// queue_name column is the idiomatic equivalent.
type Store struct {
	db       *dbx.DB
	notifier *notify.Notifier
	log      *logging.Logger
	metrics  *metrics.Metrics

	pollInterval time.Duration
}

// New constructs a Store. notifier may be nil, in which case
// RecvWithTimeout always falls back to polling.
func New(db *dbx.DB, notifier *notify.Notifier, log *logging.Logger, m *metrics.Metrics, pollInterval time.Duration) *Store {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Store{db: db, notifier: notifier, log: log, metrics: m, pollInterval: pollInterval}
}

// EnsureSchema creates the backing table, its index, and the NOTIFY
// trigger used by the blocking receive's primary strategy.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := s.db.Querier(ctx)
	if _, err := q.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS queue_messages (
			msg_id     TEXT PRIMARY KEY,
			queue_name TEXT NOT NULL,
			status     TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			payload    JSONB NOT NULL
		)
	`); err != nil {
		return svcerrors.Wrap(svcerrors.CodeInternal, "create queue_messages table", err)
	}
	if _, err := q.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS queue_messages_claim_idx
		ON queue_messages (queue_name, status, created_at)
	`); err != nil {
		return svcerrors.Wrap(svcerrors.CodeInternal, "create queue_messages index", err)
	}
	if _, err := q.ExecContext(ctx, notify.TriggerSQL()); err != nil {
		// Missing trigger permissions degrade recv_with_timeout to polling,
		// not a fatal condition.
		s.log.WithField("error", err).Warn("queue: could not install notify trigger, blocking receive will poll only")
	}
	return nil
}

// Send inserts a new pending message and returns its id.
func (s *Store) Send(ctx context.Context, queueName string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", svcerrors.Wrap(svcerrors.CodeInvalidInput, "marshal queue payload", err)
	}

	id := idgen.New()
	_, err = s.db.Querier(ctx).ExecContext(ctx, `
		INSERT INTO queue_messages (msg_id, queue_name, status, payload)
		VALUES ($1, $2, $3, $4)
	`, id, queueName, StatusPending, body)
	if err != nil {
		return "", svcerrors.Wrap(svcerrors.CodeInternal, "send queue message", err)
	}

	if s.metrics != nil {
		s.metrics.QueueSendTotal.WithLabelValues(queueName).Inc()
	}
	return id, nil
}

// Recv atomically claims the oldest pending message in queueName, or
// returns (nil, nil) if none is available. It never blocks.
func (s *Store) Recv(ctx context.Context, queueName string) (*Message, error) {
	row := s.db.Querier(ctx).QueryRowContext(ctx, `
		UPDATE queue_messages
		SET status = $1, updated_at = now()
		WHERE msg_id = (
			SELECT msg_id FROM queue_messages
			WHERE queue_name = $2 AND status = $3
			ORDER BY created_at ASC, msg_id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING msg_id, queue_name, status, created_at, payload
	`, StatusProcessing, queueName, StatusPending)

	msg, err := scanMessage(row)
	outcome := "claimed"
	if err == sql.ErrNoRows {
		outcome = "empty"
		err = nil
		msg = nil
	} else if err != nil {
		outcome = "error"
	}
	if s.metrics != nil {
		s.metrics.QueueClaimTotal.WithLabelValues(queueName, outcome).Inc()
	}
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.CodeInternal, "recv queue message", err)
	}
	return msg, nil
}

// RecvWithTimeout claims a message as Recv does, but if none is available
// it waits up to timeout for one to appear, using the notify trigger as
// the primary wake signal and a fixed poll interval as a fallback that
// also runs whenever the notifier is unavailable.
func (s *Store) RecvWithTimeout(ctx context.Context, queueName string, timeout time.Duration) (*Message, error) {
	deadline := time.Now().Add(timeout)

	for {
		msg, err := s.Recv(ctx, queueName)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		wait := s.pollInterval
		if wait > remaining {
			wait = remaining
		}

		if s.notifier != nil && s.notifier.Available() {
			// A notification just means "try the claim again" — it does not
			// guarantee this caller wins the race, so the loop re-attempts
			// Recv regardless of why it woke.
			s.notifier.Wait(ctx, queueName, remaining)
			continue
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, nil
		}
	}
}

// Complete sets a claimed message's terminal status. Idempotent: setting
// the same status twice, or completing an already-completed/missing
// message, is not an error.
func (s *Store) Complete(ctx context.Context, msgID string, status string) error {
	if status == "" {
		status = StatusCompleted
	}
	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		UPDATE queue_messages SET status = $1, updated_at = now() WHERE msg_id = $2
	`, status, msgID)
	if err != nil {
		return svcerrors.Wrap(svcerrors.CodeInternal, "complete queue message", err)
	}
	return nil
}

// RecoverStale resets messages stuck in processing for longer than
// olderThan back to pending, for a crashed-worker recovery sweep. It
// returns the number of messages recovered.
func (s *Store) RecoverStale(ctx context.Context, queueName string, olderThan time.Duration) (int64, error) {
	res, err := s.db.Querier(ctx).ExecContext(ctx, `
		UPDATE queue_messages
		SET status = $1, updated_at = now()
		WHERE queue_name = $2 AND status = $3 AND updated_at < now() - make_interval(secs => $4)
	`, StatusPending, queueName, StatusProcessing, olderThan.Seconds())
	if err != nil {
		return 0, svcerrors.Wrap(svcerrors.CodeInternal, "recover stale queue messages", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 && s.metrics != nil {
		s.metrics.QueueRecovered.WithLabelValues(queueName).Add(float64(n))
	}
	return n, nil
}

// PurgeCompletedBefore deletes completed/failed messages older than
// before. Nothing calls this automatically (see design notes); it exists
// for an operator to wire into their own retention job.
func (s *Store) PurgeCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Querier(ctx).ExecContext(ctx, `
		DELETE FROM queue_messages
		WHERE status IN ($1, $2) AND created_at < $3
	`, StatusCompleted, StatusFailed, before)
	if err != nil {
		return 0, svcerrors.Wrap(svcerrors.CodeInternal, "purge completed queue messages", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanMessage(row *sql.Row) (*Message, error) {
	var m Message
	var payload []byte
	if err := row.Scan(&m.ID, &m.Queue, &m.Status, &m.CreatedAt, &payload); err != nil {
		return nil, err
	}
	m.Payload = payload
	return &m, nil
}
