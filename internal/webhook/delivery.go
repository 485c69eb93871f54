package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/analytiq-hub/doc-router-sub001/internal/dbx"
	svcerrors "github.com/analytiq-hub/doc-router-sub001/internal/errors"
)

// Delivery status values forming the state machine in spec.md §4.5.
const (
	StatusPending   = "pending"
	StatusInFlight  = "in_flight"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusGivingUp  = "giving_up"
)

// Delivery is one outbound webhook obligation. AuthHeaderValueEnc and
// SecretEnc are snapshotted at creation time (the config's ciphertext is
// copied into the delivery row as is, not re-encrypted) so rotating the organization's webhook secret does not
// disturb in-flight deliveries (spec.md §4.5 enqueue path, step 2).
type Delivery struct {
	ID                 string
	OrganizationID     string
	EventType          string
	EventID            string
	DocumentID         string
	Payload            json.RawMessage
	TargetURL          string
	AuthType           string
	AuthHeaderName     string
	AuthHeaderValueEnc string
	SecretEnc          string
	Attempts           int
	NextAttemptAt      time.Time
	Status             string
	LastStatusCode     int
	LastError          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DeliveryStore persists webhook_delivery rows.
type DeliveryStore struct {
	db *dbx.DB
}

// NewDeliveryStore wraps a database handle.
func NewDeliveryStore(db *dbx.DB) *DeliveryStore {
	return &DeliveryStore{db: db}
}

// EnsureSchema creates the backing table if it does not already exist.
func (s *DeliveryStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS webhook_deliveries (
			delivery_id           TEXT PRIMARY KEY,
			organization_id       TEXT NOT NULL,
			event_type            TEXT NOT NULL,
			event_id              TEXT NOT NULL,
			document_id            TEXT,
			payload               JSONB NOT NULL,
			target_url            TEXT NOT NULL,
			auth_type             TEXT NOT NULL,
			auth_header_name      TEXT,
			auth_header_value_enc TEXT,
			secret_enc            TEXT,
			attempts              INT NOT NULL DEFAULT 0,
			next_attempt_at       TIMESTAMPTZ NOT NULL,
			status                TEXT NOT NULL,
			last_status_code      INT,
			last_error            TEXT,
			created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return svcerrors.Wrap(svcerrors.CodeInternal, "create webhook_deliveries table", err)
	}
	_, err = s.db.Querier(ctx).ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS webhook_deliveries_due_idx
		ON webhook_deliveries (status, next_attempt_at)
	`)
	if err != nil {
		return svcerrors.Wrap(svcerrors.CodeInternal, "create webhook_deliveries index", err)
	}
	return nil
}

// Create inserts a new pending delivery and returns its id.
func (s *DeliveryStore) Create(ctx context.Context, d *Delivery) (string, error) {
	d.ID = uuid.NewString()
	if d.EventID == "" {
		d.EventID = uuid.NewString()
	}
	d.Status = StatusPending
	if d.NextAttemptAt.IsZero() {
		d.NextAttemptAt = time.Now().UTC()
	}

	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		INSERT INTO webhook_deliveries
			(delivery_id, organization_id, event_type, event_id, document_id, payload, target_url,
			 auth_type, auth_header_name, auth_header_value_enc, secret_enc,
			 attempts, next_attempt_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, $12, $13)
	`, d.ID, d.OrganizationID, d.EventType, d.EventID, nullableStr(d.DocumentID), []byte(d.Payload), d.TargetURL,
		d.AuthType, nullableStr(d.AuthHeaderName), nullableStr(d.AuthHeaderValueEnc), nullableStr(d.SecretEnc),
		d.NextAttemptAt, d.Status)
	if err != nil {
		return "", svcerrors.Wrap(svcerrors.CodeInternal, "create webhook delivery", err)
	}
	return d.ID, nil
}

// ClaimByID atomically transitions a delivery from pending to in_flight
// only if its next_attempt_at has passed, returning (nil, nil) if it is
// not yet due or was already claimed by another worker.
func (s *DeliveryStore) ClaimByID(ctx context.Context, deliveryID string) (*Delivery, error) {
	row := s.db.Querier(ctx).QueryRowContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $1, updated_at = now()
		WHERE delivery_id = $2 AND status = $3 AND next_attempt_at <= now()
		RETURNING delivery_id, organization_id, event_type, event_id, document_id, payload, target_url,
			auth_type, auth_header_name, auth_header_value_enc, secret_enc,
			attempts, next_attempt_at, status, last_status_code, last_error, created_at, updated_at
	`, StatusInFlight, deliveryID, StatusPending)

	d, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.CodeInternal, "claim webhook delivery", err)
	}
	return d, nil
}

// Get reads a delivery by id, returning (nil, nil) if unknown.
func (s *DeliveryStore) Get(ctx context.Context, deliveryID string) (*Delivery, error) {
	row := s.db.Querier(ctx).QueryRowContext(ctx, `
		SELECT delivery_id, organization_id, event_type, event_id, document_id, payload, target_url,
			auth_type, auth_header_name, auth_header_value_enc, secret_enc,
			attempts, next_attempt_at, status, last_status_code, last_error, created_at, updated_at
		FROM webhook_deliveries WHERE delivery_id = $1
	`, deliveryID)
	d, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.CodeInternal, "get webhook delivery", err)
	}
	return d, nil
}

// MarkSucceeded transitions a delivery to its terminal succeeded state.
func (s *DeliveryStore) MarkSucceeded(ctx context.Context, deliveryID string, statusCode int) error {
	return s.updateTerminalOrRetry(ctx, deliveryID, StatusSucceeded, statusCode, "", time.Time{}, false)
}

// MarkGivingUp transitions a delivery to its terminal giving_up state.
func (s *DeliveryStore) MarkGivingUp(ctx context.Context, deliveryID string, statusCode int, lastErr string) error {
	return s.updateTerminalOrRetry(ctx, deliveryID, StatusGivingUp, statusCode, lastErr, time.Time{}, false)
}

// MarkRetry increments attempts, sets next_attempt_at, and transitions
// the delivery back to pending so a future claim can retry it. Use this
// only for an actual failed HTTP attempt; for a delivery that was
// skipped rather than attempted (rate limited, circuit open), use
// Reschedule instead so attempts — and the max_attempts give-up count —
// are not disturbed.
func (s *DeliveryStore) MarkRetry(ctx context.Context, deliveryID string, statusCode int, lastErr string, nextAttemptAt time.Time) error {
	return s.updateTerminalOrRetry(ctx, deliveryID, StatusPending, statusCode, lastErr, nextAttemptAt, true)
}

// Reschedule pushes a pending delivery's next_attempt_at into the future
// without incrementing attempts, for a delivery the engine skipped
// rather than tried (rate limited, or its target's circuit breaker is
// open). Keeping attempts untouched means the skip does not count
// against spec.md §4.5's max_attempts give-up ceiling.
func (s *DeliveryStore) Reschedule(ctx context.Context, deliveryID, reason string, nextAttemptAt time.Time) error {
	return s.updateTerminalOrRetry(ctx, deliveryID, StatusPending, 0, reason, nextAttemptAt, false)
}

func (s *DeliveryStore) updateTerminalOrRetry(ctx context.Context, deliveryID, status string, statusCode int, lastErr string, nextAttemptAt time.Time, incrementAttempts bool) error {
	attemptsExpr := "attempts"
	if incrementAttempts {
		attemptsExpr = "attempts + 1"
	}
	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $1, attempts = `+attemptsExpr+`, next_attempt_at = $2,
			last_status_code = $3, last_error = $4, updated_at = now()
		WHERE delivery_id = $5
	`, status, nextAttemptAt, nullableInt(statusCode), nullableStr(lastErr), deliveryID)
	if err != nil {
		return svcerrors.Wrap(svcerrors.CodeInternal, "update webhook delivery status", err)
	}
	return nil
}

// DueForRetry returns deliveries in pending status whose next_attempt_at
// has passed and that have at least one recorded attempt (attempts > 0;
// a delivery with attempts = 0 is not returned), for the scheduler sweep that re-enqueues them onto the
// webhook queue (spec.md §4.5 "Implementations MAY defer the enqueue
// until next_attempt_at via a scheduler sweep").
func (s *DeliveryStore) DueForRetry(ctx context.Context, limit int) ([]*Delivery, error) {
	rows, err := s.db.Querier(ctx).QueryContext(ctx, `
		SELECT delivery_id, organization_id, event_type, event_id, document_id, payload, target_url,
			auth_type, auth_header_name, auth_header_value_enc, secret_enc,
			attempts, next_attempt_at, status, last_status_code, last_error, created_at, updated_at
		FROM webhook_deliveries
		WHERE status = $1 AND next_attempt_at <= now() AND attempts > 0
		ORDER BY next_attempt_at ASC
		LIMIT $2
	`, StatusPending, limit)
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.CodeInternal, "list due webhook deliveries", err)
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		d, err := scanDeliveryRows(rows)
		if err != nil {
			return nil, svcerrors.Wrap(svcerrors.CodeInternal, "scan webhook delivery row", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

type deliveryScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row *sql.Row) (*Delivery, error) {
	return scanDeliveryRows(row)
}

func scanDeliveryRows(row deliveryScanner) (*Delivery, error) {
	var d Delivery
	var documentID, authHeaderName, authHeaderValueEnc, secretEnc, lastError sql.NullString
	var lastStatusCode sql.NullInt64
	var payload []byte

	if err := row.Scan(&d.ID, &d.OrganizationID, &d.EventType, &d.EventID, &documentID, &payload, &d.TargetURL,
		&d.AuthType, &authHeaderName, &authHeaderValueEnc, &secretEnc,
		&d.Attempts, &d.NextAttemptAt, &d.Status, &lastStatusCode, &lastError, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}

	d.DocumentID = documentID.String
	d.AuthHeaderName = authHeaderName.String
	d.AuthHeaderValueEnc = authHeaderValueEnc.String
	d.SecretEnc = secretEnc.String
	d.LastStatusCode = int(lastStatusCode.Int64)
	d.LastError = lastError.String
	d.Payload = payload
	return &d, nil
}
