// Package accounting re-architects the source's process-wide payment
// singletons (check_payment_limits, record_payment_usage,
// get_price_per_credit) as an injected interface on the pipeline
// Context, per spec.md §9's "Global mutable state" design note.
package accounting

import "context"

// Port is the accounting hook surface a pipeline Context carries.
// Implementations may enforce plan limits or record usage; the default
// NoOp does neither, so this core runs standalone without a billing
// system wired in.
type Port interface {
	// CheckLimit is consulted before a metered operation (an LLM call)
	// runs. Returning an error aborts the operation as if the provider
	// itself had failed.
	CheckLimit(ctx context.Context, organizationID string, operation string) error

	// RecordUsage is called after a metered operation completes
	// successfully, with an implementation-defined unit count (e.g.
	// number of LLM prompt calls, number of OCR pages).
	RecordUsage(ctx context.Context, organizationID string, operation string, units int) error

	// PricePerCredit returns the current price per credit for an
	// organization's plan; used by callers that need to display cost,
	// not by the pipeline itself.
	PricePerCredit(ctx context.Context, organizationID string) (float64, error)
}

// NoOp is the default Port: no limits enforced, no usage recorded.
type NoOp struct{}

// CheckLimit implements Port.
func (NoOp) CheckLimit(context.Context, string, string) error { return nil }

// RecordUsage implements Port.
func (NoOp) RecordUsage(context.Context, string, string, int) error { return nil }

// PricePerCredit implements Port.
func (NoOp) PricePerCredit(context.Context, string) (float64, error) { return 0, nil }
