// Package pipeline implements the stateless handlers that advance a
// document through the stages described in spec.md §4.4, consuming from
// the ocr, llm, kb_index and webhook queues and enqueuing follow-on work.
// Re-processing a message runs the handler's stage again and ends in the
// same terminal state; handlers do not check whether the document has
// already moved past their stage.
package pipeline

import (
	"context"
	"time"

	"github.com/analytiq-hub/doc-router-sub001/internal/accounting"
	"github.com/analytiq-hub/doc-router-sub001/internal/blobstore"
	"github.com/analytiq-hub/doc-router-sub001/internal/document"
	"github.com/analytiq-hub/doc-router-sub001/internal/llmprovider"
	"github.com/analytiq-hub/doc-router-sub001/internal/logging"
	"github.com/analytiq-hub/doc-router-sub001/internal/metrics"
	"github.com/analytiq-hub/doc-router-sub001/internal/ocrprovider"
	"github.com/analytiq-hub/doc-router-sub001/internal/queue"
	"github.com/analytiq-hub/doc-router-sub001/internal/webhook"
)

// Clock is the time source every handler reads through, so tests can
// substitute a fixed or stepped clock instead of wall time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// PromptResolver resolves a document's tag ids to the ordered list of
// prompt-revision ids bound to any of those tags. It is injected rather
// than implemented here because prompt/tag management lives outside this
// core's scope (spec.md §1); a default resolver that returns only the
// "default" prompt is supplied for standalone operation.
type PromptResolver interface {
	ResolvePromptIDs(ctx context.Context, organizationID string, tagIDs []string) ([]string, error)
}

// DefaultPromptResolver always resolves to no tag-bound prompts, leaving
// only the synthetic "default" prompt the LLM handler always prepends.
type DefaultPromptResolver struct{}

// ResolvePromptIDs implements PromptResolver.
func (DefaultPromptResolver) ResolvePromptIDs(context.Context, string, []string) ([]string, error) {
	return nil, nil
}

// KBIndexer pushes a document's extracted text into a knowledge-base
// vector store. Like the OCR/LLM provider ports, the actual embedding/
// vector-store call is treated as a pure function outside this core's
// scope; NoOpKBIndexer lets the kb_index stage run standalone.
type KBIndexer interface {
	Index(ctx context.Context, documentID, organizationID, text string) error
}

// NoOpKBIndexer indexes nothing; kb_index still transitions document
// state so downstream observers see the stage complete.
type NoOpKBIndexer struct{}

// Index implements KBIndexer.
func (NoOpKBIndexer) Index(context.Context, string, string, string) error { return nil }

// Context bundles every dependency a handler needs, replacing the
// source's module-level singletons and import-cycle-prone shared
// namespace with an explicit object graph (spec.md §9 "Cyclic / implicit
// references").
type Context struct {
	Documents  *document.Store
	Blobs      *blobstore.Store
	Queue      *queue.Store
	Webhooks   *webhook.Engine
	OCR        ocrprovider.Provider
	LLM        llmprovider.Provider
	KB         KBIndexer
	Prompts    PromptResolver
	Accounting accounting.Port
	Clock      Clock
	Log        *logging.Logger
	Metrics    *metrics.Metrics
}

// New builds a Context with KB, Prompts, Accounting and Clock set to the
// standalone no-op/default implementations; callers may replace those
// fields on the returned Context.
func New(
	documents *document.Store,
	blobs *blobstore.Store,
	q *queue.Store,
	webhooks *webhook.Engine,
	ocr ocrprovider.Provider,
	llm llmprovider.Provider,
	log *logging.Logger,
	m *metrics.Metrics,
) *Context {
	return &Context{
		Documents:  documents,
		Blobs:      blobs,
		Queue:      q,
		Webhooks:   webhooks,
		OCR:        ocr,
		LLM:        llm,
		KB:         NoOpKBIndexer{},
		Prompts:    DefaultPromptResolver{},
		Accounting: accounting.NoOp{},
		Clock:      SystemClock{},
		Log:        log,
		Metrics:    m,
	}
}
