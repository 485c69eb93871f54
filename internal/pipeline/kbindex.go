package pipeline

import (
	"context"
	"encoding/json"

	"github.com/analytiq-hub/doc-router-sub001/internal/document"
)

// HandleKBIndex pushes a document's extracted text into the knowledge
// base. It is OCR-gated (enqueued by the OCR handler after ocr_completed,
// spec.md §4.4.1 step 5) but, per §4.4, is a side-effect stage that does
// not gate document.llm_processing/llm_completed downstream. Like the
// other handlers it is its own error firewall and always returns nil.
func (c *Context) HandleKBIndex(ctx context.Context, raw json.RawMessage) error {
	msg, err := DecodeDocumentMessage(raw)
	if err != nil {
		c.Log.WithContext(ctx).WithField("error", err).Error("kb_index: decode message")
		return nil
	}

	doc, err := c.Documents.Get(ctx, msg.DocumentID)
	if err != nil {
		c.Log.WithContext(ctx).WithField("document_id", msg.DocumentID).WithField("error", err).Error("kb_index: get document")
		return nil
	}
	if doc == nil {
		return nil
	}

	if err := c.Documents.UpdateState(ctx, doc.ID, document.StateKBIndexing); err != nil {
		c.Log.WithContext(ctx).WithField("document_id", doc.ID).WithField("error", err).Error("kb_index: mark indexing")
		return nil
	}

	text, err := c.assembleOCRText(ctx, doc.ID)
	if err != nil {
		c.Log.WithContext(ctx).WithField("document_id", doc.ID).WithField("error", err).Error("kb_index: assemble text")
		return c.failKBIndex(ctx, doc.ID)
	}

	if err := c.KB.Index(ctx, doc.ID, doc.OrganizationID, text); err != nil {
		c.Log.WithContext(ctx).WithField("document_id", doc.ID).WithField("error", err).Error("kb_index: index")
		return c.failKBIndex(ctx, doc.ID)
	}

	if err := c.Documents.UpdateState(ctx, doc.ID, document.StateKBIndexed); err != nil {
		c.Log.WithContext(ctx).WithField("document_id", doc.ID).WithField("error", err).Error("kb_index: mark indexed")
	}
	return nil
}

func (c *Context) failKBIndex(ctx context.Context, docID string) error {
	if err := c.Documents.UpdateState(ctx, docID, document.StateKBIndexFailed); err != nil {
		c.Log.WithContext(ctx).WithField("document_id", docID).WithField("error", err).Error("kb_index: mark failed")
	}
	return nil
}
