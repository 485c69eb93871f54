package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/analytiq-hub/doc-router-sub001/internal/document"
	"github.com/analytiq-hub/doc-router-sub001/internal/resilience"
)

const blobBucket = "documents"

// errBlobNotFound is the sentinel fetchPDFWithRetry retries on; it never
// escapes this package.
var errBlobNotFound = errors.New("pipeline: blob not found")
var errBlobNotFoundFriendly = errors.New("pdf blob not found after retry")

// HandleOCR implements spec.md §4.4.1. It is its own error firewall: every
// failure, infra or business, is logged and absorbed into a document
// state transition (or left as a no-op when no further transition is
// possible) rather than returned, so it always returns nil and the
// caller always completes the queue message — "a handler exception never
// propagates past the message boundary", spec.md §4.4.
func (c *Context) HandleOCR(ctx context.Context, raw json.RawMessage) error {
	msg, err := DecodeDocumentMessage(raw)
	if err != nil {
		c.Log.WithContext(ctx).WithField("error", err).Error("ocr: decode message")
		return nil
	}

	doc, err := c.Documents.Get(ctx, msg.DocumentID)
	if err != nil {
		c.Log.WithContext(ctx).WithField("document_id", msg.DocumentID).WithField("error", err).Error("ocr: get document")
		return nil
	}
	if doc == nil {
		// Step 1: absent document, complete and return (no-op).
		return nil
	}

	if !ocrSupported(doc.UserFileName) {
		// Step 2: unsupported extension — the document passes through OCR.
		if err := c.Documents.UpdateState(ctx, doc.ID, document.StateOCRCompleted); err != nil {
			c.Log.WithContext(ctx).WithField("document_id", doc.ID).WithField("error", err).Error("ocr: mark completed")
			return nil
		}
		c.enqueueFollowOn(ctx, doc.ID, msg.Force)
		return nil
	}

	if err := c.Documents.UpdateState(ctx, doc.ID, document.StateOCRProcessing); err != nil {
		c.Log.WithContext(ctx).WithField("document_id", doc.ID).WithField("error", err).Error("ocr: mark processing")
		return nil
	}

	existing, err := c.Blobs.Get(ctx, blobBucket, ocrArtifactKey(doc.ID))
	if err != nil {
		return c.failOCR(ctx, doc.ID, doc.OrganizationID, err.Error())
	}
	if existing != nil && !msg.Force {
		// Step 3: OCR artifact already exists, skip straight to completion.
		if err := c.Documents.UpdateState(ctx, doc.ID, document.StateOCRCompleted); err != nil {
			c.Log.WithContext(ctx).WithField("document_id", doc.ID).WithField("error", err).Error("ocr: mark completed")
			return nil
		}
		c.enqueueFollowOn(ctx, doc.ID, msg.Force)
		return nil
	}

	if doc.MongoFileName == "" {
		return c.failOCR(ctx, doc.ID, doc.OrganizationID, "missing mongo_file_name")
	}
	if doc.PDFFileName == "" {
		return c.failOCR(ctx, doc.ID, doc.OrganizationID, "missing pdf_file_name")
	}

	pdf, err := c.fetchPDFWithRetry(ctx, doc.PDFFileName)
	if err != nil {
		return c.failOCR(ctx, doc.ID, doc.OrganizationID, err.Error())
	}

	result, err := c.OCR.Run(ctx, pdf)
	if err != nil {
		return c.failOCR(ctx, doc.ID, doc.OrganizationID, err.Error())
	}

	blocksJSON, err := json.Marshal(result)
	if err != nil {
		return c.failOCR(ctx, doc.ID, doc.OrganizationID, err.Error())
	}
	if err := c.Blobs.Put(ctx, blobBucket, ocrArtifactKey(doc.ID), blocksJSON, nil); err != nil {
		return c.failOCR(ctx, doc.ID, doc.OrganizationID, err.Error())
	}
	for i, pageText := range result.PageText {
		if err := c.Blobs.Put(ctx, blobBucket, ocrPageTextKey(doc.ID, i), []byte(pageText), nil); err != nil {
			return c.failOCR(ctx, doc.ID, doc.OrganizationID, err.Error())
		}
	}

	// Step 5.
	if err := c.Documents.UpdateState(ctx, doc.ID, document.StateOCRCompleted); err != nil {
		c.Log.WithContext(ctx).WithField("document_id", doc.ID).WithField("error", err).Error("ocr: mark completed")
		return nil
	}
	c.enqueueFollowOn(ctx, doc.ID, msg.Force)
	return nil
}

// fetchPDFWithRetry fetches the PDF blob, retrying on "not found" since
// an upload's blob write can race this handler's claim of the ocr
// message (spec.md §4.4.1: "MUST retry on not found").
func (c *Context) fetchPDFWithRetry(ctx context.Context, pdfFileName string) ([]byte, error) {
	var pdf []byte
	notFound := func(err error) bool { return err == errBlobNotFound }

	err := resilience.Retry(ctx, resilience.BlobFetchRetryConfig(), notFound, func() error {
		obj, err := c.Blobs.Get(ctx, blobBucket, pdfFileName)
		if err != nil {
			return err
		}
		if obj == nil {
			return errBlobNotFound
		}
		pdf = obj.Bytes
		return nil
	})
	if err != nil {
		if err == errBlobNotFound {
			return nil, errBlobNotFoundFriendly
		}
		return nil, err
	}
	return pdf, nil
}

func (c *Context) failOCR(ctx context.Context, docID, organizationID, reason string) error {
	if err := c.Documents.UpdateState(ctx, docID, document.StateOCRFailed); err != nil {
		c.Log.WithContext(ctx).WithField("document_id", docID).WithField("error", err).Error("ocr: mark failed")
		return nil
	}
	if organizationID != "" && c.Webhooks != nil {
		_ = c.Webhooks.Enqueue(ctx, organizationID, EventDocumentError, docID, map[string]string{
			"stage":   "ocr",
			"message": reason,
		})
	}
	if c.Queue != nil {
		_, _ = c.Queue.Send(ctx, QueueOCRErr, DocumentMessage{DocumentID: docID})
	}
	c.Log.WithContext(ctx).WithField("document_id", docID).WithField("reason", reason).Error("ocr: failed")
	return nil
}

func (c *Context) enqueueFollowOn(ctx context.Context, docID string, force bool) {
	if c.Queue == nil {
		return
	}
	if _, err := c.Queue.Send(ctx, QueueLLM, DocumentMessage{DocumentID: docID, Force: force}); err != nil {
		c.Log.WithContext(ctx).WithField("error", err).Error("ocr: enqueue llm message")
	}
	if _, err := c.Queue.Send(ctx, QueueKBIndex, DocumentMessage{DocumentID: docID, Force: force}); err != nil {
		c.Log.WithContext(ctx).WithField("error", err).Error("ocr: enqueue kb_index message")
	}
}

func ocrArtifactKey(docID string) string { return "ocr/" + docID + "/blocks.json" }

func ocrPageTextKey(docID string, page int) string {
	return "ocr/" + docID + "/page" + strconv.Itoa(page) + ".txt"
}
