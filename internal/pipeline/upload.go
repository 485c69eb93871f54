package pipeline

import (
	"context"

	"github.com/analytiq-hub/doc-router-sub001/internal/document"
)

// UploadInput is what the (out-of-scope) upload surface hands to this
// core once a file's bytes are already durably written to blob storage.
type UploadInput struct {
	OrganizationID string
	UserFileName   string
	MongoFileName  string
	PDFFileName    string
	TagIDs         []string
}

// Upload implements spec.md §2's control flow entry point: place a
// document record, emit document.uploaded, and enqueue the ocr message
// that starts the pipeline.
func (c *Context) Upload(ctx context.Context, in UploadInput) (string, error) {
	doc := &document.Document{
		OrganizationID: in.OrganizationID,
		UserFileName:   in.UserFileName,
		MongoFileName:  in.MongoFileName,
		PDFFileName:    in.PDFFileName,
		TagIDs:         in.TagIDs,
		State:          document.StateUploaded,
	}
	if err := c.Documents.Put(ctx, doc); err != nil {
		return "", err
	}

	if c.Webhooks != nil {
		_ = c.Webhooks.Enqueue(ctx, in.OrganizationID, EventDocumentUploaded, doc.ID, map[string]string{
			"document_id":    doc.ID,
			"user_file_name": in.UserFileName,
		})
	}

	if _, err := c.Queue.Send(ctx, QueueOCR, DocumentMessage{DocumentID: doc.ID}); err != nil {
		return "", err
	}
	return doc.ID, nil
}
