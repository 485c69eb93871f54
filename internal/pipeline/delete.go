package pipeline

import "context"

// DeleteDocument implements spec.md §3's document lifetime: a document
// is "destroyed on user delete (cascades to blobs, OCR artifacts, LLM
// results...)". It removes the document row and every blob filed under
// that document's OCR/LLM key prefixes; a document that does not exist
// (or never produced any blobs) is not an error.
func (c *Context) DeleteDocument(ctx context.Context, docID string) error {
	if c.Blobs != nil {
		if err := c.Blobs.DeleteByBucketPrefix(ctx, blobBucket, "ocr/"+docID+"/"); err != nil {
			return err
		}
		if err := c.Blobs.DeleteByBucketPrefix(ctx, blobBucket, "llm/"+docID+"/"); err != nil {
			return err
		}
	}
	return c.Documents.Delete(ctx, docID)
}
