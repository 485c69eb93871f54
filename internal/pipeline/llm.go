package pipeline

import (
	"context"
	"encoding/json"

	"github.com/analytiq-hub/doc-router-sub001/internal/document"
	"github.com/analytiq-hub/doc-router-sub001/internal/llmprovider"
)

const defaultPromptID = "default"

// HandleLLM implements spec.md §4.4.2. Like HandleOCR it is its own error
// firewall: every failure is logged and absorbed into a document.llm_failed
// transition (or a no-op where no transition is possible) rather than
// returned, so the caller always completes the queue message.
func (c *Context) HandleLLM(ctx context.Context, raw json.RawMessage) error {
	msg, err := DecodeDocumentMessage(raw)
	if err != nil {
		c.Log.WithContext(ctx).WithField("error", err).Error("llm: decode message")
		return nil
	}

	doc, err := c.Documents.Get(ctx, msg.DocumentID)
	if err != nil {
		c.Log.WithContext(ctx).WithField("document_id", msg.DocumentID).WithField("error", err).Error("llm: get document")
		return nil
	}
	if doc == nil {
		return nil
	}

	if err := c.Documents.UpdateState(ctx, doc.ID, document.StateLLMProcessing); err != nil {
		c.Log.WithContext(ctx).WithField("document_id", doc.ID).WithField("error", err).Error("llm: mark processing")
		return nil
	}

	promptIDs, err := c.Prompts.ResolvePromptIDs(ctx, doc.OrganizationID, doc.TagIDs)
	if err != nil {
		return c.failLLM(ctx, doc.ID, doc.OrganizationID, err.Error())
	}
	// Step 2: prepend the synthetic "default" prompt id.
	promptIDs = append([]string{defaultPromptID}, promptIDs...)

	ocrText, err := c.assembleOCRText(ctx, doc.ID)
	if err != nil {
		return c.failLLM(ctx, doc.ID, doc.OrganizationID, err.Error())
	}

	if err := c.Accounting.CheckLimit(ctx, doc.OrganizationID, "llm"); err != nil {
		return c.failLLM(ctx, doc.ID, doc.OrganizationID, err.Error())
	}

	for _, promptID := range promptIDs {
		cacheKey := llmResultKey(doc.ID, promptID)
		if !msg.Force {
			existing, err := c.Blobs.Get(ctx, blobBucket, cacheKey)
			if err != nil {
				return c.failLLM(ctx, doc.ID, doc.OrganizationID, err.Error())
			}
			if existing != nil {
				continue // Step 3: cached result, not force — skip.
			}
		}

		req := llmprovider.Request{
			DocumentID: doc.ID,
			PromptID:   promptID,
			PromptText: promptTextFor(promptID),
			OCRText:    ocrText,
		}
		result, err := c.LLM.Run(ctx, req)
		if err != nil {
			return c.failLLM(ctx, doc.ID, doc.OrganizationID, err.Error())
		}
		if err := c.Blobs.Put(ctx, blobBucket, cacheKey, result, nil); err != nil {
			return c.failLLM(ctx, doc.ID, doc.OrganizationID, err.Error())
		}
		_ = c.Accounting.RecordUsage(ctx, doc.OrganizationID, "llm", 1)
	}

	if err := c.Documents.UpdateState(ctx, doc.ID, document.StateLLMCompleted); err != nil {
		c.Log.WithContext(ctx).WithField("document_id", doc.ID).WithField("error", err).Error("llm: mark completed")
		return nil
	}
	if c.Webhooks != nil {
		_ = c.Webhooks.Enqueue(ctx, doc.OrganizationID, EventLLMCompleted, doc.ID, map[string]any{
			"document_id": doc.ID,
			"prompt_ids":  promptIDs,
		})
	}
	return nil
}

func (c *Context) failLLM(ctx context.Context, docID, organizationID, reason string) error {
	if err := c.Documents.UpdateState(ctx, docID, document.StateLLMFailed); err != nil {
		c.Log.WithContext(ctx).WithField("document_id", docID).WithField("error", err).Error("llm: mark failed")
		return nil
	}
	if organizationID != "" && c.Webhooks != nil {
		_ = c.Webhooks.Enqueue(ctx, organizationID, EventLLMError, docID, map[string]string{
			"document_id": docID,
			"message":     reason,
		})
	}
	c.Log.WithContext(ctx).WithField("document_id", docID).WithField("reason", reason).Error("llm: failed")
	return nil
}

// assembleOCRText concatenates every page-text blob an OCR run produced,
// or returns empty if the document never went through OCR (structured
// data pass-through, spec.md §4.4.1 step 2).
func (c *Context) assembleOCRText(ctx context.Context, docID string) (string, error) {
	var text string
	for page := 0; ; page++ {
		obj, err := c.Blobs.Get(ctx, blobBucket, ocrPageTextKey(docID, page))
		if err != nil {
			return "", err
		}
		if obj == nil {
			break
		}
		text += string(obj.Bytes)
	}
	return text, nil
}

func llmResultKey(docID, promptID string) string { return "llm/" + docID + "/" + promptID + ".json" }

// promptTextFor resolves a prompt id to prompt text. Prompt authoring is
// out of this core's scope (spec.md §1); the synthetic "default" prompt
// gets a fixed extraction instruction, any other id is passed through
// verbatim as its own text since prompt storage lives in the excluded
// admin surface.
func promptTextFor(promptID string) string {
	if promptID == defaultPromptID {
		return "Extract the key fields from this document as JSON."
	}
	return promptID
}
