package pipeline

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// Queue names the pipeline consumes from. "ocr_err" is a send-only
// dead-letter sink (spec.md §C.4): no handler is ever registered for it.
const (
	QueueOCR     = "ocr"
	QueueOCRErr  = "ocr_err"
	QueueLLM     = "llm"
	QueueKBIndex = "kb_index"
	QueueWebhook = "webhook"
)

// Event types emitted onto the webhook engine.
const (
	EventDocumentUploaded = "document.uploaded"
	EventDocumentError    = "document.error"
	EventLLMCompleted     = "llm.completed"
	EventLLMError         = "llm.error"
	EventWebhookTest      = "webhook.test"
)

// DocumentMessage is the payload shape shared by ocr, llm and kb_index:
// {document_id, force?}. Modeling every queue's payload as an explicit,
// stable struct (rather than the source's ad-hoc dict) means an unknown
// or missing field decodes to its zero value instead of panicking,
// satisfying spec.md §9's "dynamic dispatch over payload shape" note.
type DocumentMessage struct {
	DocumentID string `json:"document_id"`
	Force      bool   `json:"force,omitempty"`
}

// WebhookMessage is the webhook queue's payload: {delivery_id}.
type WebhookMessage struct {
	DeliveryID string `json:"delivery_id"`
}

// DecodeDocumentMessage parses a DocumentMessage from a queue message's
// raw JSON payload.
func DecodeDocumentMessage(raw json.RawMessage) (DocumentMessage, error) {
	var m DocumentMessage
	err := json.Unmarshal(raw, &m)
	return m, err
}

// DecodeWebhookMessage parses a WebhookMessage from a queue message's raw
// JSON payload.
func DecodeWebhookMessage(raw json.RawMessage) (WebhookMessage, error) {
	var m WebhookMessage
	err := json.Unmarshal(raw, &m)
	return m, err
}

// ocrSupportedExtensions lists file extensions OCR can process; anything
// else (structured data formats such as .csv, .json, .xlsx) passes
// through OCR untouched, per spec.md §4.4.1 step 2.
var ocrSupportedExtensions = map[string]bool{
	".pdf":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
}

// ocrSupported reports whether fileName's extension is one OCR handles.
func ocrSupported(fileName string) bool {
	ext := strings.ToLower(filepath.Ext(fileName))
	return ocrSupportedExtensions[ext]
}
