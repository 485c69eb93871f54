// Package adminapi exposes the inbound HTTP surface this core owns:
// PUT/GET /orgs/{id}/webhook (spec.md §6 "Admin config surface") and
// document delete (spec.md §4.3's delete(doc_id) operation). Routing
// follows the teacher's cmd/gateway mux.Router conventions.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/analytiq-hub/doc-router-sub001/internal/logging"
	"github.com/analytiq-hub/doc-router-sub001/internal/pipeline"
	"github.com/analytiq-hub/doc-router-sub001/internal/webhook"
)

// Handler serves the admin webhook configuration and document routes.
type Handler struct {
	configs  *webhook.ConfigStore
	pipeline *pipeline.Context
	log      *logging.Logger
}

// New constructs a Handler. pipeline may be nil, in which case the
// document delete route is not registered (standalone webhook-config-only
// deployments).
func New(configs *webhook.ConfigStore, pc *pipeline.Context, log *logging.Logger) *Handler {
	return &Handler{configs: configs, pipeline: pc, log: log}
}

// Register wires this handler's routes onto router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/orgs/{id}/webhook", h.getWebhook).Methods(http.MethodGet)
	router.HandleFunc("/orgs/{id}/webhook", h.putWebhook).Methods(http.MethodPut)
	if h.pipeline != nil {
		router.HandleFunc("/documents/{docID}", h.deleteDocument).Methods(http.MethodDelete)
	}
}

func (h *Handler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docID"]
	if err := h.pipeline.DeleteDocument(r.Context(), docID); err != nil {
		jsonError(w, "failed to delete document", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getWebhook(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["id"]

	cfg, err := h.configs.Get(r.Context(), orgID)
	if err != nil {
		jsonError(w, "failed to load webhook config", http.StatusInternalServerError)
		return
	}
	if cfg == nil {
		cfg = &webhook.Config{OrganizationID: orgID, AuthType: webhook.AuthNone}
	}

	view := h.buildView(r.Context(), cfg, "")
	jsonResponse(w, http.StatusOK, view)
}

// webhookPutRequest mirrors the original's partial-PUT body: every field
// is optional, and present-but-empty has a distinct meaning (clear) from
// absent (leave unchanged).
type webhookPutRequest struct {
	Enabled         *bool     `json:"enabled"`
	URL             *string   `json:"url"`
	Events          json.RawMessage `json:"events"`
	AuthType        *string   `json:"auth_type"`
	AuthHeaderName  *string   `json:"auth_header_name"`
	AuthHeaderValue *string   `json:"auth_header_value"`
	Secret          *string   `json:"secret"`
}

func (h *Handler) putWebhook(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["id"]

	var req webhookPutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	upsert := webhook.Upsert{
		Enabled:         req.Enabled,
		URL:             req.URL,
		AuthType:        req.AuthType,
		AuthHeaderName:  req.AuthHeaderName,
		AuthHeaderValue: req.AuthHeaderValue,
		Secret:          req.Secret,
	}
	if req.Events != nil {
		if string(req.Events) == "null" {
			upsert.EventsAll = true
		} else {
			var events []string
			if err := json.Unmarshal(req.Events, &events); err != nil {
				jsonError(w, "invalid request body", http.StatusBadRequest)
				return
			}
			upsert.Events = &events
		}
	}
	// ConfigStore.Apply already regenerates the secret on its own when
	// auth_type becomes hmac and no secret is set yet; RegenerateSecret
	// is only for an explicit rotation request against an already-hmac
	// config, which Apply's implicit condition would otherwise miss.
	if req.AuthType != nil && strings.EqualFold(*req.AuthType, webhook.AuthHMAC) &&
		req.Secret != nil && strings.TrimSpace(*req.Secret) == "" {
		upsert.RegenerateSecret = true
	}

	cfg, generatedSecret, err := h.configs.Apply(r.Context(), orgID, upsert)
	if err != nil {
		jsonError(w, "failed to update webhook config", http.StatusInternalServerError)
		return
	}

	view := h.buildView(r.Context(), cfg, generatedSecret)
	jsonResponse(w, http.StatusOK, view)
}

func (h *Handler) buildView(ctx context.Context, cfg *webhook.Config, generatedSecret string) webhook.AdminView {
	authHeaderPlain, err := h.configs.DecryptAuthHeaderValue(cfg)
	if err != nil {
		h.log.WithContext(ctx).WithField("error", err).Warn("adminapi: decrypt auth header for preview")
	}

	secretPlain := generatedSecret
	if secretPlain == "" {
		secretPlain, err = h.configs.DecryptSecret(cfg)
		if err != nil {
			h.log.WithContext(ctx).WithField("error", err).Warn("adminapi: decrypt secret for preview")
		}
	}

	return cfg.ToAdminView(authHeaderPlain, secretPlain, generatedSecret)
}

func jsonResponse(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	jsonResponse(w, status, map[string]string{"error": message})
}
