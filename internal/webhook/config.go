package webhook

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/analytiq-hub/doc-router-sub001/internal/dbx"
	svcerrors "github.com/analytiq-hub/doc-router-sub001/internal/errors"
	"github.com/analytiq-hub/doc-router-sub001/internal/secrets"
)

// Auth types a webhook config may use.
const (
	AuthNone   = "none"
	AuthHeader = "header"
	AuthHMAC   = "hmac"
)

// Config is one organization's webhook configuration. AuthHeaderValue and
// Secret are always encrypted at rest via internal/secrets; they are only
// ever decrypted into memory for the duration of a signing operation.
type Config struct {
	OrganizationID     string
	Enabled            bool
	URL                string
	Events             []string // nil means "all events"
	AuthType           string
	AuthHeaderName     string
	AuthHeaderValueEnc string
	SecretEnc          string
	SignatureEnabled   bool
}

// EnabledForEvent reports whether eventType should be delivered under
// this config. "webhook.test" always bypasses a restrictive allowlist —
// an admin-triggered connectivity probe must always be deliverable, a
// carve-out the original source's _webhook_enabled_for_event encodes.
func (c *Config) EnabledForEvent(eventType string) bool {
	if !c.Enabled {
		return false
	}
	if eventType == "webhook.test" {
		return true
	}
	if c.Events == nil {
		return true
	}
	for _, e := range c.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// ConfigStore persists per-organization webhook configuration.
type ConfigStore struct {
	db   *dbx.DB
	box  *secrets.Box
}

// NewConfigStore wraps a database handle and the encryption box used for
// auth_header_value/secret at rest.
func NewConfigStore(db *dbx.DB, box *secrets.Box) *ConfigStore {
	return &ConfigStore{db: db, box: box}
}

// EnsureSchema creates the backing table if it does not already exist.
func (s *ConfigStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS webhook_configs (
			organization_id     TEXT PRIMARY KEY,
			enabled             BOOLEAN NOT NULL DEFAULT false,
			url                 TEXT NOT NULL DEFAULT '',
			events              TEXT[],
			auth_type           TEXT NOT NULL DEFAULT 'none',
			auth_header_name    TEXT,
			auth_header_value   TEXT,
			secret              TEXT,
			signature_enabled   BOOLEAN NOT NULL DEFAULT false,
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return svcerrors.Wrap(svcerrors.CodeInternal, "create webhook_configs table", err)
	}
	return nil
}

// Get reads the config for organizationID, returning (nil, nil) if none
// has ever been set — callers should treat that the same as "disabled".
func (s *ConfigStore) Get(ctx context.Context, organizationID string) (*Config, error) {
	var cfg Config
	var events pq.StringArray
	var authHeaderName, authHeaderValue, secret sql.NullString

	err := s.db.Querier(ctx).QueryRowContext(ctx, `
		SELECT organization_id, enabled, url, events, auth_type, auth_header_name, auth_header_value, secret, signature_enabled
		FROM webhook_configs WHERE organization_id = $1
	`, organizationID).Scan(&cfg.OrganizationID, &cfg.Enabled, &cfg.URL, &events, &cfg.AuthType,
		&authHeaderName, &authHeaderValue, &secret, &cfg.SignatureEnabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.CodeInternal, "get webhook config", err)
	}

	if events != nil {
		cfg.Events = []string(events)
	}
	cfg.AuthHeaderName = authHeaderName.String
	cfg.AuthHeaderValueEnc = authHeaderValue.String
	cfg.SecretEnc = secret.String
	return &cfg, nil
}

// Upsert applies a partial update to an organization's webhook config,
// only touching fields the caller explicitly set (nil pointer = leave
// unchanged), matching the admin surface's partial-PUT semantics from
// the original implementation. Plaintext auth material is encrypted
// before it is persisted.
type Upsert struct {
	Enabled          *bool
	URL              *string
	Events           *[]string // a non-nil empty slice means "no events" (disables all), not "all"
	EventsAll        bool      // explicit "clear to null" (all events)
	AuthType         *string
	AuthHeaderName   *string // empty string after TrimSpace clears it
	AuthHeaderValue  *string // empty string clears it
	Secret           *string // empty string triggers regeneration if AuthType becomes hmac
	RegenerateSecret bool
}

// Apply reads the existing config (or a disabled zero-value default),
// applies u, persists it, and returns the updated Config plus the
// plaintext generated secret, if one was just (re)generated — the only
// time a plaintext secret is available to a caller, per spec.md §6.
func (s *ConfigStore) Apply(ctx context.Context, organizationID string, u Upsert) (*Config, string, error) {
	cfg, err := s.Get(ctx, organizationID)
	if err != nil {
		return nil, "", err
	}
	if cfg == nil {
		cfg = &Config{OrganizationID: organizationID, AuthType: AuthNone}
	}

	if u.Enabled != nil {
		cfg.Enabled = *u.Enabled
	}
	if u.URL != nil {
		cfg.URL = *u.URL
	}
	if u.EventsAll {
		cfg.Events = nil
	} else if u.Events != nil {
		cfg.Events = *u.Events
	}
	if u.AuthType != nil {
		cfg.AuthType = *u.AuthType
	}

	var plaintextAuthHeader string
	if u.AuthHeaderName != nil {
		name := strings.TrimSpace(*u.AuthHeaderName)
		cfg.AuthHeaderName = name
		if name == "" {
			cfg.AuthHeaderValueEnc = ""
		}
	}
	if u.AuthHeaderValue != nil {
		plaintextAuthHeader = *u.AuthHeaderValue
		if plaintextAuthHeader == "" {
			cfg.AuthHeaderValueEnc = ""
		} else {
			enc, err := s.box.Encrypt([]byte(organizationID), "webhook.auth_header", []byte(plaintextAuthHeader))
			if err != nil {
				return nil, "", err
			}
			cfg.AuthHeaderValueEnc = enc
		}
	}

	var generatedSecret string
	switch {
	case u.RegenerateSecret || (cfg.AuthType == AuthHMAC && u.Secret != nil && *u.Secret == "" && cfg.SecretEnc == ""):
		generatedSecret, err = secrets.GenerateSecret()
		if err != nil {
			return nil, "", err
		}
		enc, err := s.box.Encrypt([]byte(organizationID), "webhook.secret", []byte(generatedSecret))
		if err != nil {
			return nil, "", err
		}
		cfg.SecretEnc = enc
		cfg.SignatureEnabled = true
	case u.Secret != nil && *u.Secret != "":
		enc, err := s.box.Encrypt([]byte(organizationID), "webhook.secret", []byte(*u.Secret))
		if err != nil {
			return nil, "", err
		}
		cfg.SecretEnc = enc
		cfg.SignatureEnabled = true
	}

	if cfg.AuthType == AuthHMAC && cfg.SecretEnc != "" {
		cfg.SignatureEnabled = true
	}

	if err := s.persist(ctx, cfg); err != nil {
		return nil, "", err
	}
	return cfg, generatedSecret, nil
}

func (s *ConfigStore) persist(ctx context.Context, cfg *Config) error {
	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		INSERT INTO webhook_configs (organization_id, enabled, url, events, auth_type, auth_header_name, auth_header_value, secret, signature_enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (organization_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			url = EXCLUDED.url,
			events = EXCLUDED.events,
			auth_type = EXCLUDED.auth_type,
			auth_header_name = EXCLUDED.auth_header_name,
			auth_header_value = EXCLUDED.auth_header_value,
			secret = EXCLUDED.secret,
			signature_enabled = EXCLUDED.signature_enabled,
			updated_at = EXCLUDED.updated_at
	`, cfg.OrganizationID, cfg.Enabled, cfg.URL, eventsArray(cfg.Events), cfg.AuthType,
		nullableStr(cfg.AuthHeaderName), nullableStr(cfg.AuthHeaderValueEnc), nullableStr(cfg.SecretEnc),
		cfg.SignatureEnabled, time.Now().UTC())
	if err != nil {
		return svcerrors.Wrap(svcerrors.CodeInternal, "persist webhook config", err)
	}
	return nil
}

func eventsArray(events []string) any {
	if events == nil {
		return nil
	}
	return pq.Array(events)
}

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// DecryptAuthHeaderValue returns the plaintext auth header value, or ""
// if none is set.
func (s *ConfigStore) DecryptAuthHeaderValue(cfg *Config) (string, error) {
	if cfg.AuthHeaderValueEnc == "" {
		return "", nil
	}
	plain, err := s.box.Decrypt([]byte(cfg.OrganizationID), "webhook.auth_header", cfg.AuthHeaderValueEnc)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// DecryptSecret returns the plaintext HMAC secret, or "" if none is set.
func (s *ConfigStore) DecryptSecret(cfg *Config) (string, error) {
	if cfg.SecretEnc == "" {
		return "", nil
	}
	plain, err := s.box.Decrypt([]byte(cfg.OrganizationID), "webhook.secret", cfg.SecretEnc)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// AdminView is the redacted response shape the admin surface returns:
// secrets and header values are never echoed back in plaintext except
// immediately after being generated.
type AdminView struct {
	OrganizationID     string   `json:"organization_id"`
	Enabled            bool     `json:"enabled"`
	URL                string   `json:"url"`
	Events             []string `json:"events"`
	AuthType           string   `json:"auth_type"`
	AuthHeaderName     *string  `json:"auth_header_name"`
	AuthHeaderSet      bool     `json:"auth_header_set"`
	AuthHeaderPreview  *string  `json:"auth_header_preview"`
	SecretSet          bool     `json:"secret_set"`
	SecretPreview      *string  `json:"secret_preview"`
	SignatureEnabled   bool     `json:"signature_enabled"`
	GeneratedSecret    string   `json:"generated_secret,omitempty"`
}

// ToAdminView builds the redacted response for cfg. plaintextAuthHeader
// and plaintextSecret are the decrypted values for preview purposes only
// (never returned in full); generatedSecret is non-empty only right
// after a call that generated or rotated the secret, and is the one time
// the full plaintext is ever returned, per spec.md §6.
func (cfg *Config) ToAdminView(plaintextAuthHeader, plaintextSecret, generatedSecret string) AdminView {
	view := AdminView{
		OrganizationID:   cfg.OrganizationID,
		Enabled:          cfg.Enabled,
		URL:              cfg.URL,
		Events:           cfg.Events,
		AuthType:         cfg.AuthType,
		SignatureEnabled: cfg.SignatureEnabled,
		GeneratedSecret:  generatedSecret,
	}
	if cfg.AuthHeaderName != "" {
		name := cfg.AuthHeaderName
		view.AuthHeaderName = &name
	}
	if plaintextAuthHeader != "" {
		view.AuthHeaderSet = true
		preview := secrets.Preview(plaintextAuthHeader, 5)
		view.AuthHeaderPreview = &preview
	}
	if plaintextSecret != "" {
		view.SecretSet = true
		preview := secrets.Preview(plaintextSecret, 16)
		view.SecretPreview = &preview
	}
	return view
}
