// Package secrets implements encryption-at-rest for webhook auth material
// (auth_header_value, HMAC secret): AES-256-GCM envelope encryption for
// new writes, adapted from the teacher's infrastructure/crypto/envelope.go,
// plus a decrypt-only legacy AES-256-CFB path so rows written before this
// rewrite keep decrypting (spec.md §6: "a rewrite SHOULD preserve
// decryption compatibility but MAY introduce a new format for new
// writes"). Primitives are standard-library only, matching the teacher's
// own choice for this exact component (see DESIGN.md).
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	svcerrors "github.com/analytiq-hub/doc-router-sub001/internal/errors"
)

const envelopeVersionPrefix = "v1:"

// Box encrypts and decrypts secrets against a single master key.
type Box struct {
	masterKey []byte // 32-byte SHA-256 of the configured master secret
}

// New derives the master key from the configured secret. The secret
// itself is never stored; only its SHA-256 digest is kept in memory.
func New(masterSecret string) *Box {
	sum := sha256.Sum256([]byte(masterSecret))
	return &Box{masterKey: sum[:]}
}

func deriveEnvelopeKey(masterKey, subject []byte, info string) []byte {
	mac := hmac.New(sha256.New, masterKey)
	_, _ = mac.Write([]byte(info))
	_, _ = mac.Write([]byte{0})
	_, _ = mac.Write(subject)
	return mac.Sum(nil)
}

func envelopeAAD(subject []byte, info string) []byte {
	aad := make([]byte, 0, len(info)+1+len(subject))
	aad = append(aad, info...)
	aad = append(aad, 0)
	aad = append(aad, subject...)
	return aad
}

// Encrypt produces a "v1:"-prefixed, base64url envelope of plaintext. subject
// (typically the organization id) and info (a purpose string such as
// "webhook.secret" or "webhook.auth_header") are bound into both key
// derivation and the AEAD's additional data, so a ciphertext cannot be
// replayed under a different organization or field.
func (b *Box) Encrypt(subject []byte, info string, plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", nil
	}

	key := deriveEnvelopeKey(b.masterKey, subject, info)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", svcerrors.Wrap(svcerrors.CodeEncryption, "new cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", svcerrors.Wrap(svcerrors.CodeEncryption, "new gcm", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", svcerrors.Wrap(svcerrors.CodeEncryption, "read nonce", err)
	}

	aad := envelopeAAD(subject, info)
	ciphertext := aead.Seal(nil, nonce, plaintext, aad)

	buf := make([]byte, 0, len(nonce)+len(ciphertext))
	buf = append(buf, nonce...)
	buf = append(buf, ciphertext...)

	return envelopeVersionPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Decrypt accepts either a "v1:" envelope or a legacy plain base64url
// AES-256-CFB payload (no prefix), auto-detecting by the prefix.
func (b *Box) Decrypt(subject []byte, info string, stored string) ([]byte, error) {
	if stored == "" {
		return nil, nil
	}

	if strings.HasPrefix(stored, envelopeVersionPrefix) {
		return b.decryptEnvelope(subject, info, stored)
	}
	return b.decryptLegacyCFB(stored)
}

func (b *Box) decryptEnvelope(subject []byte, info string, stored string) ([]byte, error) {
	encoded := strings.TrimPrefix(stored, envelopeVersionPrefix)
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.CodeDecryption, "decode envelope", err)
	}

	key := deriveEnvelopeKey(b.masterKey, subject, info)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.CodeDecryption, "new cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.CodeDecryption, "new gcm", err)
	}
	if len(raw) < aead.NonceSize() {
		return nil, svcerrors.New(svcerrors.CodeDecryption, "envelope ciphertext too short")
	}

	nonce, body := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, envelopeAAD(subject, info))
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.CodeDecryption, "open envelope", err)
	}
	return plaintext, nil
}

// decryptLegacyCFB decrypts the pre-rewrite wire format: AES-256-CFB with
// key = SHA-256(master secret) and a deterministic IV = first 16 bytes of
// SHA-256(key). There is no subject/info binding in the legacy format —
// it predates per-field key separation — so subject and info are unused
// here deliberately, only accepted by Decrypt's shared signature.
func (b *Box) decryptLegacyCFB(stored string) ([]byte, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(stored)
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.CodeDecryption, "decode legacy ciphertext", err)
	}

	ivSum := sha256.Sum256(b.masterKey)
	iv := ivSum[:aes.BlockSize]

	block, err := aes.NewCipher(b.masterKey)
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.CodeDecryption, "new legacy cipher", err)
	}

	stream := cipher.NewCFBDecrypter(block, iv)
	plaintext := make([]byte, len(ciphertext))
	stream.XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}

// GenerateSecret returns a new HMAC secret in the "whs_" + 32 bytes of
// URL-safe base64 entropy format (spec.md §6).
func GenerateSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", svcerrors.Wrap(svcerrors.CodeInternal, "generate secret entropy", err)
	}
	return "whs_" + base64.RawURLEncoding.EncodeToString(raw), nil
}

// Preview returns the redacted preview shown by the admin surface: the
// first n characters of secret followed by "...". Used for both webhook
// secrets (n=16) and auth header values (n=5), per the original's
// redaction contract.
func Preview(secret string, n int) string {
	if len(secret) <= n {
		return secret + "..."
	}
	return secret[:n] + "..."
}
