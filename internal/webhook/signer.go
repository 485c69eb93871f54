// Package webhook implements the delivery engine: org config, durable
// delivery records, HMAC/header signing, and retrying HTTP dispatch with
// response classification and exponential backoff, per spec.md §4.5.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON encodes v as compact JSON with object keys in sorted
// order, the exact byte sequence §8's HMAC vector is computed over and
// the body every delivery transmits (spec.md GLOSSARY "Canonical JSON").
func CanonicalJSON(v any) ([]byte, error) {
	generic, err := toSortedGeneric(v)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	// json.Encoder.Encode appends a trailing newline; compact strips it.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// toSortedGeneric round-trips v through encoding/json into map[string]any
// so nested object keys are deterministically ordered when re-marshaled,
// since Go's encoding/json already sorts map keys on output but struct
// field order would otherwise follow declaration order.
func toSortedGeneric(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return sortValue(generic), nil
}

func sortValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(map[string]any, len(t))
		for _, k := range keys {
			ordered[k] = sortValue(t[k])
		}
		return ordered
	case []any:
		for i, item := range t {
			t[i] = sortValue(item)
		}
		return t
	default:
		return t
	}
}

// ComputeSignature returns the hex-encoded HMAC-SHA256 of
// "<timestamp>.<body>" under secret, matching spec.md §4.5 and the
// literal test vector in §8: secret="whs_testsecret",
// timestamp="1700000000", body=`{"a":1}` must hash
// "1700000000.{\"a\":1}".
func ComputeSignature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader formats ComputeSignature's output as the
// X-Signature-256 header value.
func SignatureHeader(secret, timestamp string, body []byte) string {
	return fmt.Sprintf("sha256=%s", ComputeSignature(secret, timestamp, body))
}
