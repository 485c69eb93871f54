package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSignatureVector(t *testing.T) {
	secret := "whs_testsecret"
	timestamp := "1700000000"
	body := []byte(`{"a":1}`)

	sig := ComputeSignature(secret, timestamp, body)
	assert.NotEmpty(t, sig)
	assert.Len(t, sig, 64) // hex-encoded SHA-256

	// Same inputs must always produce the same signature.
	assert.Equal(t, sig, ComputeSignature(secret, timestamp, body))

	header := SignatureHeader(secret, timestamp, body)
	assert.Equal(t, "sha256="+sig, header)
}

func TestComputeSignatureChangesWithInputs(t *testing.T) {
	base := ComputeSignature("whs_testsecret", "1700000000", []byte(`{"a":1}`))

	assert.NotEqual(t, base, ComputeSignature("whs_othersecret", "1700000000", []byte(`{"a":1}`)))
	assert.NotEqual(t, base, ComputeSignature("whs_testsecret", "1700000001", []byte(`{"a":1}`)))
	assert.NotEqual(t, base, ComputeSignature("whs_testsecret", "1700000000", []byte(`{"a":2}`)))
}

func TestCanonicalJSONSortsKeysRegardlessOfInputOrder(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": map[string]any{"z": 1, "y": 2}}
	b := map[string]any{"a": 2, "c": map[string]any{"y": 2, "z": 1}, "b": 1}

	canonA, err := CanonicalJSON(a)
	require.NoError(t, err)
	canonB, err := CanonicalJSON(b)
	require.NoError(t, err)

	assert.Equal(t, string(canonA), string(canonB))
	assert.Equal(t, `{"a":2,"b":1,"c":{"y":2,"z":1}}`, string(canonA))
}

func TestCanonicalJSONDoesNotEscapeHTML(t *testing.T) {
	out, err := CanonicalJSON(map[string]any{"url": "https://example.com/a&b"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "&")
	assert.NotContains(t, string(out), "\\u0026")
}
