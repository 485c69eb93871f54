package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewProducesValidShape(t *testing.T) {
	id := New()
	assert.Len(t, id, 24)
	assert.True(t, Valid(id))
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		assert.False(t, seen[id], "id %s generated twice", id)
		seen[id] = true
	}
}

func TestValidRejectsWrongLength(t *testing.T) {
	assert.False(t, Valid(""))
	assert.False(t, Valid("abc"))
	assert.False(t, Valid("0123456789abcdef0123456789")) // too long
}

func TestValidRejectsNonHexCharacters(t *testing.T) {
	assert.False(t, Valid("zzzzzzzzzzzzzzzzzzzzzzzz"))
	assert.False(t, Valid("0123456789ABCDEF01234567")) // uppercase not accepted
}

func TestValidAcceptsLowercaseHex(t *testing.T) {
	assert.True(t, Valid("0123456789abcdef01234567"))
}
