// Package idgen creates the 24-lowercase-hex-character ids used for
// documents and queue messages, matching the shape of the Mongo
// ObjectId the original system used (see original_source's
// analytiq_data/common/id.py) so external consumers that validate
// doc_id shape keep working against this rewrite.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/binary"
	"sync/atomic"
	"time"
)

var counter uint32

// New returns a fresh 24-hex-char id: a 4-byte unix timestamp, a 5-byte
// random value, and a 3-byte monotonic counter — the same layout as a
// Mongo ObjectId, without depending on a Mongo driver.
func New() string {
	var b [12]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(time.Now().Unix()))

	if _, err := rand.Read(b[4:9]); err != nil {
		// crypto/rand failing is catastrophic; fall back to the counter
		// alone rather than panicking a handler mid-pipeline.
		binary.BigEndian.PutUint32(b[4:8], atomic.AddUint32(&counter, 1))
	}

	c := atomic.AddUint32(&counter, 1)
	b[9] = byte(c >> 16)
	b[10] = byte(c >> 8)
	b[11] = byte(c)

	return hex.EncodeToString(b[:])
}

// Valid reports whether s has the 24-lowercase-hex-character shape.
func Valid(s string) bool {
	if len(s) != 24 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
