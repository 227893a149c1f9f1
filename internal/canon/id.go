package canon

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/Harshitk-cp/credence/internal/domain"
)

const (
	// idHexLen is the length of a content-addressed entry ID.
	idHexLen = 16
	// shortHashHexLen is the length of the digest suffix used to resolve
	// merge collisions.
	shortHashHexLen = 8
)

// DeriveID computes the content-addressed identifier for an entry payload.
// Each field is length-prefixed before hashing so no two distinct payloads
// can collide by concatenation. Re-importing identical data therefore yields
// identical IDs, while any edit yields a new one.
func DeriveID(title string, at time.Time, certainty float64, content string) string {
	h := sha256.New()
	field := func(s string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	field(title)
	field(at.UTC().Format(time.RFC3339Nano))
	field(strconv.FormatFloat(domain.ClampCertainty(certainty), 'g', -1, 64))
	field(content)
	return hex.EncodeToString(h.Sum(nil))[:idHexLen]
}

// ShortHash returns the 8-hex digest of canonical content, appended to an ID
// when a merge finds the same ID carrying different content.
func ShortHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:shortHashHexLen]
}
