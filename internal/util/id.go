package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns an opaque random identifier. The prefix names the record
// kind (usr, doc, jti, rft) so ids stay recognizable in logs; an empty
// prefix yields bare hex, used where the id is a secret rather than a name.
func NewID(prefix string) string {
	raw := make([]byte, 12)
	_, _ = rand.Read(raw)
	if prefix == "" {
		return hex.EncodeToString(raw)
	}
	return prefix + "_" + hex.EncodeToString(raw)
}
