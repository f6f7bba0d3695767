// Package linkhash derives the short integrity token embedded in stream
// and download links.
//
// The token is the first TokenLength hex characters of the MD5 digest of
// the Telegram file_unique_id. It is deterministic so links stay valid
// forever, and short so links stay readable. It is not a secret: it only
// stops casual tampering with message ids, and collisions at this length
// are possible. Verify uses a plain comparison, not a constant-time one.
package linkhash

import (
	"crypto/md5"
	"encoding/hex"
)

const TokenLength = 12

// Compute returns the integrity token for a file_unique_id.
func Compute(fileUniqueID string) string {
	sum := md5.Sum([]byte(fileUniqueID))
	return hex.EncodeToString(sum[:])[:TokenLength]
}

// Verify reports whether candidate is the token of fileUniqueID.
func Verify(fileUniqueID, candidate string) bool {
	return Compute(fileUniqueID) == candidate
}

// Valid reports whether token has the shape Compute produces.
func Valid(token string) bool {
	if len(token) != TokenLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
