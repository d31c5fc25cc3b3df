package internal

import (
	"crypto/sha1"
	"encoding/hex"
)

// HashURL returns a stable hex digest of a URL, used as a cache and object
// key so that arbitrary URLs never leak into key namespaces.
func HashURL(url string) string {
	h := sha1.Sum([]byte(url))
	return hex.EncodeToString(h[:])
}
