package cache

import (
	"encoding/hex"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// Key derives a cache key scoped to the caller's credential. The token is
// hashed so it never appears in a store.
func Key(accessToken, method, path, rawQuery string) string {
	h, _ := blake2b.New256(nil)
	for _, part := range [...]string{accessToken, method, path, rawQuery} {
		// length prefix keeps ("ab","c") and ("a","bc") apart
		_, _ = h.Write([]byte(strconv.Itoa(len(part))))
		_, _ = h.Write([]byte{':'})
		_, _ = h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SessionTag names the partition holding every entry cached for one access
// token, so a logout can drop them together. Empty for anonymous callers.
func SessionTag(accessToken string) string {
	if accessToken == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(accessToken))
	return "session:" + hex.EncodeToString(sum[:16])
}
