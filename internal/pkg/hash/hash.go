// Package hash provides hashing utilities.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
)

// SHA256 computes the SHA256 hash of data and returns it as a hex string.
func SHA256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA256String computes the SHA256 hash of a string.
func SHA256String(s string) string {
	return SHA256([]byte(s))
}

// SHA256Short returns the first n characters of a SHA256 hash.
func SHA256Short(data []byte, n int) string {
	h := SHA256(data)
	if n > len(h) {
		return h
	}
	return h[:n]
}

// FileSHA256 streams the file at path through SHA256.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ResultKey builds a deterministic cache key for a sampling result.
// variant encodes every option that changes the computed output.
func ResultKey(contentHash string, resolution int, variant string) string {
	return SHA256Short([]byte(fmt.Sprintf("%s:%d:%s", contentHash, resolution, variant)), 32)
}

// PointUUID derives a stable name-based UUID from a content hash, for stores
// that only accept UUID or integer identifiers.
func PointUUID(contentHash string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(contentHash)).String()
}
