package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// CacheSchemaVersion invalidates every cache key when the on-store layout
// of cached blobs changes.
const CacheSchemaVersion = "v1"

// CacheKeyInput is everything a cache key is derived from. Identical
// inputs always yield identical keys; changing any lock-file hash alone
// changes the key.
type CacheKeyInput struct {
	Class         string
	Platform      string
	ToolVersion   string
	SchemaVersion string
	LockHashes    []string
}

// Key derives the deterministic cache key. Keys are namespaced by job
// class so ecosystems never collide on shared lock-file names.
func (in CacheKeyInput) Key() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00", in.Platform, in.ToolVersion, in.SchemaVersion)
	io.WriteString(h, strings.Join(in.LockHashes, "\x00"))
	return fmt.Sprintf("%s-%s-%s", in.Class, in.SchemaVersion, hex.EncodeToString(h.Sum(nil))[:32])
}

// HashFile returns the hex sha256 of a file's contents.
func HashFile(path string) (string, error) {
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

// HashString returns the hex sha256 of a string.
func HashString(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
