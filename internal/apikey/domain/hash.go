package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	LivePrefix = "sk_live_"
	TestPrefix = "sk_test_"
)

// HashAPIKey hashes the raw API key using the same strategy as key creation.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// LivemodeFromPrefix derives the key's environment from its prefix
// convention. Unrecognized prefixes report false for ok.
func LivemodeFromPrefix(raw string) (livemode, ok bool) {
	switch {
	case strings.HasPrefix(raw, LivePrefix):
		return true, true
	case strings.HasPrefix(raw, TestPrefix):
		return false, true
	default:
		return false, false
	}
}
