package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

var hashSalt string

func init() {
	// In production, set LOG_HASH_SALT.
	hashSalt = os.Getenv("LOG_HASH_SALT")
	if hashSalt == "" {
		hashSalt = "default-salt-change-in-production"
	}
}

// HashID creates a privacy-preserving hash of a chat or sender id so user
// actions can be correlated in logs without exposing phone numbers or JIDs.
func HashID(id string) string {
	hash := sha256.Sum256([]byte(id + ":" + hashSalt))
	return hex.EncodeToString(hash[:])[:8]
}

// SanitizeText redacts user-provided message text while preserving enough
// shape for debugging.
func SanitizeText(text string) string {
	if text == "" {
		return "<empty>"
	}
	if len(text) <= 10 {
		return fmt.Sprintf("<%d chars>", len(text))
	}
	return fmt.Sprintf("%s...<%d chars>", text[:3], len(text))
}
