package services

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/amirphl/conversion-relay/utils"
)

// HashEmail normalises an email (trim, lowercase) and returns its SHA-256 hex digest; "" stays ""
func HashEmail(email string) string {
	return sha256Hex(strings.ToLower(strings.TrimSpace(email)))
}

// HashPhone keeps only digits before hashing
func HashPhone(phone string) string {
	return sha256Hex(utils.OnlyDigits(phone))
}

// HashDocument keeps only digits before hashing
func HashDocument(document string) string {
	return sha256Hex(utils.OnlyDigits(document))
}

// HashValue trims and lowercases generic identifiers such as names
func HashValue(v string) string {
	return sha256Hex(strings.ToLower(strings.TrimSpace(v)))
}

func sha256Hex(v string) string {
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

// hashedList wraps a digest in the single-element list some APIs expect, or nil when empty
func hashedList(digest string) []string {
	if digest == "" {
		return nil
	}
	return []string{digest}
}
