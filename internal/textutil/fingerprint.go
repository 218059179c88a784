// Package textutil holds the small text helpers the watch core leans on:
// content fingerprinting, tail truncation, and ANSI stripping.
package textutil

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns a stable hex digest of text.
//
// It is used only for equality comparison between successive captures,
// never reversed.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
