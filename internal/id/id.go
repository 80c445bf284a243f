// Package id generates the opaque tokens that identify captured exchanges.
//
// Tokens are short random hex strings produced from crypto/rand. They are
// safe to embed in file names, which is how the persist layer derives body
// file paths from a record's identity.
package id

import (
	"crypto/rand"
	"encoding/hex"
)

// Short returns a 16-character random hex token.
func Short() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
