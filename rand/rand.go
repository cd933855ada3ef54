// Package rand produces the random material the server needs: handshake
// payloads and identifiers.
package rand

import (
	cryptoRand "crypto/rand"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Fill fills b with cryptographically-safe random data.
func Fill(b []byte) error {
	if _, err := cryptoRand.Read(b); err != nil {
		return errors.Wrap(err, "rand: read")
	}
	return nil
}

// SessionID returns a UUID in string format (including hyphens).
func SessionID() string {
	return uuid.NewString()
}
