// Package idgen generates the daemon's identifiers from a cryptographically
// strong source, per spec design note: session and delivery IDs must not be
// predictable.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Session returns a new "session-<hex8>" identifier.
func Session() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on a real OS does not fail; a uuid fallback keeps
		// this function infallible for callers.
		return "session-" + uuid.NewString()[:8]
	}
	return "session-" + hex.EncodeToString(buf)
}

// Webhook returns a new webhook identifier.
func Webhook() string {
	return "webhook-" + uuid.NewString()
}

// Delivery returns a new delivery identifier.
func Delivery() string {
	return "delivery-" + uuid.NewString()
}

// Agent returns a new "agent-<8 hex chars>" identifier, used when a caller
// registers without supplying its own id.
func Agent() string {
	return fmt.Sprintf("agent-%s", uuid.NewString()[:8])
}
