package tracking

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes of entropy encode to a 32-character URL-safe token.
const tokenBytes = 24

// Generator issues unguessable tracking identifiers safe for use in URL path
// segments. Uniqueness is not checked here; the attempt store enforces it
// with a unique index and callers retry on the (astronomically rare)
// collision.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// New returns a fixed-length token derived from a cryptographically strong
// random source, encoded with the unpadded URL-safe base64 alphabet.
func (g *Generator) New() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
