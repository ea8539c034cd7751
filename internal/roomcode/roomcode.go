// Package roomcode generates and validates short room codes.
package roomcode

import (
	"crypto/rand"
	"fmt"
	"regexp"
)

// Room codes are uppercase alphanumerics; generated codes use 6
// characters, joins accept 4-12.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const generatedLength = 6

var codePattern = regexp.MustCompile(`^[A-Z0-9_]{4,12}$`)

// RandSource interface for dependency injection of randomness
type RandSource interface {
	IntN(n int) int
}

// Generator produces room codes with configurable randomness.
type Generator struct {
	randSource RandSource
}

// NewGenerator creates a generator; a nil RandSource uses crypto/rand.
func NewGenerator(randSource RandSource) *Generator {
	return &Generator{randSource: randSource}
}

// Generate creates a new room code using crypto/rand.
func Generate() string {
	return NewGenerator(nil).Generate()
}

// Generate creates a new room code using the generator's RandSource.
func (g *Generator) Generate() string {
	b := make([]byte, generatedLength)
	if g.randSource != nil {
		for i := range b {
			b[i] = alphabet[g.randSource.IntN(len(alphabet))]
		}
		return string(b)
	}
	raw := make([]byte, generatedLength)
	if _, err := rand.Read(raw); err != nil {
		panic("roomcode: failed to read random bytes: " + err.Error())
	}
	for i := range b {
		b[i] = alphabet[int(raw[i])%len(alphabet)]
	}
	return string(b)
}

// Validate checks that a code matches the accepted room-code format.
func Validate(code string) error {
	if !codePattern.MatchString(code) {
		return fmt.Errorf("invalid room code %q: must match %s", code, codePattern)
	}
	return nil
}
