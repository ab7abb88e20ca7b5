package game

import (
	"math/rand"
	"sync"
)

// DefaultRoomCodeLength and DefaultRoomCodeAlphabet are the §6 defaults.
// The alphabet excludes 0/O/1/I/L so a read-aloud code is unambiguous.
const (
	DefaultRoomCodeLength   = 6
	DefaultRoomCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

// CodeGenerator samples room codes from an ambiguity-free alphabet. A
// single instance is meant to be shared process-wide; it guards its
// own RNG so concurrent callers (CreateGame handlers) are safe (§5).
type CodeGenerator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	length   int
	alphabet string
}

// NewCodeGenerator builds a generator for the given length/alphabet.
// Falls back to the §6 defaults when either is empty/non-positive.
func NewCodeGenerator(length int, alphabet string, rng *rand.Rand) *CodeGenerator {
	if length <= 0 {
		length = DefaultRoomCodeLength
	}
	if alphabet == "" {
		alphabet = DefaultRoomCodeAlphabet
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &CodeGenerator{rng: rng, length: length, alphabet: alphabet}
}

// Generate samples one candidate code. Collision retry against the
// registry is the caller's responsibility (§4.4: "no upper bound on
// retries is specified").
func (g *CodeGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	buf := make([]byte, g.length)
	for i := range buf {
		buf[i] = g.alphabet[g.rng.Intn(len(g.alphabet))]
	}
	return string(buf)
}

// NewGameRNG returns a fresh *rand.Rand seeded independently, used by
// tryStartGame/resetForRematch for symbol assignment (§4.1). Kept
// separate from CodeGenerator's RNG so room-state randomness and code
// randomness never contend on the same lock.
func NewGameRNG() *rand.Rand {
	return rand.New(rand.NewSource(rand.Int63()))
}
