package game

import (
	"math/rand"
	"testing"
)

func TestCodeGeneratorGenerateUsesDefaultsWhenUnset(t *testing.T) {
	g := NewCodeGenerator(0, "", rand.New(rand.NewSource(1)))
	code := g.Generate()
	if len(code) != DefaultRoomCodeLength {
		t.Fatalf("expected default length %d, got %d (%q)", DefaultRoomCodeLength, len(code), code)
	}
	for _, c := range code {
		found := false
		for _, allowed := range DefaultRoomCodeAlphabet {
			if c == allowed {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("code %q contains a character outside the default alphabet", code)
		}
	}
}

func TestCodeGeneratorGenerateHonorsCustomLengthAndAlphabet(t *testing.T) {
	g := NewCodeGenerator(4, "AB", rand.New(rand.NewSource(2)))
	code := g.Generate()
	if len(code) != 4 {
		t.Fatalf("expected length 4, got %d", len(code))
	}
	for _, c := range code {
		if c != 'A' && c != 'B' {
			t.Fatalf("code %q contains a character outside the custom alphabet", code)
		}
	}
}
