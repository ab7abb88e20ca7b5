package api

import (
	"strings"

	"github.com/google/uuid"
)

// NewCorrelationID returns a fresh 32-hex correlation id for an RPC
// call (§6 "A correlation id (32-hex) is generated per call").
func NewCorrelationID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewPlayerID returns a fresh 32-hex opaque player identifier (§3).
func NewPlayerID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
