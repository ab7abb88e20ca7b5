package api

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{4,6}$`)

// ValidRoomCode reports whether code matches §6 validation: 4-6 chars,
// [A-Z0-9]+.
func ValidRoomCode(code string) bool {
	return codePattern.MatchString(code)
}

// ValidPlayerID reports whether id parses as a 128-bit UUID, either
// 32-hex compact or canonical dashed form (§6 validation).
func ValidPlayerID(id string) bool {
	if len(id) == 32 {
		id = canonicalizeCompactUUID(id)
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// ValidMoveIndex reports whether index is a legal board position (§6:
// move index 0..8).
func ValidMoveIndex(index int) bool {
	return index >= 0 && index < 9
}

func canonicalizeCompactUUID(compact string) string {
	if len(compact) != 32 {
		return compact
	}
	return strings.Join([]string{
		compact[0:8], compact[8:12], compact[12:16], compact[16:20], compact[20:32],
	}, "-")
}
