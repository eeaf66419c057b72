package payment

import (
	"strings"

	"github.com/google/uuid"
)

const maxReferenceLen = 128

// NewReference returns a random correlation token of the form
// "<prefix>_<uuid>".
func NewReference(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// ValidateReference accepts non-empty references of at most 128 bytes made
// of URL-safe characters, since the reference travels in the callback query.
func ValidateReference(ref string) error {
	if ref == "" || len(ref) > maxReferenceLen {
		return ErrInvalidReference
	}
	for i := range len(ref) {
		c := ref[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_', c == '-', c == '.':
		default:
			return ErrInvalidReference
		}
	}
	return nil
}
