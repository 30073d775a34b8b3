// Package cursor provides versioned, resource-scoped cursor encoding
// for pagination. Scoping cursors to a resource keeps a cursor from one
// listing endpoint from being replayed against another.
package cursor

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidCursor indicates the cursor is malformed or cannot be decoded.
	ErrInvalidCursor = errors.New("invalid cursor")

	// ErrVersionMismatch indicates the cursor was minted by a different
	// encoding version.
	ErrVersionMismatch = errors.New("cursor version mismatch")
)

// Encode creates a cursor of the form {resource}v{version:02d}:{data},
// base64url encoded.
func Encode(resource string, version int, data string) string {
	raw := fmt.Sprintf("%sv%02d:%s", resource, version, data)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode validates a cursor and returns its data portion. Empty input
// decodes to empty data.
func Decode(encoded string, resource string, version int) (string, error) {
	if encoded == "" {
		return "", nil
	}

	rawBytes, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidCursor
	}
	raw := string(rawBytes)

	expectedPrefix := fmt.Sprintf("%sv%02d:", resource, version)
	if strings.HasPrefix(raw, expectedPrefix) {
		return raw[len(expectedPrefix):], nil
	}
	if strings.HasPrefix(raw, resource+"v") {
		return "", fmt.Errorf("%w: expected version %02d", ErrVersionMismatch, version)
	}
	return "", ErrInvalidCursor
}
