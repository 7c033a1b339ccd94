package tape

import (
	"encoding/base64"
	"errors"

	"github.com/fernet/fernet-go"
)

// ErrInvalidKeyLength reports a tape encryption key that is neither 32 raw
// bytes nor a 44-character URL-safe base64 string, per spec §4.6.
var ErrInvalidKeyLength = errors.New("tape: encryption key must be 32 raw bytes or a 44-character base64 string")

// LoadKey accepts a tape encryption key in either of the two forms the
// original Python Fernet wrapper tolerated: a 44-char URL-safe base64
// string used as-is, or 32 raw bytes that get base64-encoded first.
func LoadKey(raw string) (*fernet.Key, error) {
	switch len(raw) {
	case 44:
		return fernet.DecodeKey(raw)
	case 32:
		encoded := base64.URLEncoding.EncodeToString([]byte(raw))
		return fernet.DecodeKey(encoded)
	default:
		return nil, ErrInvalidKeyLength
	}
}
