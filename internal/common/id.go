package common

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

// NewChunkID generates a unique chunk ID with the "chk_" prefix
// Format: chk_<uuid>
func NewChunkID() string {
	return "chk_" + uuid.New().String()
}

// NewMessageID generates a unique message ID with the "msg_" prefix
func NewMessageID() string {
	return "msg_" + uuid.New().String()
}

// NewSessionID generates an unguessable session token: 16 bytes of
// cryptographically secure randomness, URL-safe encoded. Session ids double
// as capability tokens in the request layer, so uuid (which leaks timestamp
// bits in some versions) is not used here.
func NewSessionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; if it does the
		// process has no usable entropy and cannot mint tokens at all.
		panic("session id entropy unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
