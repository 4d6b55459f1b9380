package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// ClientKeyLength is the length in hex characters of a derived client key.
const ClientKeyLength = 32

const clientKeyInfo = "proofsheet client key v1"

var (
	// ErrMissingToken is returned when no gallery access token was supplied.
	ErrMissingToken = errors.New("gallery access token is required")

	// ErrMissingSecret is returned when the deriver has no secret configured.
	ErrMissingSecret = errors.New("client key secret is required")
)

// ClientKeyDeriver turns a gallery access token into a stable, opaque client
// key. The same token always maps to the same key within a session, while
// the token itself is never stored.
type ClientKeyDeriver struct {
	secret []byte
}

// NewClientKeyDeriver creates a deriver keyed by secret.
func NewClientKeyDeriver(secret string) (*ClientKeyDeriver, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &ClientKeyDeriver{secret: []byte(secret)}, nil
}

// ClientKey derives the client key for token in sessionID with HKDF-SHA256.
func (d *ClientKeyDeriver) ClientKey(sessionID, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}

	ikm := make([]byte, 0, len(d.secret)+len(token)+1)
	ikm = append(ikm, d.secret...)
	ikm = append(ikm, 0)
	ikm = append(ikm, token...)

	r := hkdf.New(sha256.New, ikm, []byte(sessionID), []byte(clientKeyInfo))
	out := make([]byte, ClientKeyLength/2)
	if _, err := io.ReadFull(r, out); err != nil {
		return "", err
	}
	return hex.EncodeToString(out), nil
}
