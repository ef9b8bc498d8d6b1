// Package integrity validates and produces the shared-secret digests carried by
// provider callbacks. It is pure: no I/O and no state beyond the secret.
package integrity

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/attaboy/settlement/internal/domain"
)

// Algorithm names accepted by NewSigner.
const (
	SHA256 = "sha256"
	SHA1   = "sha1"
	MD5    = "md5"
)

// Signer computes hex(hash(parts... ∥ secret)).
type Signer struct {
	secret  string
	newHash func() hash.Hash
}

// NewSigner creates a signer for the given algorithm (case-insensitive).
func NewSigner(secret, algorithm string) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("integrity: empty secret")
	}
	var h func() hash.Hash
	switch strings.ToLower(algorithm) {
	case "", SHA256:
		h = sha256.New
	case SHA1:
		h = sha1.New
	case MD5:
		h = md5.New
	default:
		return nil, fmt.Errorf("integrity: unsupported hash algorithm %q", algorithm)
	}
	return &Signer{secret: secret, newHash: h}, nil
}

// Digest concatenates parts, appends the secret and returns the lowercase hex digest.
func (s *Signer) Digest(parts ...string) string {
	h := s.newHash()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	h.Write([]byte(s.secret))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyAuthorization checks the Authorization header value against hash(command ∥ secret).
func (s *Signer) VerifyAuthorization(command, header string) error {
	if header == "" {
		return domain.ErrInvalidSignature("missing authorization")
	}
	if !s.equal(s.Digest(command), header) {
		return domain.ErrInvalidSignature("authorization mismatch")
	}
	return nil
}

// VerifyRequest checks the body hash against hash(command ∥ request_timestamp ∥ secret).
func (s *Signer) VerifyRequest(command, timestamp, provided string) error {
	if provided == "" {
		return domain.ErrInvalidSignature("missing request hash")
	}
	if !s.equal(s.Digest(command, timestamp), provided) {
		return domain.ErrInvalidSignature("request hash mismatch")
	}
	return nil
}

// SignResponse returns hash(status ∥ response_timestamp ∥ secret).
func (s *Signer) SignResponse(status, timestamp string) string {
	return s.Digest(status, timestamp)
}

// equal compares in constant time; providers may send uppercase hex.
func (s *Signer) equal(expected, provided string) bool {
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(provided))))
}
