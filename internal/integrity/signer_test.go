package integrity

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSigner(t *testing.T) {
	tests := []struct {
		name      string
		algorithm string
		want      func(string) string
		wantErr   bool
	}{
		{"default is sha256", "", func(s string) string { h := sha256.Sum256([]byte(s)); return hex.EncodeToString(h[:]) }, false},
		{"sha256", "SHA256", func(s string) string { h := sha256.Sum256([]byte(s)); return hex.EncodeToString(h[:]) }, false},
		{"sha1", "sha1", func(s string) string { h := sha1.Sum([]byte(s)); return hex.EncodeToString(h[:]) }, false},
		{"md5", "md5", func(s string) string { h := md5.Sum([]byte(s)); return hex.EncodeToString(h[:]) }, false},
		{"unknown", "crc32", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSigner("s3cret", tt.algorithm)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want("changebalance2026-03-01 12:00:00s3cret"), s.Digest("changebalance", "2026-03-01 12:00:00"))
		})
	}

	t.Run("empty secret", func(t *testing.T) {
		_, err := NewSigner("", SHA256)
		assert.Error(t, err)
	})
}

func TestVerifyAuthorization(t *testing.T) {
	s, err := NewSigner("s3cret", SHA256)
	require.NoError(t, err)
	good := s.Digest("balance")

	tests := []struct {
		name    string
		command string
		header  string
		ok      bool
	}{
		{"valid", "balance", good, true},
		{"uppercase hex", "balance", strings.ToUpper(good), true},
		{"other command", "changebalance", good, false},
		{"empty", "balance", "", false},
		{"garbage", "balance", "abc", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.VerifyAuthorization(tt.command, tt.header)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, domain.HasCode(err, domain.CodeInvalidSignature))
		})
	}
}

func TestVerifyRequest(t *testing.T) {
	s, err := NewSigner("s3cret", SHA256)
	require.NoError(t, err)
	ts := "2026-03-01 12:00:00"

	assert.NoError(t, s.VerifyRequest("status", ts, s.Digest("status", ts)))
	assert.Error(t, s.VerifyRequest("status", "2026-03-01 12:00:01", s.Digest("status", ts)))
	assert.Error(t, s.VerifyRequest("status", ts, ""))

	other, err := NewSigner("different", SHA256)
	require.NoError(t, err)
	assert.Error(t, s.VerifyRequest("status", ts, other.Digest("status", ts)))
}

func TestSignResponse(t *testing.T) {
	s, err := NewSigner("s3cret", SHA256)
	require.NoError(t, err)
	assert.Equal(t, s.Digest("OK", "2026-03-01 12:00:00"), s.SignResponse("OK", "2026-03-01 12:00:00"))
	assert.NotEqual(t, s.SignResponse("OK", "2026-03-01 12:00:00"), s.SignResponse("ERROR", "2026-03-01 12:00:00"))
}
