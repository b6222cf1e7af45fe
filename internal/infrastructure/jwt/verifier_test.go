package jwtinfra

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, key *rsa.PrivateKey, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func access(sub string, exp time.Duration) Claims {
	return Claims{
		Type: AccessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(exp)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestNewVerifier_FromPEMFile(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "public.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}), 0600))

	v, err := NewVerifier(path)
	require.NoError(t, err)
	claims, err := v.Verify(sign(t, key, access("42", time.Hour)))
	require.NoError(t, err)
	uid, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), uid)
}

func TestNewVerifier_MissingFile(t *testing.T) {
	_, err := NewVerifier(filepath.Join(t.TempDir(), "nope.pem"))
	assert.Error(t, err)
}

func TestVerify_Rejects(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewVerifierFromKey(&key.PublicKey)

	refresh := access("42", time.Hour)
	refresh.Type = "refresh"

	cases := map[string]string{
		"expired":       sign(t, key, access("42", -time.Minute)),
		"wrong key":     sign(t, other, access("42", time.Hour)),
		"refresh token": sign(t, key, refresh),
		"non numeric":   sign(t, key, access("alice", time.Hour)),
		"garbage":       "not-a-token",
	}
	for name, tok := range cases {
		_, err := v.Verify(tok)
		assert.Error(t, err, name)
	}
}
