package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACVerifierRoundTrip(t *testing.T) {
	key := []byte("test-signing-key")
	token, err := Mint(key, "player-123", "Parisa")
	require.NoError(t, err)

	identity, err := NewHMACVerifier(key).Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "player-123", identity.PlayerID)
	assert.Equal(t, "Parisa", identity.Name)
}

func TestHMACVerifierRejectsWrongKey(t *testing.T) {
	token, err := Mint([]byte("key-a"), "player-123", "Parisa")
	require.NoError(t, err)

	_, err = NewHMACVerifier([]byte("key-b")).Verify(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestHMACVerifierRejectsTamperedBody(t *testing.T) {
	key := []byte("test-signing-key")
	token, err := Mint(key, "player-123", "Parisa")
	require.NoError(t, err)

	body, sig, ok := strings.Cut(token, ".")
	require.True(t, ok)
	// Flip a character in the signed body; the signature no longer matches.
	tampered := "A" + body[1:] + "." + sig
	if tampered == token {
		tampered = "B" + body[1:] + "." + sig
	}

	_, err = NewHMACVerifier(key).Verify(context.Background(), tampered)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestHMACVerifierRejectsMalformed(t *testing.T) {
	v := NewHMACVerifier([]byte("key"))
	for _, token := range []string{"", "nodot", "not base64!.also not!", "e30."} {
		_, err := v.Verify(context.Background(), token)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}

func TestNoopVerifier(t *testing.T) {
	identity, err := NoopVerifier{}.Verify(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "anything", identity.PlayerID)

	_, err = NoopVerifier{}.Verify(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidToken)
}
