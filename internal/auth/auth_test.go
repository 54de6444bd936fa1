package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Sign(Claims{UserID: 42, Email: "ada@example.com"})
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "ada@example.com", claims.Email)
}

func TestVerifier_RejectsTampering(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Sign(Claims{UserID: 42})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "no separator", token: "abcdef"},
		{name: "bad signature", token: token[:len(token)-2] + "xx"},
		{name: "garbage payload", token: "!!!." + token},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerifier_WrongSecret(t *testing.T) {
	token, err := NewVerifier("secret-a").Sign(Claims{UserID: 42})
	require.NoError(t, err)

	_, err = NewVerifier("secret-b").Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_Expiry(t *testing.T) {
	v := NewVerifier("test-secret")

	expired, err := v.Sign(Claims{UserID: 42, ExpiresAt: time.Now().Add(-time.Minute).Unix()})
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	valid, err := v.Sign(Claims{UserID: 42, ExpiresAt: time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)
	_, err = v.Verify(valid)
	assert.NoError(t, err)
}

func TestFromHeader(t *testing.T) {
	token, ok := FromHeader("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", token)

	for _, header := range []string{"", "Basic abc", "Bearer ", "bearer abc"} {
		_, ok := FromHeader(header)
		assert.False(t, ok, "header %q should be rejected", header)
	}
}
