package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestNew_InvalidKeys(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"not hex", "zz0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"},
		{"too short", "0001020304"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.key)
			require.Error(t, err)
		})
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	c, err := New(testKey)
	require.NoError(t, err)

	for _, plaintext := range []string{
		"ya29.a0AfH6SMBx",
		"",
		"token with spaces and unicode ₪ קבלה",
	} {
		enc, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		assert.Len(t, strings.Split(enc, ":"), 3)

		dec, err := c.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, plaintext, dec)
	}
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	c, err := New(testKey)
	require.NoError(t, err)

	a, err := c.Encrypt("same input")
	require.NoError(t, err)
	b, err := c.Encrypt("same input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecrypt_Tampered(t *testing.T) {
	c, err := New(testKey)
	require.NoError(t, err)

	enc, err := c.Encrypt("secret")
	require.NoError(t, err)

	parts := strings.Split(enc, ":")
	// Flip a ciphertext nibble.
	ct := []byte(parts[2])
	if ct[0] == 'a' {
		ct[0] = 'b'
	} else {
		ct[0] = 'a'
	}
	parts[2] = string(ct)

	_, err = c.Decrypt(strings.Join(parts, ":"))
	require.Error(t, err)
}

func TestDecrypt_BadFormat(t *testing.T) {
	c, err := New(testKey)
	require.NoError(t, err)

	for _, in := range []string{"", "abc", "a:b", "::", "a:b:c:d"} {
		_, err := c.Decrypt(in)
		require.Error(t, err, "input %q", in)
	}
}
