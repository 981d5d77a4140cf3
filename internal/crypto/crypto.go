// Package crypto provides symmetric authenticated encryption for OAuth
// tokens at rest. Ciphertexts use the format iv:tag:ciphertext, all hex,
// so values written by earlier deployments remain readable.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/rotisserie/eris"
)

const nonceSize = 12

// Cipher encrypts and decrypts short secrets with AES-256-GCM.
type Cipher struct {
	key []byte
}

// New creates a Cipher from a 64-hex-character AES-256 key.
func New(keyHex string) (*Cipher, error) {
	if keyHex == "" {
		return nil, eris.New("crypto: encryption key not configured")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, eris.Wrap(err, "crypto: decode key")
	}
	if len(key) != 32 {
		return nil, eris.Errorf("crypto: key must be 32 bytes, got %d", len(key))
	}
	return &Cipher{key: key}, nil
}

// Encrypt seals plaintext and returns iv:tag:ciphertext in hex.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", eris.Wrap(err, "crypto: new cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", eris.Wrap(err, "crypto: new gcm")
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", eris.Wrap(err, "crypto: generate nonce")
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	// gcm.Seal appends the tag to the ciphertext; split for the wire format.
	tagStart := len(sealed) - gcm.Overhead()
	ct, tag := sealed[:tagStart], sealed[tagStart:]

	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *Cipher) Decrypt(encrypted string) (string, error) {
	// The ciphertext segment may be empty: sealing "" yields iv:tag: and
	// the tag still authenticates it.
	parts := strings.Split(encrypted, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", eris.New("crypto: invalid encrypted string format")
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", eris.Wrap(err, "crypto: decode nonce")
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", eris.Wrap(err, "crypto: decode tag")
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", eris.Wrap(err, "crypto: decode ciphertext")
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", eris.Wrap(err, "crypto: new cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", eris.Wrap(err, "crypto: new gcm")
	}
	if len(nonce) != gcm.NonceSize() {
		return "", eris.Errorf("crypto: nonce must be %d bytes, got %d", gcm.NonceSize(), len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", eris.Wrap(err, "crypto: open")
	}
	return string(plaintext), nil
}
