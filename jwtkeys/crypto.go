package jwtkeys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/velodyn/authguard/internal"
)

// At-rest encryption is AES-256-GCM with a PBKDF2-derived key; salt and
// IV are generated fresh per encryption.
const (
	derivedKeyLength = 32
)

var errMalformedCiphertext = errors.New("malformed encrypted secret")

type keyCipher struct {
	passphrase []byte
	iterations int
	saltLength int
	ivLength   int
	tagLength  int
}

func newKeyCipher(passphrase string, iterations, saltLength, ivLength, tagLength int) *keyCipher {
	return &keyCipher{
		passphrase: []byte(passphrase),
		iterations: iterations,
		saltLength: saltLength,
		ivLength:   ivLength,
		tagLength:  tagLength,
	}
}

// encrypt seals the plaintext secret; output is hex(salt):hex(iv):hex(ct),
// where ct carries the GCM tag.
func (c *keyCipher) encrypt(plaintext string) (string, error) {
	salt, err := internal.NewSecret(c.saltLength)
	if err != nil {
		return "", err
	}
	iv, err := internal.NewSecret(c.ivLength)
	if err != nil {
		return "", err
	}

	gcm, err := c.aead(salt)
	if err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nil, iv, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// decrypt opens a value produced by encrypt.
func (c *keyCipher) decrypt(encoded string) (string, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return "", errMalformedCiphertext
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil || len(salt) != c.saltLength {
		return "", errMalformedCiphertext
	}
	iv, err := hex.DecodeString(parts[1])
	if err != nil || len(iv) != c.ivLength {
		return "", errMalformedCiphertext
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", errMalformedCiphertext
	}

	gcm, err := c.aead(salt)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", errMalformedCiphertext
	}
	return string(plaintext), nil
}

func (c *keyCipher) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.passphrase, salt, c.iterations, derivedKeyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if c.ivLength == 12 && c.tagLength == 16 {
		return cipher.NewGCM(block)
	}
	return cipher.NewGCMWithNonceSize(block, c.ivLength)
}
