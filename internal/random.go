package internal

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

// NewHexToken returns n random bytes hex-encoded (2n characters). Used for
// unlock tokens and captcha bypass tokens.
func NewHexToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// NewSecret returns n cryptographically random bytes.
func NewSecret(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// RandInt returns a uniform random integer in [min, max].
func RandInt(min, max int) (int, error) {
	if max < min {
		min, max = max, min
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max-min+1)))
	if err != nil {
		return 0, err
	}
	return min + int(n.Int64()), nil
}
