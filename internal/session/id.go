package session

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	idLength  = 6
	idCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// NewID returns a random 6 character alphanumeric session identifier.
func NewID() string {
	var sb strings.Builder
	sb.Grow(idLength)
	max := big.NewInt(int64(len(idCharset)))
	for i := 0; i < idLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is gone
			panic(err)
		}
		sb.WriteByte(idCharset[n.Int64()])
	}
	return sb.String()
}

// NormalizePhone strips everything that is not an ASCII digit.
func NormalizePhone(raw string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
}

// ValidPhone reports whether raw holds at least 10 digits once normalized.
func ValidPhone(raw string) bool {
	return len(NormalizePhone(raw)) >= 10
}
