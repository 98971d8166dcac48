package util

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

func GenUUID() string {
	return uuid.New().String()
}

// ShortID returns prefix followed by the first 8 characters of a random UUID,
// e.g. "pdf-1a2b3c4d".
func ShortID(prefix string) string {
	return prefix + "-" + uuid.New().String()[:8]
}

// HasPrefixes returns true if the string s has any of the given prefixes.
func HasPrefixes(src string, prefixes ...string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(src, prefix) {
			return true
		}
	}
	return false
}

var letters = []rune("0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

// RandomString returns a random string with length n.
func RandomString(n int) (string, error) {
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		randNum, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			return "", err
		}
		if _, err := sb.WriteRune(letters[randNum.Uint64()]); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}
