// Package invite generates crew invite codes and member colors.
package invite

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// Alphabet excludes characters that are easy to misread (0/O, 1/I).
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the number of characters in an invite code.
const CodeLength = 6

// Palette is the set of colors assigned to members.
var Palette = []string{ //nolint:gochecknoglobals // fixed palette
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A", "#98D8C8",
	"#F7DC6F", "#BB8FCE", "#85C1E2", "#F8B739", "#52B788",
}

// NewCode returns a random invite code.
func NewCode() (string, error) {
	var b strings.Builder
	b.Grow(CodeLength)
	for range CodeLength {
		i, err := pick(len(Alphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(Alphabet[i])
	}
	return b.String(), nil
}

// Normalize upper-cases and trims a user-entered code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether code has the right length and alphabet.
func Valid(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(Alphabet, r) {
			return false
		}
	}
	return true
}

// RandomColor picks a member color from Palette.
func RandomColor() string {
	i, err := pick(len(Palette))
	if err != nil {
		return Palette[0]
	}
	return Palette[i]
}

func pick(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
