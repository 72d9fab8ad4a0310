package credential

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// DefaultSecretLength is the length of primary temporary secrets.
	DefaultSecretLength = 12
	// DefaultChannelFriendlyLength is the length of secrets sent over
	// low-character-count channels such as text messages.
	DefaultChannelFriendlyLength = 8

	minSecretLength          = 3
	minChannelFriendlyLength = 4
)

// Character classes.  The channel-friendly set drops glyphs that are easy
// to confuse when a member retypes a secret from a phone screen.
const (
	upperLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerLetters = "abcdefghijklmnopqrstuvwxyz"
	digitChars   = "0123456789"

	friendlyUpper  = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	friendlyLower  = "abcdefghijkmnpqrstuvwxyz"
	friendlyDigits = "23456789"
)

// RandomSource returns uniformly distributed integers in [0, n).
// Production code must use CryptoSource; tests may substitute a
// deterministic source to assert distributional properties.
type RandomSource interface {
	Intn(n int) (int, error)
}

// CryptoSource draws from crypto/rand.
type CryptoSource struct{}

func (CryptoSource) Intn(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("random source: invalid bound %d", n)
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// Generator produces temporary secrets made of uppercase letters, lowercase
// letters and digits, with at least one character of each class.
type Generator struct {
	src RandomSource
}

// NewGenerator returns a Generator over src.  A nil src selects CryptoSource.
func NewGenerator(src RandomSource) *Generator {
	if src == nil {
		src = CryptoSource{}
	}
	return &Generator{src: src}
}

// Generate returns a primary secret of exactly length characters.
// length below 3 returns ErrInvalidLength.
func (g *Generator) Generate(length int) (string, error) {
	if length < minSecretLength {
		return "", fmt.Errorf("%w: %d (minimum %d)", ErrInvalidLength, length, minSecretLength)
	}
	return g.build(length, upperLetters, lowerLetters, digitChars)
}

// GenerateChannelFriendly returns a shorter secret without ambiguous
// glyphs.  length below 4 returns ErrInvalidLength.
func (g *Generator) GenerateChannelFriendly(length int) (string, error) {
	if length < minChannelFriendlyLength {
		return "", fmt.Errorf("%w: %d (minimum %d)", ErrInvalidLength, length, minChannelFriendlyLength)
	}
	return g.build(length, friendlyUpper, friendlyLower, friendlyDigits)
}

func (g *Generator) build(length int, classes ...string) (string, error) {
	alphabet := ""
	for _, c := range classes {
		alphabet += c
	}

	out := make([]byte, 0, length)
	for _, c := range classes {
		ch, err := g.pick(c)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
	}
	for len(out) < length {
		ch, err := g.pick(alphabet)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
	}

	// Fisher-Yates so the guaranteed characters are not always in front.
	for i := len(out) - 1; i > 0; i-- {
		j, err := g.src.Intn(i + 1)
		if err != nil {
			return "", fmt.Errorf("shuffle: %w", err)
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

func (g *Generator) pick(set string) (byte, error) {
	i, err := g.src.Intn(len(set))
	if err != nil {
		return 0, fmt.Errorf("sample: %w", err)
	}
	return set[i], nil
}
