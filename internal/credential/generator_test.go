package credential

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seqSource replays a fixed sequence of draws modulo the requested bound.
type seqSource struct {
	vals []int
	i    int
}

func (s *seqSource) Intn(n int) (int, error) {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v % n, nil
}

type failingSource struct{}

func (failingSource) Intn(int) (int, error) { return 0, errors.New("entropy exhausted") }

func hasClasses(t *testing.T, s, upper, lower, digits string) {
	t.Helper()
	assert.True(t, strings.ContainsAny(s, upper), "missing uppercase in %q", s)
	assert.True(t, strings.ContainsAny(s, lower), "missing lowercase in %q", s)
	assert.True(t, strings.ContainsAny(s, digits), "missing digit in %q", s)
}

func TestGenerate_LengthAndClasses(t *testing.T) {
	g := NewGenerator(nil)
	for length := 3; length <= 64; length++ {
		for i := 0; i < 20; i++ {
			s, err := g.Generate(length)
			require.NoError(t, err)
			assert.Len(t, s, length)
			hasClasses(t, s, upperLetters, lowerLetters, digitChars)
			for _, r := range s {
				assert.True(t, strings.ContainsRune(upperLetters+lowerLetters+digitChars, r))
			}
		}
	}
}

func TestGenerateChannelFriendly_LengthAndClasses(t *testing.T) {
	g := NewGenerator(nil)
	for length := 4; length <= 16; length++ {
		for i := 0; i < 50; i++ {
			s, err := g.GenerateChannelFriendly(length)
			require.NoError(t, err)
			assert.Len(t, s, length)
			hasClasses(t, s, friendlyUpper, friendlyLower, friendlyDigits)
			assert.False(t, strings.ContainsAny(s, "0Oo1lI"), "ambiguous glyph in %q", s)
		}
	}
}

func TestGenerate_InvalidLength(t *testing.T) {
	g := NewGenerator(nil)
	for _, n := range []int{-1, 0, 1, 2} {
		_, err := g.Generate(n)
		assert.ErrorIs(t, err, ErrInvalidLength)
	}
	for _, n := range []int{0, 2, 3} {
		_, err := g.GenerateChannelFriendly(n)
		assert.ErrorIs(t, err, ErrInvalidLength)
	}
}

func TestGenerate_NoCollisions(t *testing.T) {
	g := NewGenerator(CryptoSource{})
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		s, err := g.Generate(DefaultSecretLength)
		require.NoError(t, err)
		_, dup := seen[s]
		require.False(t, dup, "duplicate secret after %d draws", i)
		seen[s] = struct{}{}
	}
}

func TestGenerate_GuaranteedClassesNotPinnedToFront(t *testing.T) {
	// With every draw returning 0 the unshuffled output would be "Aa0AAAA...";
	// the shuffle must move at least one of the guaranteed characters.
	g := NewGenerator(&seqSource{vals: []int{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3}})
	s, err := g.Generate(12)
	require.NoError(t, err)
	assert.Len(t, s, 12)
	assert.NotEqual(t, "Aa0", s[:3])
	hasClasses(t, s, upperLetters, lowerLetters, digitChars)
}

func TestGenerate_DeterministicWithInjectedSource(t *testing.T) {
	a, err := NewGenerator(&seqSource{vals: []int{5, 17, 3, 42, 8, 11, 29}}).Generate(10)
	require.NoError(t, err)
	b, err := NewGenerator(&seqSource{vals: []int{5, 17, 3, 42, 8, 11, 29}}).Generate(10)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerate_SourceFailure(t *testing.T) {
	_, err := NewGenerator(failingSource{}).Generate(12)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entropy exhausted")
}

func TestCryptoSource_Bounds(t *testing.T) {
	var src CryptoSource
	for i := 0; i < 1000; i++ {
		v, err := src.Intn(7)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, 0)
		assert.Less(t, v, 7)
	}
	_, err := src.Intn(0)
	assert.Error(t, err)
}
