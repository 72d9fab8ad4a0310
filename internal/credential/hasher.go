package credential

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// DefaultHashCost is the bcrypt work factor used for temporary secrets.
const DefaultHashCost = 12

// Hasher turns plaintext secrets into storable one-way digests and checks
// candidates against them.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, digest string) (bool, error)
}

// BcryptHasher implements Hasher with bcrypt.  Each Hash call draws a fresh
// salt, so hashing the same input twice yields different digests.
type BcryptHasher struct {
	cost   int
	logger *zap.Logger
}

// NewBcryptHasher returns a hasher with the given cost.  Costs outside
// bcrypt's accepted range fall back to DefaultHashCost.
func NewBcryptHasher(cost int, logger *zap.Logger) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultHashCost
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BcryptHasher{cost: cost, logger: logger}
}

// Hash returns the bcrypt digest of plain.
func (h *BcryptHasher) Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(b), nil
}

// Verify compares plain against digest in constant time.  A digest that
// bcrypt cannot parse is logged and reported as ErrMalformedDigest so that
// corrupted rows are never mistaken for a wrong guess.
func (h *BcryptHasher) Verify(plain, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		h.logger.Warn("stored secret digest rejected by bcrypt",
			zap.Int("digest_len", len(digest)),
			zap.Error(err),
		)
		return false, fmt.Errorf("%w: %v", ErrMalformedDigest, err)
	}
}

// Cost returns the configured work factor.
func (h *BcryptHasher) Cost() int { return h.cost }
