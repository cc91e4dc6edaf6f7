package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"
)

var ErrInvalidOrExpiredCode = errors.New("invalid or expired code")

const (
	// KindOrderCompletion gates the pending_verification -> verified transition.
	KindOrderCompletion = "order_completion"

	defaultTTL = 10 * time.Minute
	codeLength = 6
)

// Store keeps at most one live code per key. Implementations expire entries
// after the TTL passes. Consume must compare and delete atomically so two
// concurrent matches cannot both succeed.
type Store interface {
	Set(ctx context.Context, key, code string, ttl time.Duration) error
	Consume(ctx context.Context, key, code string) (bool, error)
}

// Service issues and validates short one-shot numeric codes.
type Service struct {
	store Store
	ttl   time.Duration
	log   *zap.Logger
}

func NewService(store Store, log *zap.Logger) *Service {
	return &Service{store: store, ttl: defaultTTL, log: log}
}

// Issue creates a fresh 6-digit code for (identifier, kind). Any previous
// code for the pair is invalidated by the overwrite.
func (s *Service) Issue(ctx context.Context, identifier, kind string) (string, error) {
	code, err := randomCode(codeLength)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	if err := s.store.Set(ctx, storeKey(identifier, kind), code, s.ttl); err != nil {
		return "", fmt.Errorf("store code: %w", err)
	}
	s.log.Info("verification code issued",
		zap.String("identifier", identifier),
		zap.String("kind", kind),
		zap.Duration("ttl", s.ttl))
	return code, nil
}

// Verify consumes a code. Success deletes the record so a replay of the same
// code fails. Wrong or expired codes leave nothing behind to retry against
// except the original, still-live code.
func (s *Service) Verify(ctx context.Context, identifier, kind, code string) error {
	if code == "" {
		return ErrInvalidOrExpiredCode
	}
	ok, err := s.store.Consume(ctx, storeKey(identifier, kind), code)
	if err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	if !ok {
		return ErrInvalidOrExpiredCode
	}
	return nil
}

func storeKey(identifier, kind string) string {
	return identifier + ":" + kind
}

func randomCode(n int) (string, error) {
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits), nil
}
