// Package portal backs the patient-facing booking site: phone verification by
// one-time code, month availability and review-gated scheduling requests.
package portal

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrCodeMismatch = errors.New("código inválido ou expirado")

// Codes issues and checks one-time login codes.
type Codes interface {
	Issue(ctx context.Context, professionalID uuid.UUID, phoneNumber string) (string, error)
	// Verify consumes the code: a correct code works exactly once.
	Verify(ctx context.Context, professionalID uuid.UUID, phoneNumber, code string) error
}

// RedisCodes keeps codes in Redis under a TTL, one per (tenant, phone).
// Reissuing overwrites the previous code.
type RedisCodes struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCodes(client *redis.Client, ttl time.Duration) *RedisCodes {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCodes{client: client, ttl: ttl}
}

func codeKey(professionalID uuid.UUID, phoneNumber string) string {
	return fmt.Sprintf("otp:%s:%s", professionalID, phoneNumber)
}

func (c *RedisCodes) Issue(ctx context.Context, professionalID uuid.UUID, phoneNumber string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", err
	}
	if err := c.client.Set(ctx, codeKey(professionalID, phoneNumber), code, c.ttl).Err(); err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}
	return code, nil
}

func (c *RedisCodes) Verify(ctx context.Context, professionalID uuid.UUID, phoneNumber, code string) error {
	key := codeKey(professionalID, phoneNumber)
	stored, err := c.client.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return ErrCodeMismatch
	}
	if err != nil {
		return fmt.Errorf("load otp: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return ErrCodeMismatch
	}
	return nil
}

// generateCode draws a 6-digit code from crypto/rand.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
