package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/aws/smithy-go"
)

type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        float64

	// Retryable decides whether a failed attempt is tried again. Nil retries
	// every failure.
	Retryable func(err error) bool
	OnRetry   func(attempt int, err error, nextDelay time.Duration)
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        0.1,
		Retryable:     IsRetryableError,
	}
}

// ImmediateRetryConfig retries any failure straight away, up to attempts
// total tries.
func ImmediateRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
	}
}

var retryableErrors = []string{
	"connection reset",
	"connection refused",
	"timeout",
	"temporary failure",
	"network is unreachable",
	"no such host",
	"TLS handshake timeout",
	"i/o timeout",
	"EOF",
	"broken pipe",
	"SlowDown",
	"InternalError",
	"ServiceUnavailable",
	"RequestTimeout",
}

var nonRetryableCodes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"NoSuchBucket":          true,
	"InvalidBucketName":     true,
	"AllAccessDisabled":     true,
}

var nonRetryableErrors = []string{
	"access denied",
	"forbidden",
	"unauthorized",
	"invalid key",
}

func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && nonRetryableCodes[apiErr.ErrorCode()] {
		return false
	}

	errLower := strings.ToLower(err.Error())

	for _, pattern := range nonRetryableErrors {
		if strings.Contains(errLower, pattern) {
			return false
		}
	}

	for _, pattern := range retryableErrors {
		if strings.Contains(errLower, strings.ToLower(pattern)) {
			return true
		}
	}

	return false
}

// WithRetry runs fn until it succeeds, fails with a non-retryable error, or
// MaxAttempts tries have been made.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return fmt.Errorf("non-retryable error: %w", err)
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		nextDelay := backoff(cfg, attempt)

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, nextDelay)
		}

		if nextDelay <= 0 {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(nextDelay):
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

func backoff(cfg RetryConfig, attempt int) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}

	delay := float64(cfg.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= cfg.BackoffFactor
	}
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.Jitter > 0 {
		jitter := delay * cfg.Jitter * (rand.Float64()*2 - 1)
		delay += jitter
	}

	return time.Duration(delay)
}

// RetryingProvider retries listing and deletion on transient errors. Uploads
// pass straight through; their retry policy belongs to the caller, which
// has to reopen the body for every attempt.
type RetryingProvider struct {
	Provider Provider
	Config   RetryConfig
}

func NewRetryingProvider(p Provider, cfg RetryConfig) *RetryingProvider {
	return &RetryingProvider{
		Provider: p,
		Config:   cfg,
	}
}

func (r *RetryingProvider) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	return r.Provider.Upload(ctx, key, data, contentType)
}

func (r *RetryingProvider) List(ctx context.Context, prefix string) ([]BackupItem, error) {
	var result []BackupItem

	err := WithRetry(ctx, r.Config, func() error {
		var err error
		result, err = r.Provider.List(ctx, prefix)
		return err
	})

	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *RetryingProvider) Delete(ctx context.Context, key string) error {
	return WithRetry(ctx, r.Config, func() error {
		return r.Provider.Delete(ctx, key)
	})
}
