package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"landscraper/pkg/config"
	errs "landscraper/pkg/errors"
	"landscraper/pkg/logger"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    1500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 0},
		{1, 1500 * time.Millisecond},
		{2, 3 * time.Second},
		{3, 6 * time.Second},
		{4, 10 * time.Second}, // capped
		{9, 10 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, backoff.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponentialBackoffJitterBounds(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}

	for i := 0; i < 50; i++ {
		d := backoff.NextDelay(2)
		assert.GreaterOrEqual(t, d, 1800*time.Millisecond)
		assert.LessOrEqual(t, d, 2200*time.Millisecond)
	}
}

func fastConfig(max int) *Config {
	return &Config{
		MaxAttempts: max,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     func(err error) bool { return true },
		Context:     context.Background(),
		Logger:      logger.NewNopLogger(),
	}
}

func TestRetryWithSuccess(t *testing.T) {
	attempts := 0
	err := Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, fastConfig(5))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	var retries []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		retries = append(retries, attempt)
	}

	err := Do(func() error {
		attempts++
		return errors.New("persistent error")
	}, cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retry attempts (3) exceeded")
	assert.Equal(t, 3, attempts)
	// No sleep after the final attempt
	assert.Equal(t, []int{1, 2}, retries)
}

func TestRetryOnStatuses(t *testing.T) {
	retryIf := RetryOnStatuses([]int{429, 500, 502, 503, 504})

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", errs.Wrap(errs.ErrorTypeNetwork, errors.New("reset"), "GET failed"), true},
		{"503", errs.FromStatus(503), true},
		{"429", errs.FromStatus(429), true},
		{"501 not listed", errs.FromStatus(501), false},
		{"404", errs.FromStatus(404), false},
		{"400", errs.FromStatus(400), false},
		{"canceled", context.Canceled, false},
		{"plain error", errors.New("parse"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryIf(tt.err))
		})
	}
}

func TestRetryWithNonRetryableError(t *testing.T) {
	attempts := 0
	rejected := errs.FromStatus(403)

	cfg := fastConfig(5)
	cfg.RetryIf = DefaultRetryIf

	err := Do(func() error {
		attempts++
		return rejected
	}, cfg)

	assert.Same(t, rejected, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	cfg := fastConfig(5)
	cfg.Backoff = &ConstantBackoff{Delay: time.Hour}
	cfg.Context = ctx

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Do(func() error {
		attempts++
		return errors.New("error")
	}, cfg)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.DefaultConfig().Retry, logger.NewNopLogger())

	assert.Equal(t, 5, cfg.MaxAttempts)
	eb, ok := cfg.Backoff.(*ExponentialBackoff)
	require.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, eb.BaseDelay)
	assert.Equal(t, 120*time.Second, eb.MaxDelay)
	assert.True(t, cfg.RetryIf(errs.FromStatus(502)))
	assert.False(t, cfg.RetryIf(errs.FromStatus(404)))
}

func TestRetrierWithContext(t *testing.T) {
	base := NewRetrier(fastConfig(2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bound := base.WithContext(ctx)
	assert.Equal(t, context.Background(), base.Config().Context)

	err := bound.Do(func() error { return errors.New("fail") })
	assert.ErrorIs(t, err, context.Canceled)
}
