package retry

import (
	"math"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 30 * time.Second
	DefaultMaxDelay   = 5 * time.Minute

	// jitterFraction scales the symmetric jitter applied after capping.
	jitterFraction = 0.10
	minDelay       = time.Second
)

// Config controls retry timing for a job. MaxRetries is only read when the
// retry entry is first created.
type Config struct {
	// MaxRetries is the ceiling stored on a new entry. Zero or negative means
	// DefaultMaxRetries; to stop retrying altogether, do not queue the job.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultConfig returns 3 retries, 30s base delay, 5min cap.
func DefaultConfig() Config {
	return Config{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay}
}

// withDefaults replaces non-positive fields with the defaults.
func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	return c
}

// CappedDelay returns the pre-jitter delay in milliseconds for a retry count:
// base * 2^n, capped at the max delay. It is non-decreasing in n.
func CappedDelay(cfg Config, retryCount int) float64 {
	cfg = cfg.withDefaults()
	base := float64(cfg.BaseDelay.Milliseconds())
	delay := base * math.Pow(2, float64(retryCount))
	delay = math.Min(delay, float64(cfg.MaxDelay.Milliseconds()))
	if math.IsNaN(delay) || math.IsInf(delay, 0) {
		delay = base
	}
	return delay
}

// Backoff computes the delay before the next retry. u is a uniform sample in
// [-1, 1]; the ±10% jitter is applied after capping, so the worst case is
// 1.1 * MaxDelay. The result is never below one second and is truncated to
// whole milliseconds.
func Backoff(cfg Config, retryCount int, u float64) time.Duration {
	delay := CappedDelay(cfg, retryCount)
	delay += delay * jitterFraction * u
	delay = math.Max(delay, float64(minDelay.Milliseconds()))
	return time.Duration(math.Floor(delay)) * time.Millisecond
}
