package session

import (
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

type BackoffConfig struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration

	// Randomization factor, the delay is picked uniformly from
	// [delay*(1-Jitter), delay*(1+Jitter)]
	Jitter float64
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:   250 * time.Millisecond,
		Factor: 2,
		Cap:    30 * time.Second,
		Jitter: 0.5,
	}
}

func (b BackoffConfig) validate() error {
	switch {
	case b.Base <= 0:
		return fmt.Errorf("backoff base must be positive, got %s", b.Base)
	case b.Factor < 1:
		return fmt.Errorf("backoff factor must be at least 1, got %v", b.Factor)
	case b.Cap < b.Base:
		return fmt.Errorf("backoff cap %s is below base %s", b.Cap, b.Base)
	case b.Jitter < 0 || b.Jitter > 1:
		return fmt.Errorf("backoff jitter must be between 0 and 1, got %v", b.Jitter)
	}
	return nil
}

// newBackOff builds the reconnect schedule. The schedule never gives up on
// its own; maxAttempts > 0 caps the number of reconnect cycles. No delay is
// ever longer than config.Cap, jitter included.
func newBackOff(config BackoffConfig, maxAttempts int) backoff.BackOff {
	backoffParams := backoff.NewExponentialBackOff()
	backoffParams.InitialInterval = config.Base
	backoffParams.Multiplier = config.Factor
	backoffParams.MaxInterval = config.Cap
	backoffParams.RandomizationFactor = config.Jitter
	backoffParams.MaxElapsedTime = 0
	backoffParams.Reset()

	var schedule backoff.BackOff = &cappedBackOff{BackOff: backoffParams, cap: config.Cap}
	if maxAttempts > 0 {
		schedule = backoff.WithMaxRetries(schedule, uint64(maxAttempts))
	}
	return schedule
}

// cappedBackOff clamps the delays of the schedule it wraps. ExponentialBackOff
// only caps the interval before applying its randomization factor.
type cappedBackOff struct {
	backoff.BackOff
	cap time.Duration
}

func (c *cappedBackOff) NextBackOff() time.Duration {
	next := c.BackOff.NextBackOff()
	if next != backoff.Stop && next > c.cap {
		return c.cap
	}
	return next
}
