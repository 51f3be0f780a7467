package session

import (
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Reconnect backoff", func() {
	It("never waits longer than the cap, jitter included", func() {
		config := DefaultBackoffConfig()
		schedule := newBackOff(config, 0)

		longest := time.Duration(0)
		for i := 0; i < 1000; i++ {
			delay := schedule.NextBackOff()
			Expect(delay).ToNot(Equal(backoff.Stop))
			Expect(delay).To(BeNumerically("<=", config.Cap))
			if delay > longest {
				longest = delay
			}
		}
		Expect(longest).To(Equal(config.Cap))
	})

	It("stays jittered below the cap", func() {
		config := DefaultBackoffConfig()
		schedule := newBackOff(config, 0)

		floor := time.Duration(float64(config.Base) * (1 - config.Jitter))
		for i := 0; i < 1000; i++ {
			Expect(schedule.NextBackOff()).To(BeNumerically(">=", floor))
		}
	})

	It("grows by the factor without jitter", func() {
		schedule := newBackOff(BackoffConfig{Base: 10 * time.Millisecond, Factor: 2, Cap: 50 * time.Millisecond}, 0)

		var delays []time.Duration
		for i := 0; i < 5; i++ {
			delays = append(delays, schedule.NextBackOff())
		}
		Expect(delays).To(Equal([]time.Duration{
			10 * time.Millisecond,
			20 * time.Millisecond,
			40 * time.Millisecond,
			50 * time.Millisecond,
			50 * time.Millisecond,
		}))

		schedule.Reset()
		Expect(schedule.NextBackOff()).To(Equal(10 * time.Millisecond))
	})

	It("stops after the configured number of attempts", func() {
		schedule := newBackOff(DefaultBackoffConfig(), 2)

		Expect(schedule.NextBackOff()).To(BeNumerically("<=", DefaultBackoffConfig().Cap))
		Expect(schedule.NextBackOff()).To(BeNumerically("<=", DefaultBackoffConfig().Cap))
		Expect(schedule.NextBackOff()).To(Equal(backoff.Stop))

		schedule.Reset()
		Expect(schedule.NextBackOff()).ToNot(Equal(backoff.Stop))
	})
})
