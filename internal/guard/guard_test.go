package guard_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"replyloop.app/engine/internal/guard"
)

var _ = Describe("Guard", func() {
	var (
		clock time.Time
		g     *guard.Guard
	)

	BeforeEach(func() {
		clock = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		g = guard.New(func() time.Time { return clock })
	})

	Describe("failure counting", func() {
		It("should not pause below the threshold", func() {
			g.RecordFailure(30 * time.Minute)
			g.RecordFailure(30 * time.Minute)

			Expect(g.IsPaused()).To(BeFalse())
			Expect(g.Snapshot().ConsecutiveFailures).To(Equal(2))
		})

		It("should pause at the threshold", func() {
			for i := 0; i < guard.FailureThreshold; i++ {
				g.RecordFailure(30 * time.Minute)
			}

			Expect(g.IsPaused()).To(BeTrue())
			snap := g.Snapshot()
			Expect(snap.PausedUntil).NotTo(BeNil())
			Expect(*snap.PausedUntil).To(Equal(clock.Add(30 * time.Minute)))
		})

		It("should reset the streak on success", func() {
			g.RecordFailure(30 * time.Minute)
			g.RecordFailure(30 * time.Minute)
			g.RecordSuccess()
			g.RecordFailure(30 * time.Minute)

			Expect(g.IsPaused()).To(BeFalse())
			Expect(g.Snapshot().ConsecutiveFailures).To(Equal(1))
		})

		It("should keep counting failures while paused", func() {
			for i := 0; i < guard.FailureThreshold+2; i++ {
				g.RecordFailure(30 * time.Minute)
			}

			Expect(g.Snapshot().ConsecutiveFailures).To(Equal(guard.FailureThreshold + 2))
		})
	})

	Describe("pause expiry", func() {
		BeforeEach(func() {
			for i := 0; i < guard.FailureThreshold; i++ {
				g.RecordFailure(30 * time.Minute)
			}
			Expect(g.IsPaused()).To(BeTrue())
		})

		It("should stay paused before the deadline", func() {
			clock = clock.Add(29 * time.Minute)
			Expect(g.IsPaused()).To(BeTrue())
		})

		It("should clear the pause and the streak once the deadline passes", func() {
			clock = clock.Add(30 * time.Minute)

			Expect(g.IsPaused()).To(BeFalse())
			snap := g.Snapshot()
			Expect(snap.ConsecutiveFailures).To(BeZero())
			Expect(snap.PausedUntil).To(BeNil())
		})

		It("should need a fresh streak to pause again after expiry", func() {
			clock = clock.Add(31 * time.Minute)
			Expect(g.IsPaused()).To(BeFalse())

			g.RecordFailure(30 * time.Minute)
			Expect(g.IsPaused()).To(BeFalse())
			Expect(g.Snapshot().ConsecutiveFailures).To(Equal(1))
		})
	})

	Describe("Reset", func() {
		It("should clear an active pause immediately", func() {
			for i := 0; i < guard.FailureThreshold; i++ {
				g.RecordFailure(30 * time.Minute)
			}
			Expect(g.IsPaused()).To(BeTrue())

			g.Reset()

			Expect(g.IsPaused()).To(BeFalse())
			Expect(g.Snapshot().ConsecutiveFailures).To(BeZero())
		})
	})
})
