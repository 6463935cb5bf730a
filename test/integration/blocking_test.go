//go:build integration

package integration

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/focus"
	"github.com/eliteGoblin/focusd/app_block/internal/usecase"
	"github.com/eliteGoblin/focusd/app_block/test/fixtures"
)

var steam = domain.TargetSet{Apps: []string{"steam"}}

var _ = Describe("Blocking across processes", func() {
	var (
		ctx   context.Context
		dir   string
		clock *fixtures.FakeClock
		pm    *fixtures.FakeProcessManager
		cli   *process
		mon   *monitorProcess
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		clock = fixtures.NewFakeClock(fixtures.Wednesday(10, 0))
		pm = fixtures.NewFakeProcessManager()
		cli = newProcess(dir, clock)
		mon = newMonitorProcess(dir, clock, pm)
	})

	Describe("a workday schedule", func() {
		var id string

		BeforeEach(func() {
			clock.Set(fixtures.Wednesday(10, 30))
			s, err := cli.schedules.Save(ctx, domain.BlockSchedule{
				Name:     "workday",
				Start:    domain.TimeOfDay{Hour: 9},
				End:      domain.TimeOfDay{Hour: 17},
				Days:     []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
				Targets:  steam,
				IsActive: true,
			})
			Expect(err).NotTo(HaveOccurred())
			id = s.ID
		})

		It("blocks immediately when activated inside the window", func() {
			r, err := mon.restrictions.Get(domain.ScheduleStore(id))
			Expect(err).NotTo(HaveOccurred())
			Expect(r).NotTo(BeNil())

			pm.Spawn(100, "Steam")
			mon.step(fixtures.Wednesday(10, 31))
			Expect(pm.Killed()).To(ContainElement(100))
		})

		It("lifts the block at the end of the window and records the session", func() {
			mon.run(fixtures.Wednesday(10, 30), fixtures.Wednesday(17, 1))

			all, err := mon.restrictions.All()
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(BeEmpty())

			sessions := cli.ledger.Sessions(fixtures.Wednesday(12, 0))
			Expect(sessions).To(HaveLen(1))
			Expect(sessions[0].Type).To(Equal(domain.SessionSchedule))
			Expect(sessions[0].Duration(clock.Now())).To(Equal(6*time.Hour + 30*time.Minute))
		})

		It("blocks again the next weekday", func() {
			mon.run(fixtures.Wednesday(10, 30), fixtures.Wednesday(17, 1))
			mon.step(fixtures.At(2025, time.January, 16, 9, 0))

			r, err := cli.restrictions.Get(domain.ScheduleStore(id))
			Expect(err).NotTo(HaveOccurred())
			Expect(r).NotTo(BeNil())

			active, err := cli.ledger.GetActiveScheduleSession(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).NotTo(BeNil())
		})
	})

	Describe("a manual block", func() {
		It("is finalized at its unlock time when the monitor was down", func() {
			_, err := cli.manual.Start(ctx, 30*time.Minute, steam, false)
			Expect(err).NotTo(HaveOccurred())

			clock.Set(fixtures.Wednesday(11, 0))
			restarted := newMonitorProcess(dir, clock, pm)
			restarted.manual.Reconcile(ctx)

			Expect(cli.manual.Status().Active).To(BeFalse())
			r, err := cli.restrictions.Get(domain.StoreManual)
			Expect(err).NotTo(HaveOccurred())
			Expect(r).To(BeNil())

			sessions := cli.ledger.Sessions(clock.Now())
			Expect(sessions).To(HaveLen(1))
			Expect(sessions[0].Completed).To(BeTrue())
			Expect(sessions[0].Duration(clock.Now())).To(Equal(30 * time.Minute))
		})

		It("splits blocked minutes across midnight", func() {
			clock.Set(fixtures.Wednesday(23, 50))
			_, err := cli.manual.Start(ctx, 20*time.Minute, steam, false)
			Expect(err).NotTo(HaveOccurred())

			mon.run(fixtures.Wednesday(23, 50), fixtures.At(2025, time.January, 16, 0, 11))

			Expect(cli.manual.Status().Active).To(BeFalse())
			wed := cli.ledger.HourlyBuckets(fixtures.Wednesday(12, 0))
			thu := cli.ledger.HourlyBuckets(fixtures.At(2025, time.January, 16, 12, 0))
			Expect(wed[23]).To(BeNumerically("~", 10, 0.01))
			Expect(thu[0]).To(BeNumerically("~", 10, 0.01))
		})
	})

	Describe("the session ledger", func() {
		It("records a session once when both processes end it", func() {
			id, err := cli.ledger.StartSession(domain.SessionManual, "", steam)
			Expect(err).NotTo(HaveOccurred())
			clock.Advance(15 * time.Minute)

			ended, err := cli.ledger.EndSession(id, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(ended).To(BeTrue())

			ended, err = mon.ledger.EndSession(id, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(ended).To(BeFalse())

			Expect(mon.ledger.Sessions(clock.Now())).To(HaveLen(1))
			Expect(mon.ledger.LifetimeTotal()).To(Equal(15 * time.Minute))
		})
	})

	Describe("interruptions", func() {
		It("blocks after the usage threshold and lifts the block later", func() {
			Expect(cli.interrupter.Configure(ctx, usecase.InterruptionSettings{
				Targets:       steam,
				Threshold:     2 * time.Minute,
				BlockDuration: 10 * time.Minute,
			})).To(Succeed())

			pm.Spawn(100, "Steam")
			mon.step(fixtures.Wednesday(10, 0))
			mon.run(fixtures.Wednesday(10, 0), fixtures.Wednesday(10, 5))

			r, err := cli.restrictions.Get(domain.StoreInterruption)
			Expect(err).NotTo(HaveOccurred())
			Expect(r).NotTo(BeNil())
			Expect(pm.Killed()).To(ContainElement(100))

			mon.run(fixtures.Wednesday(10, 5), fixtures.Wednesday(10, 20))

			r, err = cli.restrictions.Get(domain.StoreInterruption)
			Expect(err).NotTo(HaveOccurred())
			Expect(r).To(BeNil())

			sessions := cli.ledger.Sessions(clock.Now())
			Expect(sessions).To(HaveLen(1))
			Expect(sessions[0].Type).To(Equal(domain.SessionInterruption))
			Expect(sessions[0].Duration(clock.Now())).To(Equal(10 * time.Minute))
		})
	})
})

var _ = Describe("Focus cycles across processes", func() {
	var (
		ctx   context.Context
		dir   string
		clock *fixtures.FakeClock
		pm    *fixtures.FakeProcessManager
		cli   *process
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		clock = fixtures.NewFakeClock(fixtures.Wednesday(10, 0))
		pm = fixtures.NewFakeProcessManager()
		cli = newProcess(dir, clock)
	})

	start := func(sessions int, autoAdvance bool) {
		_, err := cli.focus.Start(ctx, focus.Settings{
			FocusMinutes:  25,
			BreakMinutes:  5,
			TotalSessions: sessions,
			AutoAdvance:   autoAdvance,
			Targets:       steam,
		})
		Expect(err).NotTo(HaveOccurred())
	}

	It("runs an auto-advancing cycle to completion in the monitor", func() {
		mon := newMonitorProcess(dir, clock, pm)
		start(4, true)

		mon.run(fixtures.Wednesday(10, 0), fixtures.Wednesday(12, 0))

		Expect(mon.focus.Snapshot().Status).To(Equal(domain.CycleAllSessionsDone))
		all, err := mon.restrictions.All()
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(BeEmpty())

		stats := cli.ledger.DailyStats(clock.Now())
		Expect(stats.Completed).To(Equal(4))
		Expect(stats.Active).To(BeZero())
		Expect(stats.TotalBlocked).To(Equal(100 * time.Minute))
	})

	It("keeps the deadline of a running phase across a restart", func() {
		start(4, true)
		clock.Set(fixtures.Wednesday(10, 20))
		Expect(cli.focus.Tick(clock.Now()).RemainingSeconds).To(Equal(300))

		clock.Set(fixtures.Wednesday(10, 22))
		restarted := newMonitorProcess(dir, clock, pm)
		s := restarted.focus.Restore(ctx)
		Expect(s.Status).To(Equal(domain.CycleFocusActive))
		Expect(s.RemainingSeconds).To(Equal(180))
	})

	It("keeps the paused remainder across a restart", func() {
		start(4, true)
		clock.Set(fixtures.Wednesday(10, 20))
		paused, err := cli.focus.Pause(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(paused.RemainingSeconds).To(Equal(300))

		clock.Set(fixtures.Wednesday(10, 30))
		restarted := newMonitorProcess(dir, clock, pm)
		s := restarted.focus.Restore(ctx)
		Expect(s.Paused).To(BeTrue())
		Expect(s.RemainingSeconds).To(Equal(300))

		r, err := restarted.restrictions.Get(domain.StorePomodoro)
		Expect(err).NotTo(HaveOccurred())
		Expect(r).NotTo(BeNil())

		resumed, err := cli.focus.Resume(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(resumed.RemainingSeconds).To(Equal(300))
	})

	It("ends a missed phase at its unlock time on restore", func() {
		start(1, false)

		clock.Set(fixtures.Wednesday(11, 0))
		restarted := newMonitorProcess(dir, clock, pm)
		s := restarted.focus.Restore(ctx)
		Expect(s.Status).To(Equal(domain.CycleAwaitingConfirm))

		r, err := restarted.restrictions.Get(domain.StorePomodoro)
		Expect(err).NotTo(HaveOccurred())
		Expect(r).To(BeNil())

		sessions := cli.ledger.Sessions(clock.Now())
		Expect(sessions).To(HaveLen(1))
		Expect(sessions[0].Completed).To(BeTrue())
		Expect(sessions[0].Duration(clock.Now())).To(Equal(25 * time.Minute))
	})
})
