//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_block/internal/daemon"
	"github.com/eliteGoblin/focusd/app_block/internal/focus"
	"github.com/eliteGoblin/focusd/app_block/internal/infra"
	"github.com/eliteGoblin/focusd/app_block/internal/ledger"
	"github.com/eliteGoblin/focusd/app_block/internal/policy"
	"github.com/eliteGoblin/focusd/app_block/internal/schedule"
	"github.com/eliteGoblin/focusd/app_block/internal/usecase"
	"github.com/eliteGoblin/focusd/app_block/test/fixtures"
)

func TestAppBlockIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "App Block Integration Suite")
}

// process is one OS process worth of engines over its own handle to the
// shared state directory. Nothing but the files is shared between two
// processes.
type process struct {
	state        *infra.FileState
	restrictions *infra.StateRestrictionStore
	registry     *infra.StateActivityMonitor
	ledger       *ledger.Ledger
	schedules    *schedule.Engine
	focus        *focus.Engine
	manual       *usecase.ManualBlocker
	interrupter  *usecase.Interrupter
}

func newProcess(dir string, clock *fixtures.FakeClock) *process {
	logger := zap.NewNop()
	st, err := infra.NewFileState(dir)
	Expect(err).NotTo(HaveOccurred())

	p := &process{state: st}
	p.restrictions = infra.NewRestrictionStore(st, clock, logger)
	p.registry = infra.NewActivityMonitor(st, clock, logger)
	p.ledger = ledger.New(st, clock, logger)
	p.schedules = schedule.NewEngine(st, p.restrictions, p.registry, p.ledger, clock, logger)
	p.focus = focus.NewEngine(st, p.restrictions, p.registry, p.ledger, clock, logger, focus.WithoutTicker())
	p.manual = usecase.NewManualBlocker(st, p.restrictions, p.registry, p.ledger, clock, nil, logger)
	p.interrupter = usecase.NewInterrupter(st, p.restrictions, p.registry, p.ledger, clock, nil, nil, logger)
	return p
}

// monitorProcess is the background process: its own engines plus the
// monitor loop driven step by step.
type monitorProcess struct {
	*process
	enforcer *usecase.EnforcerImpl
	monitor  *daemon.Monitor
	clock    *fixtures.FakeClock
}

func newMonitorProcess(dir string, clock *fixtures.FakeClock, pm *fixtures.FakeProcessManager) *monitorProcess {
	logger := zap.NewNop()
	p := newProcess(dir, clock)
	enforcer := usecase.NewEnforcer(pm, p.restrictions, policy.NewRegistry(), nil, logger)
	callbacks := usecase.NewMonitorCallbacks(p.state, p.restrictions, p.ledger, clock,
		p.schedules, p.manual, p.interrupter, nil, logger)

	config := daemon.DefaultMonitorConfig()
	config.TickInterval = time.Minute
	liveness := daemon.NewLiveness(p.state, pm, clock, "test", "user", logger)
	m := daemon.NewMonitor(config, p.registry, callbacks, enforcer, p.focus, nil, liveness, nil, clock, logger)
	return &monitorProcess{process: p, enforcer: enforcer, monitor: m, clock: clock}
}

// step moves the clock to t and runs one monitor tick: callbacks, the focus
// tick and enforcement.
func (m *monitorProcess) step(t time.Time) {
	ctx := context.Background()
	m.clock.Set(t)
	m.monitor.Evaluate(ctx, t)
	m.focus.Tick(t)
	_, err := m.enforcer.Enforce(ctx)
	Expect(err).NotTo(HaveOccurred())
}

// run steps every minute from (exclusive) to until (inclusive).
func (m *monitorProcess) run(from, until time.Time) {
	for t := from.Add(time.Minute); !t.After(until); t = t.Add(time.Minute) {
		m.step(t)
	}
}
