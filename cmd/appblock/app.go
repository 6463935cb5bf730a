package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_block/internal/config"
	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/events"
	"github.com/eliteGoblin/focusd/app_block/internal/focus"
	"github.com/eliteGoblin/focusd/app_block/internal/infra"
	"github.com/eliteGoblin/focusd/app_block/internal/ledger"
	"github.com/eliteGoblin/focusd/app_block/internal/metrics"
	"github.com/eliteGoblin/focusd/app_block/internal/policy"
	"github.com/eliteGoblin/focusd/app_block/internal/schedule"
	"github.com/eliteGoblin/focusd/app_block/internal/usecase"
)

// app holds the engines of one process, wired over the shared state.
type app struct {
	cfg          config.Config
	state        domain.SharedState
	closeState   func() error
	clock        domain.Clock
	restrictions *infra.StateRestrictionStore
	monitor      *infra.StateActivityMonitor
	ledger       *ledger.Ledger
	schedules    *schedule.Engine
	focus        *focus.Engine
	manual       *usecase.ManualBlocker
	interrupter  *usecase.Interrupter
	catalog      *policy.Registry
	bus          *events.Bus
	registry     *prometheus.Registry
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// openState opens the configured state backend.
func openState(cfg config.Config) (domain.SharedState, func() error, error) {
	switch cfg.State.Backend {
	case config.BackendEncrypted:
		st, err := infra.OpenEncryptedState(cfg.State.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open encrypted state: %w", err)
		}
		return st, st.Close, nil
	default:
		st, err := infra.NewFileState(cfg.State.Dir)
		if err != nil {
			return nil, nil, err
		}
		return st, func() error { return nil }, nil
	}
}

// newApp wires every engine. focusOpts are appended to the focus engine's
// options; the CLI disables its ticker, the monitor drives it by Tick.
func newApp(cfg config.Config, logger *zap.Logger, focusOpts ...focus.Option) (*app, error) {
	st, closeState, err := openState(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:        cfg,
		state:      st,
		closeState: closeState,
		clock:      infra.NewSystemClock(),
		catalog:    policy.NewRegistry(),
		bus:        events.NewBus(logger),
		registry:   prometheus.NewRegistry(),
		logger:     logger,
	}
	a.metrics = metrics.New(a.registry)
	a.restrictions = infra.NewRestrictionStore(st, a.clock, logger.Named("restrictions"))
	a.monitor = infra.NewActivityMonitor(st, a.clock, logger.Named("activity"))
	a.ledger = ledger.New(st, a.clock, logger.Named("ledger"),
		ledger.WithPublisher(a.bus),
		ledger.WithMetrics(a.metrics))
	a.schedules = schedule.NewEngine(st, a.restrictions, a.monitor, a.ledger, a.clock, logger.Named("schedule"),
		schedule.WithPublisher(a.bus),
		schedule.WithMetrics(a.metrics))
	a.focus = focus.NewEngine(st, a.restrictions, a.monitor, a.ledger, a.clock, logger.Named("focus"),
		append([]focus.Option{focus.WithPublisher(a.bus), focus.WithMetrics(a.metrics)}, focusOpts...)...)
	a.manual = usecase.NewManualBlocker(st, a.restrictions, a.monitor, a.ledger, a.clock, a.bus, logger.Named("manual"))
	a.interrupter = usecase.NewInterrupter(st, a.restrictions, a.monitor, a.ledger, a.clock, a.bus, a.metrics, logger.Named("interruption"))
	a.interrupter.SetRearmInterval(cfg.Interruption.RearmInterval)
	return a, nil
}

// openCLI loads config and wires the engines of a foreground command.
func openCLI() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cfg, createCLILogger(cfg), focus.WithoutTicker())
}

// Close stops the focus engine and closes the state backend.
func (a *app) Close() {
	a.focus.Close()
	if err := a.closeState(); err != nil {
		a.logger.Warn("failed to close state", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// targets builds a target set from --app and --category flags.
func targets(apps, categories []string) (domain.TargetSet, error) {
	t := domain.TargetSet{Apps: apps, Categories: categories}
	if t.IsEmpty() {
		return t, fmt.Errorf("select at least one --app or --category")
	}
	return t, nil
}
