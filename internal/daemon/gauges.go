package daemon

import (
	"context"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/metrics"
)

// SessionGauges returns a reconciler that resyncs the active-session gauges
// from the ledger. Sessions may be started or ended by the CLI process, so
// the monitor's gauges cannot be kept by counting.
func SessionGauges(ledger domain.SessionLedger, m *metrics.Metrics, logger *zap.Logger) Reconciler {
	return ReconcilerFunc(func(ctx context.Context) {
		active, err := ledger.GetAllActive()
		if err != nil {
			logger.Warn("failed to read active sessions", zap.Error(err))
			return
		}

		counts := make(map[domain.SessionType]int, len(domain.SessionTypes))
		for _, s := range active {
			counts[s.Type]++
		}
		for _, t := range domain.SessionTypes {
			m.SetActiveSessions(string(t), counts[t])
		}
	})
}
