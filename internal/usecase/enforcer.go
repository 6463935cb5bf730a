// Package usecase contains the application logic that sits between the
// engines and the infrastructure: enforcement, manual blocks, interruptions
// and the activity monitor callbacks.
package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/metrics"
)

// PatternResolver turns target tokens into process name patterns.
type PatternResolver interface {
	Resolve(targets domain.TargetSet) []string
}

// EnforcerImpl implements domain.Enforcer by killing the processes of every
// applied restriction.
type EnforcerImpl struct {
	processManager domain.ProcessManager
	restrictions   domain.RestrictionStore
	resolver       PatternResolver
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

// NewEnforcer creates an enforcer.
func NewEnforcer(
	pm domain.ProcessManager,
	restrictions domain.RestrictionStore,
	resolver PatternResolver,
	m *metrics.Metrics,
	logger *zap.Logger,
) *EnforcerImpl {
	return &EnforcerImpl{
		processManager: pm,
		restrictions:   restrictions,
		resolver:       resolver,
		metrics:        m,
		logger:         logger,
	}
}

// Enforce runs every applied restriction once.
func (e *EnforcerImpl) Enforce(ctx context.Context) ([]domain.EnforcementResult, error) {
	start := time.Now()
	applied, err := e.restrictions.All()
	if err != nil {
		return nil, err
	}
	e.metrics.SetRestrictions(len(applied))

	results := make([]domain.EnforcementResult, 0, len(applied))
	killed := 0
	for _, r := range applied {
		if ctx.Err() != nil {
			break
		}
		result := e.EnforceRestriction(r)
		killed += len(result.KilledPIDs)
		results = append(results, result)
	}

	e.metrics.RecordEnforcement(killed, time.Since(start))
	return results, nil
}

// EnforceRestriction kills the processes matching one restriction.
func (e *EnforcerImpl) EnforceRestriction(r domain.Restriction) domain.EnforcementResult {
	start := time.Now()
	result := domain.EnforcementResult{
		Store:      r.Store,
		Patterns:   e.resolver.Resolve(r.Targets),
		KilledPIDs: make([]int, 0),
		Errors:     make([]error, 0),
		ExecutedAt: start,
	}

	for _, pattern := range result.Patterns {
		pids, err := e.processManager.FindByName(pattern)
		if err != nil {
			e.logger.Warn("failed to find processes",
				zap.String("pattern", pattern),
				zap.Error(err))
			result.Errors = append(result.Errors, err)
			continue
		}

		for _, pid := range pids {
			if err := e.processManager.Kill(pid); err != nil {
				e.logger.Warn("failed to kill process",
					zap.Int("pid", pid),
					zap.Error(err))
				result.Errors = append(result.Errors, err)
				continue
			}
			e.logger.Info("killed restricted process",
				zap.String("store", string(r.Store)),
				zap.Int("pid", pid),
				zap.String("pattern", pattern))
			result.KilledPIDs = append(result.KilledPIDs, pid)
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

// InUse reports whether any process of targets is running.
func (e *EnforcerImpl) InUse(targets domain.TargetSet) bool {
	for _, pattern := range e.resolver.Resolve(targets) {
		pids, err := e.processManager.FindByName(pattern)
		if err != nil {
			e.logger.Debug("usage check failed", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		if len(pids) > 0 {
			return true
		}
	}
	return false
}

// Ensure EnforcerImpl implements domain.Enforcer.
var _ domain.Enforcer = (*EnforcerImpl)(nil)
