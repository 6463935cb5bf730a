package infra

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/state"
)

// StateRestrictionStore implements domain.RestrictionStore by recording each
// named store in shared state. The monitor process reads the union of all
// stores and enforces it.
type StateRestrictionStore struct {
	state  domain.SharedState
	clock  domain.Clock
	logger *zap.Logger
}

// NewRestrictionStore creates a restriction store backed by st.
func NewRestrictionStore(st domain.SharedState, clock domain.Clock, logger *zap.Logger) *StateRestrictionStore {
	return &StateRestrictionStore{state: st, clock: clock, logger: logger}
}

// Apply records the restriction. Re-applying an identical restriction is a no-op.
func (r *StateRestrictionStore) Apply(store domain.StoreName, targets domain.TargetSet, strict bool) error {
	existing, err := r.Get(store)
	if err != nil {
		return err
	}
	if existing != nil && existing.Strict == strict && existing.Targets.Equal(targets) {
		return nil
	}

	restriction := domain.Restriction{
		Store:     store,
		Targets:   targets,
		Strict:    strict,
		AppliedAt: r.clock.Now(),
	}
	if err := state.SetJSON(r.state, state.RestrictionKey(store), restriction); err != nil {
		return fmt.Errorf("failed to apply restriction %s: %w", store, err)
	}

	r.logger.Info("restriction applied",
		zap.String("store", string(store)),
		zap.Strings("apps", targets.Apps),
		zap.Strings("categories", targets.Categories),
		zap.Bool("strict", strict))
	return nil
}

// Clear removes the restriction. Clearing an empty store is a no-op.
func (r *StateRestrictionStore) Clear(store domain.StoreName) error {
	ok, err := state.Has(r.state, state.RestrictionKey(store))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := r.state.Remove(state.RestrictionKey(store)); err != nil {
		return fmt.Errorf("failed to clear restriction %s: %w", store, err)
	}
	r.logger.Info("restriction cleared", zap.String("store", string(store)))
	return nil
}

// Get returns the restriction in store, or nil. Corrupt records read as nil.
func (r *StateRestrictionStore) Get(store domain.StoreName) (*domain.Restriction, error) {
	var restriction domain.Restriction
	ok, err := state.GetJSON(r.state, state.RestrictionKey(store), &restriction)
	if errors.Is(err, state.ErrCorrupt) {
		r.logger.Warn("ignoring corrupt restriction", zap.String("store", string(store)), zap.Error(err))
		return nil, nil
	}
	if err != nil || !ok {
		return nil, err
	}
	return &restriction, nil
}

// All returns every applied restriction.
func (r *StateRestrictionStore) All() ([]domain.Restriction, error) {
	keys, err := r.state.Keys(state.PrefixRestriction)
	if err != nil {
		return nil, err
	}

	result := make([]domain.Restriction, 0, len(keys))
	for _, k := range keys {
		store := domain.StoreName(strings.TrimPrefix(k, state.PrefixRestriction))
		restriction, err := r.Get(store)
		if err != nil {
			return nil, err
		}
		if restriction != nil {
			result = append(result, *restriction)
		}
	}
	return result, nil
}

// Ensure StateRestrictionStore implements domain.RestrictionStore.
var _ domain.RestrictionStore = (*StateRestrictionStore)(nil)
