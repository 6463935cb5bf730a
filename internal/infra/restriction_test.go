package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
	"github.com/eliteGoblin/focusd/app_block/internal/state"
	"github.com/eliteGoblin/focusd/app_block/test/fixtures"
)

func TestRestrictionStore(t *testing.T) {
	games := domain.TargetSet{Categories: []string{"games"}}
	social := domain.TargetSet{Apps: []string{"Slack", "Discord"}}

	tests := []struct {
		name string
		run  func(t *testing.T, st *MemoryState, clock *fixtures.FakeClock, rs *StateRestrictionStore)
	}{
		{
			name: "apply then get",
			run: func(t *testing.T, st *MemoryState, clock *fixtures.FakeClock, rs *StateRestrictionStore) {
				require.NoError(t, rs.Apply(domain.StoreManual, games, true))

				r, err := rs.Get(domain.StoreManual)
				require.NoError(t, err)
				require.NotNil(t, r)
				assert.True(t, r.Strict)
				assert.Equal(t, games, r.Targets)
				assert.Equal(t, clock.Now(), r.AppliedAt)
			},
		},
		{
			name: "identical apply is a no-op",
			run: func(t *testing.T, st *MemoryState, clock *fixtures.FakeClock, rs *StateRestrictionStore) {
				require.NoError(t, rs.Apply(domain.StoreManual, social, false))
				first := clock.Now()
				clock.Advance(5 * time.Minute)

				reordered := domain.TargetSet{Apps: []string{"Discord", "Slack"}}
				require.NoError(t, rs.Apply(domain.StoreManual, reordered, false))

				r, err := rs.Get(domain.StoreManual)
				require.NoError(t, err)
				assert.Equal(t, first, r.AppliedAt)
			},
		},
		{
			name: "stores are independent",
			run: func(t *testing.T, st *MemoryState, clock *fixtures.FakeClock, rs *StateRestrictionStore) {
				require.NoError(t, rs.Apply(domain.StoreManual, games, false))
				require.NoError(t, rs.Apply(domain.ScheduleStore("work"), social, false))
				require.NoError(t, rs.Clear(domain.StoreManual))

				manual, err := rs.Get(domain.StoreManual)
				require.NoError(t, err)
				assert.Nil(t, manual)

				work, err := rs.Get(domain.ScheduleStore("work"))
				require.NoError(t, err)
				require.NotNil(t, work)
				assert.Equal(t, social, work.Targets)
			},
		},
		{
			name: "clearing an empty store is a no-op",
			run: func(t *testing.T, st *MemoryState, clock *fixtures.FakeClock, rs *StateRestrictionStore) {
				assert.NoError(t, rs.Clear(domain.StorePomodoro))
				assert.NoError(t, rs.Clear(domain.StorePomodoro))
			},
		},
		{
			name: "corrupt record reads as no restriction",
			run: func(t *testing.T, st *MemoryState, clock *fixtures.FakeClock, rs *StateRestrictionStore) {
				require.NoError(t, st.Set(state.RestrictionKey(domain.StoreManual), []byte("{")))

				r, err := rs.Get(domain.StoreManual)
				require.NoError(t, err)
				assert.Nil(t, r)

				all, err := rs.All()
				require.NoError(t, err)
				assert.Empty(t, all)
			},
		},
		{
			name: "all lists every store",
			run: func(t *testing.T, st *MemoryState, clock *fixtures.FakeClock, rs *StateRestrictionStore) {
				require.NoError(t, rs.Apply(domain.StoreManual, games, false))
				require.NoError(t, rs.Apply(domain.StoreInterruption, social, false))
				require.NoError(t, rs.Apply(domain.ScheduleStore("a"), games, true))

				all, err := rs.All()
				require.NoError(t, err)
				require.Len(t, all, 3)

				stores := make([]domain.StoreName, len(all))
				for i, r := range all {
					stores[i] = r.Store
				}
				assert.ElementsMatch(t, []domain.StoreName{
					domain.StoreManual, domain.StoreInterruption, domain.ScheduleStore("a"),
				}, stores)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewMemoryState()
			clock := fixtures.NewFakeClock(fixtures.Wednesday(10, 30))
			tt.run(t, st, clock, NewRestrictionStore(st, clock, zap.NewNop()))
		})
	}
}
