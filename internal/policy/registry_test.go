package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
)

func TestRegistry_Catalog(t *testing.T) {
	r := NewRegistry()

	steam, ok := r.Get("Steam")
	assert.True(t, ok)
	assert.Equal(t, "Steam", steam.Name())
	assert.Contains(t, steam.ProcessPatterns(), "steamwebhelper")

	assert.Equal(t, []string{CategoryEntertainment, CategoryGames, CategorySocial, CategoryVideo}, r.Categories())

	games := r.InCategory("games")
	ids := make([]string, len(games))
	for i, p := range games {
		ids[i] = p.ID()
	}
	assert.Equal(t, []string{"dota2", "league", "minecraft", "steam"}, ids)
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistryWithPolicies(
		App{AppID: "steam", CategoryID: "games", Patterns: []string{"Steam", "steamwebhelper"}},
		App{AppID: "dota2", CategoryID: "games", Patterns: []string{"dota2"}},
		App{AppID: "slack", CategoryID: "social", Patterns: []string{"Slack"}},
	)

	tests := []struct {
		name    string
		targets domain.TargetSet
		want    []string
	}{
		{
			name:    "known app",
			targets: domain.TargetSet{Apps: []string{"slack"}},
			want:    []string{"Slack"},
		},
		{
			name:    "unknown app is its own pattern",
			targets: domain.TargetSet{Apps: []string{"Xcode"}},
			want:    []string{"Xcode"},
		},
		{
			name:    "whole category",
			targets: domain.TargetSet{Categories: []string{"games"}},
			want:    []string{"dota2", "Steam", "steamwebhelper"},
		},
		{
			name:    "duplicates collapse",
			targets: domain.TargetSet{Apps: []string{"steam", "STEAM"}, Categories: []string{"games"}},
			want:    []string{"Steam", "steamwebhelper", "dota2"},
		},
		{
			name:    "unknown category",
			targets: domain.TargetSet{Categories: []string{"nope"}},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.targets))
		})
	}
}
