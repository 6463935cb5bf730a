package policy

import (
	"slices"
	"sort"
	"strings"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
)

// Registry holds the app catalog.
type Registry struct {
	apps map[string]AppPolicy
}

// NewRegistry creates a registry with the default catalog.
func NewRegistry() *Registry {
	return NewRegistryWithPolicies(DefaultApps()...)
}

// NewRegistryWithPolicies creates a registry with custom policies.
func NewRegistryWithPolicies(policies ...AppPolicy) *Registry {
	r := &Registry{apps: make(map[string]AppPolicy)}
	for _, p := range policies {
		r.Register(p)
	}
	return r
}

// Register adds or replaces an app.
func (r *Registry) Register(p AppPolicy) {
	r.apps[strings.ToLower(p.ID())] = p
}

// Get returns an app by id, case-insensitively.
func (r *Registry) Get(id string) (AppPolicy, bool) {
	p, ok := r.apps[strings.ToLower(id)]
	return p, ok
}

// List returns all app ids, sorted.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.apps))
	for id := range r.apps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Categories returns every category token, sorted.
func (r *Registry) Categories() []string {
	var cats []string
	for _, p := range r.apps {
		if !slices.Contains(cats, p.Category()) {
			cats = append(cats, p.Category())
		}
	}
	sort.Strings(cats)
	return cats
}

// InCategory returns the apps of a category, sorted by id.
func (r *Registry) InCategory(category string) []AppPolicy {
	var apps []AppPolicy
	for _, id := range r.List() {
		if p := r.apps[id]; strings.EqualFold(p.Category(), category) {
			apps = append(apps, p)
		}
	}
	return apps
}

// Resolve turns a target set into process patterns. Known app tokens and
// category tokens expand through the catalog; an unknown app token is used
// as a process pattern itself. Unknown categories resolve to nothing.
func (r *Registry) Resolve(targets domain.TargetSet) []string {
	seen := make(map[string]bool)
	var patterns []string
	add := func(ps ...string) {
		for _, p := range ps {
			key := strings.ToLower(strings.TrimSpace(p))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			patterns = append(patterns, p)
		}
	}

	for _, token := range targets.Apps {
		if p, ok := r.Get(token); ok {
			add(p.ProcessPatterns()...)
			continue
		}
		add(token)
	}
	for _, cat := range targets.Categories {
		for _, p := range r.InCategory(cat) {
			add(p.ProcessPatterns()...)
		}
	}
	return patterns
}
