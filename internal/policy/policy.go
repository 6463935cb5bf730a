// Package policy maps the opaque target tokens of a restriction to process
// name patterns. Each blockable app is an AppPolicy; categories group them.
package policy

// AppPolicy describes how to recognize one application's processes.
type AppPolicy interface {
	// ID returns the token used in target sets (e.g. "steam").
	ID() string

	// Name returns a human-readable name for display.
	Name() string

	// Category returns the category token the app belongs to.
	Category() string

	// ProcessPatterns returns process names to match, case-insensitively.
	ProcessPatterns() []string
}

// App is a static AppPolicy.
type App struct {
	AppID       string
	DisplayName string
	CategoryID  string
	Patterns    []string
}

func (a App) ID() string                { return a.AppID }
func (a App) Name() string              { return a.DisplayName }
func (a App) Category() string          { return a.CategoryID }
func (a App) ProcessPatterns() []string { return a.Patterns }

// Ensure App implements AppPolicy.
var _ AppPolicy = App{}
