package infra

import (
	"time"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
)

// SystemClock reads the wall clock.
type SystemClock struct{}

// NewSystemClock creates a wall clock.
func NewSystemClock() domain.Clock {
	return SystemClock{}
}

// Now returns the current local time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Ensure SystemClock implements domain.Clock.
var _ domain.Clock = SystemClock{}
