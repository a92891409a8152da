// internal/engine/lifecycle/clock.go
package lifecycle

import "time"

// Clock abstracts time for deterministic tests. Every component with temporal
// logic takes a Clock instead of calling time.Now directly.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock in UTC.
func SystemClock() Clock { return systemClock{} }

// FixedClock always returns the same instant. Test helper.
type FixedClock struct {
	Instant time.Time
}

func (c FixedClock) Now() time.Time { return c.Instant }
