package obs

import "time"

// Clock abstracts time.Now for deterministic tests, grounded on
// internal/rag/service/options.go's Clock/SystemClock pair.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a test double returning a constant time.
type FixedClock struct {
	At time.Time
}

func (f FixedClock) Now() time.Time { return f.At }
