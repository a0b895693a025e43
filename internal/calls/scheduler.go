package calls

import "time"

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// Timer is a pending scheduled transition.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. The engine discards stale firings on its own,
// so implementations need not guarantee Stop wins a race with f.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
