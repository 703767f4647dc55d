package sched

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Run after Close once all pending work is done.
// Callers normally treat it as a clean shutdown.
var ErrClosed = errors.New("scheduler closed")

// QuotaError is returned when RunUntilIdle executes more than the configured
// number of ticks without the timeline becoming idle.
//
// It almost always means a graph keeps re-arming an immediate transition in
// a loop that never waits on a timer or an event.
type QuotaError struct {
	Ticks    int
	MaxTicks int
	Now      string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("tick quota exceeded (%d >= %d) at %s without going idle", e.Ticks, e.MaxTicks, e.Now)
}

// IsQuotaError returns true if err is (or wraps) a QuotaError.
func IsQuotaError(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}
