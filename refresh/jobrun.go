package refresh

import (
	"fmt"
	"time"
)

// JobRun is the complete record of one scheduler pass. It is append-only
// while the run is in flight and immutable once completed; a single
// record's failure never marks the run critical.
type JobRun struct {
	ID          string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration

	TotalProcessed int
	Succeeded      int
	Failed         int
	Skipped        int

	// Errors holds per-record failures up to the configured cap; overflow
	// is counted rather than stored.
	Errors        []string
	ErrorsDropped int

	// CriticalFailure marks an infrastructure-level failure (store
	// unreachable). The run halts but the next scheduled run starts clean.
	CriticalFailure bool
}

func (r *JobRun) addError(limit int, format string, args ...any) {
	if len(r.Errors) >= limit {
		r.ErrorsDropped++
		return
	}

	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}
