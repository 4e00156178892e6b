package types

import "time"

// JobKind names one of the three periodic pipeline stages the scheduler
// (C8) drives. Daemon listener timers are tracked separately, per-daemon,
// not as a JobKind.
type JobKind int

const (
	JobSign JobKind = iota
	JobWrite
	JobCheck
)

func (k JobKind) String() string {
	switch k {
	case JobSign:
		return "Sign"
	case JobWrite:
		return "Write"
	case JobCheck:
		return "Check"
	default:
		return "Unknown"
	}
}

// Job is one periodic stage timer's persisted state. TimerHandle is a
// runtime-only slot that is never serialized (see storage's codec tags);
// the scheduler keeps its live tickers itself and does not set it.
type Job struct {
	Interval     time.Duration `codec:"interval"`
	TimerHandle  any           `codec:"-"`
	IsActive     bool          `codec:"is_active"`
	Kind         JobKind       `codec:"kind"`
}
