package kernel

// LogicalClock is a strictly monotonic logical timestamp source.
//
// The clock is a plain value in immutable-rebind style: Tick returns a new
// clock instead of mutating the receiver. Callers thread the returned clock
// through their call graph, which keeps the kernel free of process-wide
// state and makes every timestamp assignment explicit and replayable.
//
// Wall-clock time is forbidden inside the engine; this clock is the only
// source of event timestamps.
type LogicalClock struct {
	now int64
}

// NewClock returns a clock positioned at 0. The first Tick yields 1.
func NewClock() LogicalClock {
	return LogicalClock{}
}

// NewClockAt returns a clock positioned at now. Used when resuming from a
// log tail or a verified checkpoint so new timestamps continue past the
// last observed one.
func NewClockAt(now int64) LogicalClock {
	return LogicalClock{now: now}
}

// Tick advances the clock and returns the advanced clock together with the
// fresh timestamp. Each Tick yields a strictly larger value.
func (c LogicalClock) Tick() (LogicalClock, int64) {
	next := c.now + 1
	return LogicalClock{now: next}, next
}

// Now returns the current position without advancing.
func (c LogicalClock) Now() int64 {
	return c.now
}
