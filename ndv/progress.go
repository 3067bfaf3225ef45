package ndv

import "time"

// transfer measures one object transfer from the first request to the
// final reply. Counts are lines for sources and bytes for binaries.
type transfer struct {
	s     *Session
	name  string
	op    int
	total int64

	started  time.Time
	reported time.Time
	count    int64
}

// beginTransfer reports EventTransferStarted and starts the clock.
func (s *Session) beginTransfer(name string, op int, total int) *transfer {
	s.event(EventTransferStarted, name, op)
	now := time.Now()
	return &transfer{s: s, name: name, op: op, total: int64(total), started: now, reported: now}
}

// add counts n more units and calls OnProgress at most once per
// ProgressInterval.
func (t *transfer) add(n int) {
	t.count += int64(n)
	now := time.Now()
	if now.Sub(t.reported) < t.s.config.ProgressInterval {
		return
	}
	t.report(now)
}

func (t *transfer) report(now time.Time) {
	var rate float64
	if secs := now.Sub(t.started).Seconds(); secs > 0 {
		rate = float64(t.count) / secs
	}
	t.s.callbacks.OnProgress(t.name, t.count, t.total, rate)
	t.reported = now
}

// done reports n as the final count and EventTransferComplete.
func (t *transfer) done(n int) {
	t.count = int64(n)
	if t.total == 0 {
		t.total = t.count
	}
	now := time.Now()
	t.report(now)
	t.s.event(EventTransferComplete, t.name, t.op)
	t.s.callbacks.OnTransferComplete(t.name, t.count, now.Sub(t.started))
}
