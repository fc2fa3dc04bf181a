package montecarlo

import (
	"sync"
	"sync/atomic"
)

// ProgressFunc receives the number of completed runs. Calls are serialized and
// completed strictly increases; the last call has completed == total.
// It runs on a simulation worker, so it should return quickly.
type ProgressFunc func(completed, total int)

// progressTracker reports at every 1% of runs and at completion.
type progressTracker struct {
	fn        ProgressFunc
	total     int
	step      int
	completed atomic.Int64

	mu       sync.Mutex
	reported int
}

func newProgressTracker(total int, fn ProgressFunc) *progressTracker {
	step := total / 100
	if step < 1 {
		step = 1
	}
	return &progressTracker{fn: fn, total: total, step: step}
}

func (p *progressTracker) advance() {
	if p.fn == nil {
		return
	}

	done := int(p.completed.Add(1))
	if done%p.step != 0 && done != p.total {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if done <= p.reported {
		return
	}
	p.reported = done
	p.fn(done, p.total)
}
