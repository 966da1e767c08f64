package session

import (
	"context"
	"time"
)

// watchdog periodically probes the runner for sink growth and posts a
// staleness event when no output has been observed for longer than the
// threshold. It fires once per stall episode: after firing it waits for
// fresh activity before arming again.
type watchdog struct {
	runner    Runner
	interval  time.Duration
	threshold time.Duration
	post      func(event)
}

func (w *watchdog) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var firedAt time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !w.runner.Running() {
			firedAt = time.Time{}
			continue
		}
		w.runner.Probe()
		last := w.runner.LastOutput()
		if last.IsZero() {
			continue
		}
		if !firedAt.IsZero() {
			if last.After(firedAt) {
				firedAt = time.Time{} // activity resumed, re-arm
			}
			continue
		}
		if time.Since(last) > w.threshold {
			firedAt = time.Now()
			w.post(event{kind: evStale})
		}
	}
}
