package supervisor

import (
	"os"
	"strings"
	"sync"
)

// sinkProbe tracks growth of a local-file sink. Network sinks (rtmp://,
// udp://, srt://...) cannot be stat'ed, so the probe is inert for them and
// staleness detection relies on stderr activity alone.
type sinkProbe struct {
	path string

	mu   sync.Mutex
	size int64
}

// probePath returns sink when it is a stat-able local path, else "".
func probePath(sink string) string {
	if strings.Contains(sink, "://") {
		return ""
	}
	return sink
}

func (p *sinkProbe) reset() {
	if p.path == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if fi, err := os.Stat(p.path); err == nil {
		p.size = fi.Size()
	} else {
		p.size = 0
	}
}

// grew reports whether the sink file gained bytes since the last call.
func (p *sinkProbe) grew() bool {
	if p.path == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fi, err := os.Stat(p.path)
	if err != nil {
		return false
	}
	if fi.Size() != p.size {
		p.size = fi.Size()
		return true
	}
	return false
}
