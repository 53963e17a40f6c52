package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// OpStats tracks sum/count/max duration per verb. The Prometheus client
// library has no way to read back a running maximum from a Histogram or
// Summary (a Summary's quantiles are statistical estimates, not an exact
// max), and /health and /metrics both need an exact worst-case latency
// per verb. This is a small hand-rolled accumulator kept alongside the
// promauto metrics above rather than a replacement for them.
type OpStats struct {
	mu  sync.Mutex
	ops map[string]*opEntry
}

type opEntry struct {
	count int64
	sum   time.Duration
	max   time.Duration
}

// NewOpStats returns an empty per-verb accumulator.
func NewOpStats() *OpStats {
	return &OpStats{ops: make(map[string]*opEntry)}
}

// Record adds one observation of d for the given verb.
func (o *OpStats) Record(verb string, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.ops[verb]
	if !ok {
		e = &opEntry{}
		o.ops[verb] = e
	}
	e.count++
	e.sum += d
	if d > e.max {
		e.max = d
	}
}

// Snapshot is a point-in-time view of one verb's accumulated stats.
type Snapshot struct {
	Verb  string
	Count int64
	SumMs float64
	MaxMs float64
}

// Snapshots returns the current stats for every observed verb, sorted by
// verb name for deterministic output.
func (o *OpStats) Snapshots() []Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Snapshot, 0, len(o.ops))
	for verb, e := range o.ops {
		out = append(out, Snapshot{
			Verb:  verb,
			Count: e.count,
			SumMs: float64(e.sum) / float64(time.Millisecond),
			MaxMs: float64(e.max) / float64(time.Millisecond),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Verb < out[j].Verb })
	return out
}

var sanitizer = strings.NewReplacer(
	" ", "_", "-", "_", ".", "_", "/", "_",
)

// sanitizeLabel restricts s to [A-Za-z0-9_] for exposition as a metric
// name component, per the /metrics contract.
func sanitizeLabel(s string) string {
	s = sanitizer.Replace(s)
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// WriteText renders the op-duration stats as additional Prometheus
// exposition lines (sum/count/max per verb), appended alongside the
// promauto-registered metrics already served by promhttp.
func (o *OpStats) WriteText(w *strings.Builder) {
	for _, s := range o.Snapshots() {
		verb := sanitizeLabel(s.Verb)
		fmt.Fprintf(w, "anim5s_op_duration_ms_sum{verb=%q} %g\n", verb, s.SumMs)
		fmt.Fprintf(w, "anim5s_op_duration_ms_count{verb=%q} %d\n", verb, s.Count)
		fmt.Fprintf(w, "anim5s_op_duration_ms_max{verb=%q} %g\n", verb, s.MaxMs)
	}
}
