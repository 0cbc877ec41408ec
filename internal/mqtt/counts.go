package mqtt

import (
	"sync"
	"time"

	"github.com/nugget/studywithme/internal/agent"
)

// DailyCounts tallies exchange outcomes and resets at local midnight.
// It is safe for concurrent use.
type DailyCounts struct {
	mu       sync.Mutex
	counts   Counts
	resetDay int
	loc      *time.Location
	now      func() time.Time
}

// Counts is a snapshot of one day's outcomes.
type Counts struct {
	OK        int64 `json:"ok"`
	Errors    int64 `json:"errors"`
	Cancelled int64 `json:"cancelled"`
	ToolUses  int64 `json:"tool_uses"`
}

// NewDailyCounts uses loc for midnight detection; nil means
// [time.Local].
func NewDailyCounts(loc *time.Location) *DailyCounts {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyCounts{loc: loc, now: time.Now}
	d.resetDay = d.now().In(loc).YearDay()
	return d
}

// Record adds one exchange.
func (d *DailyCounts) Record(ev agent.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	switch ev.Outcome {
	case agent.OutcomeOK:
		d.counts.OK++
	case agent.OutcomeCancelled:
		d.counts.Cancelled++
	default:
		d.counts.Errors++
	}
	if ev.Tool != "" {
		d.counts.ToolUses++
	}
}

// Snapshot returns today's totals.
func (d *DailyCounts) Snapshot() Counts {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	return d.counts
}

// maybeReset zeroes the tally when the local day changed. Callers hold mu.
func (d *DailyCounts) maybeReset() {
	today := d.now().In(d.loc).YearDay()
	if today != d.resetDay {
		d.counts = Counts{}
		d.resetDay = today
	}
}
