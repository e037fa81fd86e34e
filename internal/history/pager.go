package history

import (
	"sync"
	"time"

	"tradesync/internal/core"
)

// currentRangePad extends the current window past "now" so timezone skew can
// never exclude today's deals.
const currentRangePad = 48 * time.Hour

type Mode int

const (
	// ModeCurrent re-fetches the running month on every invocation, picking
	// up deals executed since the last poll.
	ModeCurrent Mode = iota
	// ModeBackward walks month by month into the past until the anchor date,
	// retrieving the long tail of the history exactly once.
	ModeBackward
)

// Pager hands out monthly date windows for deal-history retrieval. The
// exchange serves at most one month per request, so complete history needs a
// walk; the pager remembers the last successfully handled window and refuses
// to start a new one while a fetch is in flight.
type Pager struct {
	mode   Mode
	anchor time.Time
	now    func() time.Time

	mu        sync.Mutex
	handling  bool
	last      core.DateRange
	hasLast   bool
	exhausted bool
}

func New(mode Mode, anchor time.Time) *Pager {
	return &Pager{mode: mode, anchor: anchor.UTC(), now: time.Now}
}

// NewWithClock is for tests.
func NewWithClock(mode Mode, anchor time.Time, now func() time.Time) *Pager {
	return &Pager{mode: mode, anchor: anchor.UTC(), now: now}
}

// Begin reserves the next window. It returns false while a previous window
// is still being handled (callers retry on their own schedule, nothing is
// queued) and permanently false once the backward walk has passed the anchor.
func (p *Pager) Begin() (core.DateRange, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handling || p.exhausted {
		return core.DateRange{}, false
	}
	rng, ok := p.nextLocked()
	if !ok {
		p.exhausted = true
		return core.DateRange{}, false
	}
	p.handling = true
	return rng, true
}

// Finish releases the in-flight guard. The window is recorded only when the
// fetch succeeded, so a failed window is retried on the next Begin.
func (p *Pager) Finish(rng core.DateRange, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handling = false
	if ok {
		p.last = rng
		p.hasLast = true
	}
}

func (p *Pager) nextLocked() (core.DateRange, bool) {
	now := p.now().UTC()
	if p.mode == ModeCurrent || !p.hasLast {
		return currentRange(now), true
	}
	prev := precedingMonth(p.last)
	// Stop once the window lies entirely before the anchor; the month
	// containing the anchor itself is still fetched.
	if !prev.End.After(p.anchor) {
		return core.DateRange{}, false
	}
	return prev, true
}

// currentRange is [first day of this month, now + pad).
func currentRange(now time.Time) core.DateRange {
	y, m, _ := now.Date()
	return core.DateRange{
		Begin: time.Date(y, m, 1, 0, 0, 0, 0, time.UTC),
		End:   now.Add(currentRangePad),
	}
}

// precedingMonth computes the calendar month before the given range,
// [first of previous month, first of r's month). AddDate handles the year
// rollover because Begin is always the first of a month.
func precedingMonth(r core.DateRange) core.DateRange {
	y, m, _ := r.Begin.UTC().Date()
	begin := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	return core.DateRange{
		Begin: begin.AddDate(0, -1, 0),
		End:   begin,
	}
}
