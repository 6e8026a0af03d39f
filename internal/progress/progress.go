// Package progress prints the loader's line counter and final summary on stdout.
package progress

import (
	"fmt"
	"io"
	"time"
)

// DefaultInterval is the number of rows between two progress lines.
const DefaultInterval = 10000

// Reporter counts rows and prints "<n>K" every interval rows. An interval of
// zero disables the periodic lines. Not safe for concurrent use.
type Reporter struct {
	out      io.Writer
	interval int64
	count    int64
	start    time.Time
	now      func() time.Time
}

// New starts the execution clock.
func New(out io.Writer, interval int) *Reporter {
	return NewAt(out, interval, time.Now())
}

// NewAt measures execution time from start, so setup done before the
// reporter exists is counted.
func NewAt(out io.Writer, interval int, start time.Time) *Reporter {
	return &Reporter{out: out, interval: int64(interval), start: start, now: time.Now}
}

// Row records one processed row.
func (r *Reporter) Row() {
	r.count++
	if r.interval > 0 && r.count%r.interval == 0 {
		fmt.Fprintf(r.out, "%dK\n", r.count/1000)
	}
}

// Count is the number of rows recorded so far.
func (r *Reporter) Count() int64 { return r.count }

// Elapsed is the time since the start instant.
func (r *Reporter) Elapsed() time.Duration { return r.now().Sub(r.start) }

// Done prints the row count and the elapsed time in whole seconds.
func (r *Reporter) Done() {
	fmt.Fprintf(r.out, "Successfully parsed %d lines.\n", r.count)
	fmt.Fprintf(r.out, "Execution time was %d seconds.\n", int64(r.Elapsed()/time.Second))
}
