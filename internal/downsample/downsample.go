// Package downsample thins a recorded tracking topic to a minimum inter-record
// gap, copying accepted records unchanged into a new container.
package downsample

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/mocap.report/internal/mocap"
	"github.com/banshee-data/mocap.report/internal/mocap/container"
)

// DefaultGap is the minimum spacing between emitted records, roughly 60 Hz.
const DefaultGap = 16 * time.Millisecond

// Filter decides which timestamps to keep. The zero value accepts
// everything after the first record at a zero gap.
type Filter struct {
	Gap time.Duration

	last    int64
	started bool
}

// NewFilter returns a filter with the given minimum gap.
func NewFilter(gap time.Duration) *Filter {
	return &Filter{Gap: gap}
}

// Accept reports whether a record at tsNanos is emitted. A record is
// emitted when nothing has been emitted yet or when at least Gap has
// elapsed since the last emitted record. Comparisons are in integer
// nanoseconds.
func (f *Filter) Accept(tsNanos int64) bool {
	if f.started && tsNanos-f.last < int64(f.Gap) {
		return false
	}
	f.last = tsNanos
	f.started = true
	return true
}

// Stats summarises one downsampling pass.
type Stats struct {
	Read    int // records on the selected topic
	Written int

	FirstNanos int64 // timestamp of the first emitted record
	LastNanos  int64

	// Interval statistics over the emitted records, in seconds.
	Intervals    []float64
	MeanInterval float64
	RateHz       float64
}

// Duration returns the span between the first and last emitted record.
func (s Stats) Duration() time.Duration {
	return time.Duration(s.LastNanos - s.FirstNanos)
}

// Run copies records from r to w, emitting only those that pass a Filter
// with the given gap. Records on other topics are dropped; callers normally
// open r restricted to the topic of interest. w is not closed.
func Run(r mocap.RecordReader, w *container.Writer, topic string, gap time.Duration) (Stats, error) {
	var st Stats
	filter := NewFilter(gap)
	var prev mocap.Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return st, fmt.Errorf("failed to read record: %w", err)
		}
		if rec.Topic != topic {
			continue
		}
		st.Read++
		if !filter.Accept(rec.TimestampNanos) {
			continue
		}
		if err := w.Write(rec); err != nil {
			return st, fmt.Errorf("failed to write record: %w", err)
		}
		if st.Written > 0 {
			st.Intervals = append(st.Intervals, rec.Since(prev).Seconds())
		} else {
			st.FirstNanos = rec.TimestampNanos
		}
		st.LastNanos = rec.TimestampNanos
		prev = rec
		st.Written++
	}

	if len(st.Intervals) > 0 {
		st.MeanInterval = stat.Mean(st.Intervals, nil)
		if st.MeanInterval > 0 {
			st.RateHz = 1 / st.MeanInterval
		}
	}
	return st, nil
}
