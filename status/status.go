// Package status formats the progress of a capture run
package status

import (
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Format renders the filter, exposure time and position within the step,
// e.g. "Red | 1.500 s | 2/3"
func Format(filter string, exposureSeconds float64, iteration, repeat int) string {
	return fmt.Sprintf("%s | %.3f s | %d/%d", filter, exposureSeconds, iteration, repeat)
}

// Status is a snapshot of the progress of a run
type Status struct {
	Filter    string  `json:"filter"`
	Exposure  float64 `json:"exposure"`
	Iteration int     `json:"iteration"`
	Repeat    int     `json:"repeat"`
	Frames    int     `json:"frames"`
}

// String satisfies fmt.Stringer
func (s Status) String() string {
	return Format(s.Filter, s.Exposure, s.Iteration, s.Repeat)
}

// Reporter holds the latest status of a run and logs it at a bounded rate.
// The zero value is not usable, use NewReporter.
type Reporter struct {
	mu     sync.Mutex
	cur    Status
	start  time.Time
	active bool

	lim *rate.Limiter

	// Log enables logging of pushed statuses
	Log bool
}

// NewReporter returns a Reporter which logs at most one status per interval
func NewReporter(interval time.Duration) *Reporter {
	return &Reporter{lim: rate.NewLimiter(rate.Every(interval), 1), Log: true}
}

// Reset clears the status and marks the start of a new run
func (r *Reporter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cur = Status{}
	r.start = time.Now()
	r.active = true
}

// Finish marks the run as over; the last status is retained
func (r *Reporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
}

// Push replaces the current status
func (r *Reporter) Push(s Status) {
	r.mu.Lock()
	r.cur = s
	r.mu.Unlock()
	if r.Log && r.lim.Allow() {
		log.Printf("frame %d: %s\n", s.Frames, s)
	}
}

// Current returns the latest status and the time elapsed since Reset
func (r *Reporter) Current() (Status, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.start.IsZero() {
		return r.cur, 0
	}
	return r.cur, time.Since(r.start)
}

// String formats the latest status with the elapsed time, or "idle"
func (r *Reporter) String() string {
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	s, el := r.Current()
	if s.Filter == "" {
		if active {
			return "starting"
		}
		return "idle"
	}
	return fmt.Sprintf("%s | %s elapsed", s, el.Round(time.Second))
}
