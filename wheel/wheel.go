// Package wheel contains the filter wheel interface and the synchronizer
// which overlaps wheel rotation with exposure setup.
package wheel

import (
	"sync"
)

// Wheel describes a filter wheel
type Wheel interface {
	// CurrentFilter returns the name of the filter in the beam
	CurrentFilter() (string, error)

	// MustRotate returns true if reaching target requires motion
	MustRotate(target string) bool

	// RotateTo moves target into the beam, blocking until it arrives
	RotateTo(target string) error
}

// Rotation is a handle to a rotation running in the background
type Rotation struct {
	done chan struct{}
	err  error
}

var completed = func() *Rotation {
	r := &Rotation{done: make(chan struct{})}
	close(r.done)
	return r
}()

// Join blocks until the rotation completes and returns its error
func (r *Rotation) Join() error {
	<-r.done
	return r.err
}

// Done returns a channel that is closed when the rotation completes
func (r *Rotation) Done() <-chan struct{} {
	return r.done
}

// Synchronizer tracks the last filter commanded to a wheel and starts
// rotations asynchronously.  It does not read the position back from the
// hardware, which may report stale values while moving.
type Synchronizer struct {
	w Wheel

	mu   sync.Mutex
	last string
}

// NewSynchronizer wraps a wheel.  The last commanded filter is unknown
// until the first rotation, so the first request always consults the wheel.
func NewSynchronizer(w Wheel) *Synchronizer {
	return &Synchronizer{w: w}
}

// Wheel returns the wrapped wheel
func (s *Synchronizer) Wheel() Wheel {
	return s.w
}

// Forget clears the last commanded filter, e.g. after the wheel was moved
// by hand
func (s *Synchronizer) Forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = ""
}

// NeedsRotation returns true if target differs from the last commanded filter.
// Before any command has been issued the wheel itself is asked.
func (s *Synchronizer) NeedsRotation(target string) bool {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last == "" {
		return s.w.MustRotate(target)
	}
	return last != target
}

// BeginRotation starts moving the wheel to target on its own goroutine.
// If no motion is needed the returned handle is already complete.
// The handle must be joined before the next capture is issued.
func (s *Synchronizer) BeginRotation(target string) *Rotation {
	if !s.NeedsRotation(target) {
		s.mu.Lock()
		s.last = target
		s.mu.Unlock()
		return completed
	}
	s.mu.Lock()
	s.last = target
	s.mu.Unlock()

	r := &Rotation{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		r.err = s.w.RotateTo(target)
		if r.err != nil {
			// position is unknown now, re-command next time
			s.Forget()
		}
	}()
	return r
}
