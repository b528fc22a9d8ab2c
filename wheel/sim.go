package wheel

import (
	"fmt"
	"sync"
	"time"
)

// ErrUnknownFilter is returned when a filter is not installed in the wheel
type ErrUnknownFilter struct {
	Filter string
}

// Error satisfies stdlib error interface
func (e ErrUnknownFilter) Error() string {
	return fmt.Sprintf("filter %q is not installed in the wheel", e.Filter)
}

// Sim is a simulated wheel which takes perSlot to move one slot in either
// direction.  It is concurrent safe.
type Sim struct {
	sync.Mutex
	filters []string
	pos     int
	perSlot time.Duration
	moves   int
}

// NewSim returns a simulated wheel holding filters, with the first in the beam
func NewSim(filters []string, perSlot time.Duration) *Sim {
	return &Sim{filters: filters, perSlot: perSlot}
}

func (s *Sim) slot(name string) (int, error) {
	for i, f := range s.filters {
		if f == name {
			return i, nil
		}
	}
	return 0, ErrUnknownFilter{Filter: name}
}

// CurrentFilter returns the filter in the beam
func (s *Sim) CurrentFilter() (string, error) {
	s.Lock()
	defer s.Unlock()
	if len(s.filters) == 0 {
		return "", nil
	}
	return s.filters[s.pos], nil
}

// MustRotate returns true if target is not in the beam
func (s *Sim) MustRotate(target string) bool {
	s.Lock()
	defer s.Unlock()
	i, err := s.slot(target)
	return err != nil || i != s.pos
}

// RotateTo moves the shortest way around the wheel to target
func (s *Sim) RotateTo(target string) error {
	s.Lock()
	i, err := s.slot(target)
	if err != nil {
		s.Unlock()
		return err
	}
	n := len(s.filters)
	dist := (i - s.pos + n) % n
	if n-dist < dist {
		dist = n - dist
	}
	s.Unlock()

	time.Sleep(time.Duration(dist) * s.perSlot)

	s.Lock()
	defer s.Unlock()
	s.pos = i
	s.moves++
	return nil
}

// Moves returns the number of completed RotateTo calls
func (s *Sim) Moves() int {
	s.Lock()
	defer s.Unlock()
	return s.moves
}

// Filters returns the installed filters in slot order
func (s *Sim) Filters() []string {
	s.Lock()
	defer s.Unlock()
	return append([]string(nil), s.filters...)
}
