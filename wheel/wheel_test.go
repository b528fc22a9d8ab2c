package wheel_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nasa-jpl/filtercam/wheel"
)

// countingWheel reports a fixed position and counts RotateTo calls
type countingWheel struct {
	sync.Mutex
	current string
	calls   int
	block   chan struct{}
	fail    error
}

func (c *countingWheel) CurrentFilter() (string, error) {
	c.Lock()
	defer c.Unlock()
	return c.current, nil
}

func (c *countingWheel) MustRotate(target string) bool {
	c.Lock()
	defer c.Unlock()
	return c.current != target
}

func (c *countingWheel) RotateTo(target string) error {
	if c.block != nil {
		<-c.block
	}
	c.Lock()
	defer c.Unlock()
	c.calls++
	if c.fail != nil {
		return c.fail
	}
	c.current = target
	return nil
}

func TestNoRotationIsComplete(t *testing.T) {
	w := &countingWheel{current: "Red"}
	s := wheel.NewSynchronizer(w)
	r := s.BeginRotation("Red")
	select {
	case <-r.Done():
	default:
		t.Fatal("rotation to the current filter should already be complete")
	}
	if err := r.Join(); err != nil {
		t.Fatal(err)
	}
	if w.calls != 0 {
		t.Errorf("expected no RotateTo calls, got %d", w.calls)
	}
}

func TestTracksCommandedFilterNotHardware(t *testing.T) {
	w := &countingWheel{current: "Red"}
	s := wheel.NewSynchronizer(w)
	if err := s.BeginRotation("Blue").Join(); err != nil {
		t.Fatal(err)
	}
	// the hardware lies about its position; the synchronizer must not care
	w.Lock()
	w.current = "Red"
	w.Unlock()
	if s.NeedsRotation("Blue") {
		t.Error("NeedsRotation should compare against the last commanded filter")
	}
	if !s.NeedsRotation("Red") {
		t.Error("NeedsRotation(Red) should be true after commanding Blue")
	}
}

func TestRotationRunsConcurrently(t *testing.T) {
	w := &countingWheel{current: "Red", block: make(chan struct{})}
	s := wheel.NewSynchronizer(w)
	r := s.BeginRotation("Green")
	select {
	case <-r.Done():
		t.Fatal("rotation finished before the wheel was released")
	case <-time.After(10 * time.Millisecond):
	}
	close(w.block)
	if err := r.Join(); err != nil {
		t.Fatal(err)
	}
	if w.calls != 1 {
		t.Errorf("expected one RotateTo call, got %d", w.calls)
	}
}

func TestFailedRotationIsRetried(t *testing.T) {
	boom := errors.New("stalled")
	w := &countingWheel{current: "Red", fail: boom}
	s := wheel.NewSynchronizer(w)
	if err := s.BeginRotation("Blue").Join(); !errors.Is(err, boom) {
		t.Fatalf("expected the wheel error from Join, got %v", err)
	}
	w.Lock()
	w.fail = nil
	w.Unlock()
	if err := s.BeginRotation("Blue").Join(); err != nil {
		t.Fatal(err)
	}
	if w.calls != 2 {
		t.Errorf("expected the wheel to be re-commanded after a failure, got %d calls", w.calls)
	}
}

func TestSimShortestPath(t *testing.T) {
	w := wheel.NewSim([]string{"A", "B", "C", "D", "E", "F"}, 20*time.Millisecond)
	start := time.Now()
	if err := w.RotateTo("F"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 70*time.Millisecond {
		t.Error("A->F should move one slot backwards, not five forwards")
	}
	cur, _ := w.CurrentFilter()
	if cur != "F" {
		t.Errorf("expected F in the beam, got %s", cur)
	}
	var unk wheel.ErrUnknownFilter
	if err := w.RotateTo("Z"); !errors.As(err, &unk) {
		t.Errorf("expected ErrUnknownFilter, got %v", err)
	}
}
