package orchestrator

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nasa-jpl/filtercam/camera"
	"github.com/nasa-jpl/filtercam/filterseq"
	"github.com/nasa-jpl/filtercam/sink"
)

// mockCamera counts calls and records the wheel position at each capture.
// Overlapping captures are counted rather than failed so the test can
// report them.
type mockCamera struct {
	sync.Mutex

	wheel *mockWheel
	delay time.Duration

	// runningAfter makes IsRunning report true once this many frames
	// have been captured, if > 0
	runningAfter int
	notReady     bool
	fixed        bool
	captureErr   error

	inCapture atomic.Int32
	overlaps  atomic.Int32
	captures  int
	stops     int
	filters   []string
	exposures []time.Duration
	exposure  time.Duration
}

func (c *mockCamera) IsReadyToRun() bool {
	c.Lock()
	defer c.Unlock()
	return !c.notReady
}

func (c *mockCamera) IsRunning() bool {
	if c.inCapture.Load() > 0 {
		return true
	}
	c.Lock()
	defer c.Unlock()
	return c.runningAfter > 0 && c.captures >= c.runningAfter
}

func (c *mockCamera) VariableExposure() bool {
	c.Lock()
	defer c.Unlock()
	return !c.fixed
}

// set runs fn with the camera locked, for changing its behavior while a
// run is active
func (c *mockCamera) set(fn func()) {
	c.Lock()
	defer c.Unlock()
	fn()
}

func (c *mockCamera) SetExposureTime(d time.Duration) error {
	c.Lock()
	defer c.Unlock()
	c.exposure = d
	return nil
}

func (c *mockCamera) Capture() (camera.Frame, error) {
	if c.inCapture.Add(1) > 1 {
		c.overlaps.Add(1)
	}
	defer c.inCapture.Add(-1)
	if c.captureErr != nil {
		return camera.Frame{}, c.captureErr
	}
	time.Sleep(c.delay)
	c.Lock()
	defer c.Unlock()
	c.captures++
	if c.wheel != nil {
		c.filters = append(c.filters, c.wheel.Current())
	}
	c.exposures = append(c.exposures, c.exposure)
	return camera.Frame{Image: image.NewGray16(image.Rect(0, 0, 2, 2))}, nil
}

func (c *mockCamera) Stop() error {
	c.Lock()
	defer c.Unlock()
	c.stops++
	return nil
}

func (c *mockCamera) Captures() int {
	c.Lock()
	defer c.Unlock()
	return c.captures
}

func (c *mockCamera) Stops() int {
	c.Lock()
	defer c.Unlock()
	return c.stops
}

// mockWheel moves instantly unless gate is non-nil, in which case every
// rotation blocks until gate is closed
type mockWheel struct {
	sync.Mutex
	cur   string
	delay time.Duration
	gate  chan struct{}
	moves int
}

func (w *mockWheel) Current() string {
	w.Lock()
	defer w.Unlock()
	return w.cur
}

func (w *mockWheel) CurrentFilter() (string, error) {
	return w.Current(), nil
}

func (w *mockWheel) MustRotate(target string) bool {
	return w.Current() != target
}

func (w *mockWheel) RotateTo(target string) error {
	if w.gate != nil {
		<-w.gate
	}
	time.Sleep(w.delay)
	w.Lock()
	defer w.Unlock()
	w.cur = target
	w.moves++
	return nil
}

type mockExporter struct {
	sync.Mutex
	failAt   int
	collides bool
	calls    int
	exported []int
}

func (e *mockExporter) Export(f camera.Frame, seq, pad int) error {
	e.Lock()
	defer e.Unlock()
	e.calls++
	if e.failAt > 0 && seq == e.failAt {
		return errors.New("disk full")
	}
	e.exported = append(e.exported, seq)
	return nil
}

func (e *mockExporter) Collides(seq, pad int) bool {
	return e.collides
}

func (e *mockExporter) Exported() []int {
	e.Lock()
	defer e.Unlock()
	return append([]int(nil), e.exported...)
}

type nullDisplay struct{}

func (nullDisplay) Display(string, camera.Frame) error { return nil }

type reports struct {
	sync.Mutex
	got []Report
}

func (r *reports) Notify(rep Report) {
	r.Lock()
	defer r.Unlock()
	r.got = append(r.got, rep)
}

func (r *reports) All() []Report {
	r.Lock()
	defer r.Unlock()
	return append([]Report(nil), r.got...)
}

type rig struct {
	o    *Orchestrator
	cam  *mockCamera
	whl  *mockWheel
	exp  *mockExporter
	rep  *reports
	seq  *filterseq.Sequence
	asks int
}

// newRig builds an orchestrator over mocks with the sequence
// Red x2, Green x1.  answer is given to every confirmation.
func newRig(t *testing.T, answer bool) *rig {
	t.Helper()
	seq, err := filterseq.New([]filterseq.Step{
		{Filter: "Red", ExposureMs: 10, Repeat: 2},
		{Filter: "Green", ExposureMs: 20, Repeat: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	r := &rig{
		whl: &mockWheel{},
		exp: &mockExporter{},
		rep: &reports{},
		seq: seq,
	}
	r.cam = &mockCamera{wheel: r.whl, delay: time.Millisecond}
	c := sink.ConfirmFunc(func(string) bool { r.asks++; return answer })
	s := sink.New(r.exp, nullDisplay{}, c, "a", "b")
	r.o = New(r.cam, r.whl, s, seq)
	r.o.Confirmer = c
	r.o.Notifier = r.rep
	r.o.FlashInterval = time.Millisecond
	r.o.Status.Log = false
	return r
}

func (r *rig) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.o.Wait(ctx); err != nil {
		t.Fatalf("orchestrator did not return to Idle: %v (state %s)", err, r.o.State())
	}
}

// waitFor polls cond until it is true or a deadline passes
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
