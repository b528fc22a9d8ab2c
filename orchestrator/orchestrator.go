/*Package orchestrator contains the capture engine which cycles a camera
through a filter sequence in preview or save mode.

Exactly one run loop is alive at any time.  Switching between preview and
save cancels the active loop and waits for it to exit before the new loop is
started, so the camera never sees two overlapping Capture calls.

Each loop iteration works on the frame just captured while the wheel moves
to the next filter:

	capture -> begin rotation -> export + display -> status -> set exposure -> join rotation

A run ends by completion (save mode only), by Stop, or by a halt.  A halt
stops the camera exactly once and produces a single Report.  Calls to
hardware are not bounded by timeouts; a hung device hangs the loop.
*/
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/google/uuid"
	"github.com/nasa-jpl/filtercam/camera"
	"github.com/nasa-jpl/filtercam/filterseq"
	"github.com/nasa-jpl/filtercam/sink"
	"github.com/nasa-jpl/filtercam/status"
	"github.com/nasa-jpl/filtercam/wheel"
)

// DefaultFlashInterval is the period of the mode switch indicator
const DefaultFlashInterval = 250 * time.Millisecond

// Sequencer provides a snapshot of the filter sequence
type Sequencer interface {
	Snapshot() ([]filterseq.Step, error)
}

// FrameSink receives captured frames
type FrameSink interface {
	// Preflight is called before the first capture of a save run
	Preflight(pad int) error

	// Dispatch displays f and, if toExport, exports it as frame seq
	Dispatch(f camera.Frame, toExport bool, seq, pad int) error
}

// RunBeginner is implemented by sinks which stamp a run identifier and
// camera metadata into exported frames
type RunBeginner interface {
	BeginRun(id string, cards []fitsio.Card)
}

// Confirmer asks the user a yes/no question
type Confirmer = sink.Confirmer

// Notifier is told once about the end of every run
type Notifier interface {
	Notify(Report)
}

// NotifyFunc adapts a function to a Notifier
type NotifyFunc func(Report)

// Notify calls f
func (f NotifyFunc) Notify(r Report) {
	f(r)
}

// Indicator shows that a mode switch is pending
type Indicator interface {
	Indicate(on bool)
}

// Outcome is one captured frame and where it sits in the run
type Outcome struct {
	Frame camera.Frame

	// Start is the time Capture was called
	Start time.Time

	// Shot is the index into the schedule
	Shot int

	// Sequence is the 1-based frame number in the run
	Sequence int

	step filterseq.Shot
}

type exitCause int32

const (
	causeNone exitCause = iota
	causeComplete
	causeTransition
	causeStop
)

// run is the state of one loop.  Fields below done are written only by the
// loop goroutine and may be read by others after done is closed.
type run struct {
	id    string
	mode  Mode
	sched filterseq.Schedule
	limit int
	pad   int

	cancel atomic.Bool
	cause  atomic.Int32
	done   chan struct{}

	frames   int
	exported int
	halted   bool
	report   Report
}

func newRun(mode Mode, sched filterseq.Schedule, limit, pad int) *run {
	return &run{
		id:    uuid.NewString(),
		mode:  mode,
		sched: sched,
		limit: limit,
		pad:   pad,
		done:  make(chan struct{}),
	}
}

// requestExit sets the cancellation flag.  The first cause wins.
func (r *run) requestExit(c exitCause) {
	r.cause.CompareAndSwap(int32(causeNone), int32(c))
	r.cancel.Store(true)
}

// Orchestrator is the capture engine.  Its exported fields should be set
// before the first command and not changed after.
type Orchestrator struct {
	Camera   camera.Camera
	Wheel    *wheel.Synchronizer
	Sink     FrameSink
	Sequence Sequencer
	Status   *status.Reporter

	Confirmer Confirmer
	Notifier  Notifier
	Indicator Indicator

	// PadWidth is the configured zero pad width of exported sequence numbers
	PadWidth int

	// FlashInterval is the period of the indicator during a mode switch
	FlashInterval time.Duration

	cmdMu sync.Mutex // serializes Start commands
	state atomic.Int32
	flash atomic.Bool

	mu          sync.Mutex
	cur         *run
	stopPending bool
	idle        chan struct{}
	last        *Report
}

// New returns an idle orchestrator
func New(cam camera.Camera, w wheel.Wheel, s FrameSink, seq Sequencer) *Orchestrator {
	idle := make(chan struct{})
	close(idle)
	return &Orchestrator{
		Camera:        cam,
		Wheel:         wheel.NewSynchronizer(w),
		Sink:          s,
		Sequence:      seq,
		Status:        status.NewReporter(time.Second),
		PadWidth:      4,
		FlashInterval: DefaultFlashInterval,
		idle:          idle,
	}
}

// PadWidth returns min(configured, ceil(log10(max(n,1)))), never less than 0
func PadWidth(configured, n int) int {
	if n < 1 {
		n = 1
	}
	w := int(math.Ceil(math.Log10(float64(n))))
	if configured < w {
		w = configured
	}
	if w < 0 {
		w = 0
	}
	return w
}

// State returns the current state
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Flashing returns the state of the mode switch indicator
func (o *Orchestrator) Flashing() bool {
	return o.flash.Load()
}

// LastReport returns the report of the most recent run, if any
func (o *Orchestrator) LastReport() (Report, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return Report{}, false
	}
	return *o.last, true
}

// Wait blocks until the orchestrator is Idle or ctx is done
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	ch := o.idle
	o.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// setStateLocked stores s and maintains the idle channel.  The caller must hold mu.
func (o *Orchestrator) setStateLocked(s State) {
	prev := State(o.state.Swap(int32(s)))
	if prev == s {
		return
	}
	if s == Idle {
		close(o.idle)
	} else if prev == Idle {
		o.idle = make(chan struct{})
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.setStateLocked(s)
}

// StartPreview begins capturing and displaying frames until stopped.
// If a save run is active it is switched to preview.
func (o *Orchestrator) StartPreview() error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()
	return o.start(Preview, 0)
}

// StartSave begins capturing, displaying and exporting n frames.  If a
// preview run is active it is switched to save.  If n is not a whole number
// of cycles the user is asked to confirm; declining returns a *Halt with
// Reason UserRequested.  Declining the renamed first file returns a *Halt
// with Reason ExportFailure.  Neither touches the hardware.
func (o *Orchestrator) StartSave(n int) error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()
	return o.start(Save, n)
}

// Stop requests the active run to halt.  It does not wait; use Wait.
// A Stop during a mode switch aborts the switch.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur == nil {
		return
	}
	if o.State() == Transitioning {
		o.stopPending = true
		return
	}
	o.cur.requestExit(causeStop)
}

// Exclusive runs fn while holding off StartPreview and StartSave, so fn
// may command the hardware without a run doing the same.  It returns
// ErrRunInProgress without calling fn unless the orchestrator is Idle.
func (o *Orchestrator) Exclusive(fn func() error) error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()
	if o.State() != Idle {
		return ErrRunInProgress
	}
	return fn()
}

func (o *Orchestrator) checkCamera() error {
	if !o.Camera.IsReadyToRun() || o.Camera.IsRunning() {
		return ErrCameraNotReady
	}
	if !camera.SupportsVariableExposure(o.Camera) {
		return ErrFixedExposure
	}
	return nil
}

// cameraHaltReason picks the halt reason for a failed camera check
func cameraHaltReason(err error) HaltReason {
	if errors.Is(err, ErrCameraNotReady) {
		return ConcurrentCapture
	}
	return HardwareFault
}

func (o *Orchestrator) confirm(prompt string) bool {
	if o.Confirmer == nil {
		return true
	}
	return o.Confirmer.Confirm(prompt)
}

func (o *Orchestrator) start(mode Mode, n int) error {
	steps, err := o.Sequence.Snapshot()
	if err != nil {
		return err
	}
	if mode == Save && n < 1 {
		return ErrInvalidFrameCount
	}
	st := o.State()
	switch st {
	case Idle:
		if err := o.checkCamera(); err != nil {
			return err
		}
	case Previewing, Saving:
		if st == mode.state() {
			return ErrRunInProgress
		}
	default:
		return ErrRunInProgress
	}

	sched := filterseq.ExpandToSchedule(steps)
	pad := 0
	if mode == Save {
		if !sched.CompletesCycles(n) {
			prompt := fmt.Sprintf("%d frames is not a whole number of %d shot cycles, the last cycle will be partial.  Continue?",
				n, sched.ShotsPerCycle())
			if !o.confirm(prompt) {
				return o.abort(st, mode, &Halt{Reason: UserRequested, Err: fmt.Errorf("partial final cycle declined")})
			}
		}
		pad = PadWidth(o.PadWidth, n)
		if err := o.Sink.Preflight(pad); err != nil {
			return o.abort(st, mode, &Halt{Reason: ExportFailure, Err: err})
		}
	}
	r := newRun(mode, sched, n, pad)
	if st == Idle {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.launchLocked(r)
		return nil
	}
	return o.transition(r)
}

// abort reports a run which was refused before any hardware action.
// A refused switch leaves the active run going, so only a refused start
// from st == Idle ends anything worth reporting.
func (o *Orchestrator) abort(st State, mode Mode, h *Halt) error {
	rep := Report{Mode: mode, Reason: h.Reason, Err: h.Err}
	log.Printf("%s run not started: %s\n", mode, rep)
	if st != Idle {
		return h
	}
	o.mu.Lock()
	o.last = &rep
	o.mu.Unlock()
	if o.Notifier != nil {
		o.Notifier.Notify(rep)
	}
	return h
}

// launchLocked starts the loop for r.  The caller must hold mu.
func (o *Orchestrator) launchLocked(r *run) {
	if r.mode == Save {
		if rb, ok := o.Sink.(RunBeginner); ok {
			var cards []fitsio.Card
			if mm, ok := o.Camera.(camera.MetadataMaker); ok {
				cards = mm.CollectHeaderMetadata()
			}
			rb.BeginRun(r.id, cards)
		}
	}
	o.Status.Reset()
	log.Printf("run %s: starting %s, %d steps, %d shots per cycle, target %d frames, pad %d\n",
		r.id, r.mode, r.sched.Steps(), r.sched.ShotsPerCycle(), r.limit, r.pad)
	o.cur = r
	o.stopPending = false
	o.setStateLocked(r.mode.state())
	go o.loop(r)
}

// transition cancels the active run, waits for its loop to exit while
// flashing the indicator, then launches next
func (o *Orchestrator) transition(next *run) error {
	o.mu.Lock()
	old := o.cur
	if old == nil {
		// the active run ended on its own since the state was read
		o.mu.Unlock()
		if err := o.checkCamera(); err != nil {
			return err
		}
		o.mu.Lock()
		defer o.mu.Unlock()
		o.launchLocked(next)
		return nil
	}
	o.stopPending = false
	o.setStateLocked(Transitioning)
	o.mu.Unlock()

	log.Printf("run %s: switching from %s to %s\n", old.id, old.mode, next.mode)
	old.requestExit(causeTransition)
	o.flashUntil(old.done)

	if old.halted {
		return old.report.Halt()
	}
	var h *Halt
	if err := o.checkCamera(); err != nil {
		h = &Halt{Reason: cameraHaltReason(err), Err: err}
	}
	o.mu.Lock()
	if o.stopPending {
		h = &Halt{Reason: UserRequested, Err: fmt.Errorf("mode switch cancelled")}
	}
	if h == nil {
		o.launchLocked(next)
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()
	o.halt(old, h)
	return h
}

func (o *Orchestrator) indicate(on bool) {
	o.flash.Store(on)
	if o.Indicator != nil {
		o.Indicator.Indicate(on)
	}
}

// flashUntil toggles the indicator every FlashInterval until done is closed
func (o *Orchestrator) flashUntil(done <-chan struct{}) {
	iv := o.FlashInterval
	if iv <= 0 {
		iv = DefaultFlashInterval
	}
	t := time.NewTicker(iv)
	defer t.Stop()
	on := true
	o.indicate(on)
	for {
		select {
		case <-done:
			o.indicate(false)
			return
		case <-t.C:
			on = !on
			o.indicate(on)
		}
	}
}

func (o *Orchestrator) loop(r *run) {
	defer close(r.done)
	h := o.iterate(r)
	if h == nil && exitCause(r.cause.Load()) == causeTransition {
		log.Printf("run %s: %s loop exited for mode switch after %d frames\n", r.id, r.mode, r.frames)
		return
	}
	if h != nil {
		o.halt(r, h)
		return
	}
	o.complete(r)
}

// iterate runs the capture loop for r and returns nil if it ended by
// completion or mode switch
func (o *Orchestrator) iterate(r *run) *Halt {
	persist := r.mode == Save
	idx := 0
	shot := r.sched.StepAt(idx)

	// prepare the first shot the same way the loop prepares the others
	rot := o.Wheel.BeginRotation(shot.Filter)
	if h := o.prepare(shot, rot); h != nil {
		return h
	}

	var pending *Outcome
	for {
		if r.cancel.Load() {
			if pending != nil {
				if err := o.flush(r, pending, persist); err != nil {
					return &Halt{Reason: ExportFailure, Err: err}
				}
			}
			if exitCause(r.cause.Load()) == causeStop {
				return &Halt{Reason: UserRequested}
			}
			return nil
		}
		if !o.Camera.IsReadyToRun() || o.Camera.IsRunning() {
			return &Halt{Reason: ConcurrentCapture, Err: ErrCameraNotReady}
		}

		start := time.Now()
		f, err := o.Camera.Capture()
		if err != nil {
			return &Halt{Reason: HardwareFault, Err: fmt.Errorf("capture: %w", err)}
		}
		if f.Start.IsZero() {
			f.Start = start
		}
		f.Filter = shot.Filter
		f.Exposure = shot.Exposure()
		r.frames++
		out := &Outcome{Frame: f, Start: start, Shot: idx, Sequence: r.frames, step: shot}

		if r.limit > 0 && r.frames >= r.limit {
			r.requestExit(causeComplete)
			pending = out
			continue
		}

		idx = (idx + 1) % r.sched.ShotsPerCycle()
		shot = r.sched.StepAt(idx)
		rot = o.Wheel.BeginRotation(shot.Filter)
		if err := o.flush(r, out, persist); err != nil {
			rot.Join()
			return &Halt{Reason: ExportFailure, Err: err}
		}
		if h := o.prepare(shot, rot); h != nil {
			return h
		}
	}
}

// prepare sets the exposure time for shot, then joins the rotation to it
func (o *Orchestrator) prepare(shot filterseq.Shot, rot *wheel.Rotation) *Halt {
	err := o.Camera.SetExposureTime(shot.Exposure())
	rerr := rot.Join()
	if err != nil {
		return &Halt{Reason: HardwareFault, Err: fmt.Errorf("setting exposure time: %w", err)}
	}
	if rerr != nil {
		return &Halt{Reason: HardwareFault, Err: fmt.Errorf("rotating to %s: %w", shot.Filter, rerr)}
	}
	return nil
}

// flush hands out to the sink and pushes status once it has been displayed
func (o *Orchestrator) flush(r *run, out *Outcome, persist bool) error {
	err := o.Sink.Dispatch(out.Frame, persist, out.Sequence, r.pad)
	if persist && err == nil {
		r.exported++
	}
	o.Status.Push(status.Status{
		Filter:    out.step.Filter,
		Exposure:  out.Frame.Exposure.Seconds(),
		Iteration: out.step.Iteration,
		Repeat:    out.step.Repeat,
		Frames:    out.Sequence,
	})
	return err
}

func (o *Orchestrator) report(r *run) Report {
	return Report{RunID: r.id, Mode: r.mode, Frames: r.frames, Exported: r.exported}
}

// halt stops the camera, resets the indicator, and reports.  It must be
// called by the loop goroutine of r or after r.done is closed.
func (o *Orchestrator) halt(r *run, h *Halt) {
	r.halted = true
	o.setState(Halted)
	if err := o.Camera.Stop(); err != nil {
		log.Printf("run %s: stopping camera: %v\n", r.id, err)
	}
	o.indicate(false)
	rep := o.report(r)
	rep.Reason = h.Reason
	rep.Err = h.Err
	o.end(r, rep)
}

func (o *Orchestrator) complete(r *run) {
	rep := o.report(r)
	rep.Completed = true
	o.end(r, rep)
}

// end records and delivers the report, then returns to Idle
func (o *Orchestrator) end(r *run, rep Report) {
	r.report = rep
	o.Status.Finish()
	log.Printf("run %s: %s\n", r.id, rep)
	o.mu.Lock()
	o.last = &rep
	o.mu.Unlock()
	if o.Notifier != nil {
		o.Notifier.Notify(rep)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur == r {
		o.cur = nil
	}
	o.setStateLocked(Idle)
}
