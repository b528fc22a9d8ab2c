package orchestrator

import (
	"errors"
	"fmt"

	"github.com/nasa-jpl/filtercam/filterseq"
)

// State is the state of the orchestrator
type State int32

const (
	// Idle means no run is active
	Idle State = iota

	// Previewing means frames are captured and displayed
	Previewing

	// Saving means frames are captured, displayed, and exported
	Saving

	// Transitioning means the active mode is being switched
	Transitioning

	// Halted is held only while a halt is being handled
	Halted
)

// String satisfies fmt.Stringer
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Previewing:
		return "Previewing"
	case Saving:
		return "Saving"
	case Transitioning:
		return "Transitioning"
	case Halted:
		return "Halted"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Mode is the kind of run
type Mode int

const (
	// Preview runs until stopped and exports nothing
	Preview Mode = iota

	// Save runs for a fixed number of frames and exports each
	Save
)

// String satisfies fmt.Stringer
func (m Mode) String() string {
	if m == Save {
		return "save"
	}
	return "preview"
}

func (m Mode) state() State {
	if m == Save {
		return Saving
	}
	return Previewing
}

// HaltReason is the reason a run was halted
type HaltReason int

const (
	// UserRequested is an explicit stop or a declined confirmation
	UserRequested HaltReason = iota

	// ConcurrentCapture means another agent began using the camera
	ConcurrentCapture

	// ExportFailure means a frame could not be exported
	ExportFailure

	// HardwareFault means the camera or wheel returned an error
	HardwareFault
)

// String satisfies fmt.Stringer
func (r HaltReason) String() string {
	switch r {
	case UserRequested:
		return "UserRequested"
	case ConcurrentCapture:
		return "ConcurrentCapture"
	case ExportFailure:
		return "ExportFailure"
	case HardwareFault:
		return "HardwareFault"
	default:
		return fmt.Sprintf("HaltReason(%d)", int(r))
	}
}

var (
	// ErrEmptySequence is returned when a run is started with no filter steps
	ErrEmptySequence = filterseq.ErrEmptySequence

	// ErrCameraNotReady is returned when the camera is busy or held elsewhere
	ErrCameraNotReady = errors.New("camera is not ready or is already acquiring")

	// ErrFixedExposure is returned when the camera cannot change exposure between frames
	ErrFixedExposure = errors.New("camera does not support variable exposure time")

	// ErrRunInProgress is returned when a run of the requested mode is already active
	ErrRunInProgress = errors.New("a run is already in progress")

	// ErrInvalidFrameCount is returned by StartSave when n < 1
	ErrInvalidFrameCount = errors.New("frame count must be at least 1")
)

// Halt is the error describing a halted or aborted run
type Halt struct {
	Reason HaltReason
	Err    error
}

// Error satisfies stdlib error interface
func (h *Halt) Error() string {
	if h.Err != nil {
		return fmt.Sprintf("run halted (%s): %v", h.Reason, h.Err)
	}
	return fmt.Sprintf("run halted (%s)", h.Reason)
}

// Unwrap returns the underlying error
func (h *Halt) Unwrap() error {
	return h.Err
}

// Report is the single message produced when a run ends
type Report struct {
	RunID string

	Mode Mode

	// Completed is true if a save run captured its full frame count
	Completed bool

	// Reason is meaningful only if !Completed
	Reason HaltReason

	// Frames is the number of frames captured
	Frames int

	// Exported is the number of frames successfully exported
	Exported int

	Err error
}

// Halt returns the report as an error, or nil if the run completed
func (r Report) Halt() error {
	if r.Completed {
		return nil
	}
	return &Halt{Reason: r.Reason, Err: r.Err}
}

// String renders the user facing message
func (r Report) String() string {
	if r.Completed {
		return fmt.Sprintf("save complete: %d frames exported", r.Exported)
	}
	var msg string
	switch r.Reason {
	case UserRequested:
		msg = fmt.Sprintf("%s stopped", r.Mode)
	case ConcurrentCapture:
		msg = fmt.Sprintf("%s halted: another program started using the camera", r.Mode)
	case ExportFailure:
		msg = fmt.Sprintf("%s halted: a frame could not be saved", r.Mode)
	case HardwareFault:
		msg = fmt.Sprintf("%s halted: hardware error", r.Mode)
	default:
		msg = fmt.Sprintf("%s halted", r.Mode)
	}
	if r.Err != nil {
		msg += ": " + r.Err.Error()
	}
	if r.Mode == Save && r.Exported > 0 {
		msg += fmt.Sprintf("; the %d frames already saved are intact", r.Exported)
	}
	return msg
}
