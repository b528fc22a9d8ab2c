/*Package camera describes the interface the capture engine uses to drive a
camera, and the Frame type it produces.

Camera contains the bare minimum needed to run an exposure sequence.  A type
may also satisfy the optional ExposureVariabler and MetadataMaker interfaces,
which are discovered by type assertion.

*/
package camera

import (
	"image"
	"time"

	"github.com/astrogo/fitsio"
)

// Camera describes the camera collaborator of a capture run
type Camera interface {
	// IsReadyToRun returns true if the camera may begin an acquisition.
	// A camera which is owned by another agent is not ready.
	IsReadyToRun() bool

	// IsRunning returns true if an acquisition is in progress.
	IsRunning() bool

	// SetExposureTime sets the exposure time used by the next Capture
	SetExposureTime(time.Duration) error

	// Capture takes a single exposure and blocks until the frame is read out
	Capture() (Frame, error)

	// Stop aborts any acquisition in progress and releases the camera
	Stop() error
}

// ExposureVariabler is implemented by cameras which can report whether the
// exposure time may be changed between frames.  Cameras which do not
// implement it are assumed to support variable exposure.
type ExposureVariabler interface {
	VariableExposure() bool
}

// MetadataMaker can produce an array of FITS cards describing the camera
type MetadataMaker interface {
	// CollectHeaderMetadata produces an array of FITS cards
	CollectHeaderMetadata() []fitsio.Card
}

// Frame is a single 16-bit exposure and the conditions it was taken in
type Frame struct {
	// Image holds the pixel data
	Image *image.Gray16

	// Filter is the filter the wheel was commanded to for this frame
	Filter string

	// Exposure is the exposure time used
	Exposure time.Duration

	// Start is the time the capture began
	Start time.Time
}

// Empty returns true if the frame holds no pixel data
func (f Frame) Empty() bool {
	return f.Image == nil || len(f.Image.Pix) == 0
}

// SupportsVariableExposure reports if c can change exposure time between frames
func SupportsVariableExposure(c Camera) bool {
	if v, ok := interface{}(c).(ExposureVariabler); ok {
		return v.VariableExposure()
	}
	return true
}
