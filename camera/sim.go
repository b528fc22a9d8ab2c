package camera

import (
	"errors"
	"image"
	"math/rand"
	"sync"
	"time"

	"github.com/astrogo/fitsio"
)

var (
	// ErrHeld is returned by Sim.Capture when another agent holds the camera
	ErrHeld = errors.New("camera: held by another acquisition")
)

// Sim is a simulated camera which produces a noisy gradient after sleeping
// for the exposure time plus a fixed readout time.  It is concurrent safe.
type Sim struct {
	sync.Mutex
	width, height int
	readout       time.Duration
	exposure      time.Duration
	running       bool
	held          bool
	frames        int
	rng           *rand.Rand
}

// NewSim returns a simulated camera with the given resolution and readout time
func NewSim(width, height int, readout time.Duration) *Sim {
	return &Sim{
		width:   width,
		height:  height,
		readout: readout,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Hold simulates another program taking (true) or releasing (false) the camera
func (s *Sim) Hold(b bool) {
	s.Lock()
	defer s.Unlock()
	s.held = b
}

// IsReadyToRun returns true if no other agent holds the camera
func (s *Sim) IsReadyToRun() bool {
	s.Lock()
	defer s.Unlock()
	return !s.held
}

// IsRunning returns true while a capture is in progress or the camera is held
func (s *Sim) IsRunning() bool {
	s.Lock()
	defer s.Unlock()
	return s.running || s.held
}

// SetExposureTime sets the exposure time
func (s *Sim) SetExposureTime(d time.Duration) error {
	if d < 0 {
		return errors.New("camera: negative exposure time")
	}
	s.Lock()
	defer s.Unlock()
	s.exposure = d
	return nil
}

// Capture sleeps for the exposure and readout time and returns a frame
func (s *Sim) Capture() (Frame, error) {
	s.Lock()
	if s.held || s.running {
		s.Unlock()
		return Frame{}, ErrHeld
	}
	s.running = true
	texp := s.exposure
	s.Unlock()

	start := time.Now()
	time.Sleep(texp + s.readout)

	s.Lock()
	defer s.Unlock()
	s.running = false
	s.frames++
	img := image.NewGray16(image.Rect(0, 0, s.width, s.height))
	// signal scales with exposure so filter steps are visibly different
	scale := float64(texp.Milliseconds()+1) * 4
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			v := scale*float64(x+y)/float64(s.width+s.height) + s.rng.NormFloat64()*16 + 1000
			if v < 0 {
				v = 0
			} else if v > 65535 {
				v = 65535
			}
			i := img.PixOffset(x, y)
			img.Pix[i] = uint8(uint16(v) >> 8)
			img.Pix[i+1] = uint8(uint16(v))
		}
	}
	return Frame{Image: img, Exposure: texp, Start: start}, nil
}

// Stop aborts an acquisition in progress
func (s *Sim) Stop() error {
	s.Lock()
	defer s.Unlock()
	s.running = false
	return nil
}

// VariableExposure is always true for the simulator
func (s *Sim) VariableExposure() bool {
	return true
}

// CollectHeaderMetadata returns FITS cards describing the simulator
func (s *Sim) CollectHeaderMetadata() []fitsio.Card {
	s.Lock()
	defer s.Unlock()
	return []fitsio.Card{
		{Name: "CAMERA", Value: "simulated", Comment: "camera model"},
		{Name: "READOUT", Value: s.readout.Seconds(), Comment: "readout time, seconds"},
		{Name: "FRAMENUM", Value: s.frames, Comment: "frames taken since power on"},
	}
}
