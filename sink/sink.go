/*Package sink fans each captured frame out to the two display views and, in
save mode, to the exporter.

Display is best effort; errors are logged and never stop a run.  Export is
synchronous, the caller learns of its success before Dispatch returns.
*/
package sink

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/astrogo/fitsio"
	"github.com/nasa-jpl/filtercam/camera"
)

var (
	// ErrExportDeclined is returned by Preflight when the user refuses the
	// disambiguated name of the first frame
	ErrExportDeclined = errors.New("sink: renamed output file declined")

	// ErrNoExporter is returned when asked to export with no exporter
	ErrNoExporter = errors.New("sink: no exporter configured")
)

// Exporter persists frames
type Exporter interface {
	// Export writes f as the seq'th frame of the run
	Export(f camera.Frame, seq, pad int) error

	// Collides returns true if the plain name for seq is already taken,
	// so that Export would have to disambiguate it
	Collides(seq, pad int) bool
}

// Candidater is implemented by exporters which can report the name they
// would choose for a frame
type Candidater interface {
	Candidate(seq, pad int) (string, bool)
}

// Displayer shows frames in labelled views
type Displayer interface {
	Display(label string, f camera.Frame) error
}

// Confirmer asks the user a yes/no question
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to a Confirmer
type ConfirmFunc func(string) bool

// Confirm calls f
func (f ConfirmFunc) Confirm(prompt string) bool {
	return f(prompt)
}

// Sink dispatches frames.  It holds no per-run state.
type Sink struct {
	Exporter  Exporter
	Displayer Displayer
	Confirmer Confirmer

	// Views are the two labels each frame is displayed in
	Views [2]string
}

// New returns a Sink displaying to the views named a and b
func New(e Exporter, d Displayer, c Confirmer, a, b string) *Sink {
	return &Sink{Exporter: e, Displayer: d, Confirmer: c, Views: [2]string{a, b}}
}

// BeginRun passes the run identifier and header cards to the exporter, if
// it records them
func (s *Sink) BeginRun(id string, cards []fitsio.Card) {
	if rb, ok := s.Exporter.(interface {
		BeginRun(string, []fitsio.Card)
	}); ok {
		rb.BeginRun(id, cards)
	}
}

// Preflight checks the first frame of a run for a filename collision and
// asks the user to accept the disambiguated name.  A nil Confirmer accepts.
func (s *Sink) Preflight(pad int) error {
	if s.Exporter == nil {
		return ErrNoExporter
	}
	if !s.Exporter.Collides(1, pad) {
		return nil
	}
	prompt := "a file for frame 1 already exists, save under a new name?"
	if c, ok := s.Exporter.(Candidater); ok {
		p, _ := c.Candidate(1, pad)
		prompt = fmt.Sprintf("a file for frame 1 already exists, save as %s instead?", p)
	}
	if s.Confirmer == nil || s.Confirmer.Confirm(prompt) {
		return nil
	}
	return ErrExportDeclined
}

// Dispatch shows f in both views and, if toExport, exports it as frame seq.
// Both views are updated before Dispatch returns.  The returned error is
// the export error, if any.
func (s *Sink) Dispatch(f camera.Frame, toExport bool, seq, pad int) error {
	var wg sync.WaitGroup
	if s.Displayer != nil {
		for _, label := range s.Views {
			if label == "" {
				continue
			}
			wg.Add(1)
			go func(label string) {
				defer wg.Done()
				if err := s.Displayer.Display(label, f); err != nil {
					log.Printf("display %s: %v\n", label, err)
				}
			}(label)
		}
	}
	var err error
	if toExport {
		if s.Exporter == nil {
			err = ErrNoExporter
		} else {
			err = s.Exporter.Export(f, seq, pad)
		}
	}
	wg.Wait()
	return err
}
