// Package imgrec contains an image recorder used to save the frames of a
// capture run to disk as FITS files.
package imgrec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/nasa-jpl/filtercam/camera"
	"github.com/snksoft/crc"
)

// maxMarker bounds the search for a free disambiguated filename
const maxMarker = 1000

var (
	// ErrNoFreeName is returned when every disambiguated name is taken
	ErrNoFreeName = errors.New("imgrec: no free filename")

	// ErrEmptyFrame is returned when asked to export a frame with no pixels
	ErrEmptyFrame = errors.New("imgrec: frame has no pixel data")
)

// Recorder records frames with zero padded, sequence numbered filenames in
// yyyy-mm-dd subfolders of Root.  A name which already exists is never
// overwritten; a _N marker is appended instead.  It is concurrent safe.
type Recorder struct {
	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	mu       sync.Mutex
	timeFldr string
	runID    string
	cards    []fitsio.Card

	now func() time.Time
}

// New returns a recorder writing under root with the filename prefix
func New(root, prefix string) *Recorder {
	return &Recorder{Root: root, Prefix: prefix, now: time.Now}
}

// updateFolder checks the current time and updates the folder as needed
func (r *Recorder) updateFolder() {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	t := now()
	r.timeFldr = fmt.Sprintf("%04d-%02d-%02d", t.Year(), t.Month(), t.Day())
}

// mkDir makes the folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := filepath.Join(r.Root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// BeginRun sets the run id and extra header cards stamped into every
// subsequent file
func (r *Recorder) BeginRun(id string, cards []fitsio.Card) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runID = id
	r.cards = append([]fitsio.Card(nil), cards...)
}

// name is the undisambiguated filename for a sequence number
func (r *Recorder) name(seq, pad int) string {
	return fmt.Sprintf("%s%0*d", r.Prefix, pad, seq)
}

// candidate returns the first free path for seq in the current folder and
// true if it had to be disambiguated.  The caller must hold the lock.
func (r *Recorder) candidate(seq, pad int) (string, bool, error) {
	r.updateFolder()
	fldr := filepath.Join(r.Root, r.timeFldr)
	base := r.name(seq, pad)
	p := filepath.Join(fldr, base+".fits")
	if !exists(p) {
		return p, false, nil
	}
	for i := 1; i <= maxMarker; i++ {
		p = filepath.Join(fldr, fmt.Sprintf("%s_%d.fits", base, i))
		if !exists(p) {
			return p, true, nil
		}
	}
	return "", true, ErrNoFreeName
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// Candidate returns the path the frame with seq would be written to now,
// and true if the plain name was taken
func (r *Recorder) Candidate(seq, pad int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, renamed, _ := r.candidate(seq, pad)
	return p, renamed
}

// Collides returns true if the plain name for seq already exists
func (r *Recorder) Collides(seq, pad int) bool {
	_, renamed := r.Candidate(seq, pad)
	return renamed
}

// Export writes f as sequence number seq.  Partially written files are removed.
func (r *Recorder) Export(f camera.Frame, seq, pad int) error {
	if f.Empty() {
		return ErrEmptyFrame
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateFolder()
	if _, err := r.mkDir(); err != nil {
		return err
	}
	p, _, err := r.candidate(seq, pad)
	if err != nil {
		return err
	}
	fid, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	err = WriteFits(fid, r.header(f, seq), f.Image)
	if cerr := fid.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(p)
		return fmt.Errorf("writing %s: %w", p, err)
	}
	return nil
}

// header builds the metadata cards for a frame.  The caller must hold the lock.
func (r *Recorder) header(f camera.Frame, seq int) []fitsio.Card {
	cards := []fitsio.Card{
		{Name: "FILTER", Value: f.Filter, Comment: "filter in the beam"},
		{Name: "EXPTIME", Value: f.Exposure.Seconds(), Comment: "exposure time, seconds"},
		{Name: "DATE-OBS", Value: f.Start.UTC().Format("2006-01-02T15:04:05.000"), Comment: "UTC start of exposure"},
		{Name: "SEQNUM", Value: seq, Comment: "1-based frame number in the run"},
		{Name: "DATACRC", Value: fmt.Sprintf("%08x", crc.CalculateCRC(crc.CRC32, f.Image.Pix)), Comment: "CRC-32 of big endian pixel data"},
	}
	if r.runID != "" {
		cards = append(cards, fitsio.Card{Name: "RUNID", Value: r.runID, Comment: "capture run identifier"})
	}
	return append(cards, r.cards...)
}
