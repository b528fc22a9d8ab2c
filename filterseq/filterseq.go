/*Package filterseq holds the circular sequence of filter steps a capture run
cycles through, and its expansion into a flat per-shot schedule.

A Step is one (filter, exposure time, repeat count) entry.  A cycle is one
pass through every step in order; it contains Schedule.ShotsPerCycle() shots.
The sequence is circular, the successor of the last step is the first.

Runs never read a Sequence directly; they take a Snapshot at start and
expand it once with ExpandToSchedule.

*/
package filterseq

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

var (
	// ErrEmptySequence is returned by Snapshot when no steps are defined
	ErrEmptySequence = errors.New("filter sequence is empty, add at least one step")
)

// ErrInvalidStep is returned when a step violates the sequence invariants
type ErrInvalidStep struct {
	Position int
	Reason   string
}

// Error satisfies stdlib error interface
func (e ErrInvalidStep) Error() string {
	return fmt.Sprintf("filter step %d invalid: %s", e.Position, e.Reason)
}

// Step is one entry in the filter sequence
type Step struct {
	// Filter is the name of the filter on the wheel, e.g. "Red" or "Ha"
	Filter string `yaml:"Filter" json:"filter" koanf:"Filter"`

	// ExposureMs is the exposure time in milliseconds
	ExposureMs float64 `yaml:"ExposureMs" json:"exposureMs" koanf:"ExposureMs"`

	// Repeat is the number of consecutive shots taken with this step
	Repeat int `yaml:"Repeat" json:"repeat" koanf:"Repeat"`

	// Position is the 0-based index of the step in the sequence
	Position int `yaml:"-" json:"position" koanf:"-"`
}

// Exposure returns the exposure time as a duration
func (s Step) Exposure() time.Duration {
	return time.Duration(s.ExposureMs * float64(time.Millisecond))
}

// Validate checks the invariants of a single step
func (s Step) Validate() error {
	if s.Filter == "" {
		return ErrInvalidStep{Position: s.Position, Reason: "no filter"}
	}
	if s.Repeat < 1 {
		return ErrInvalidStep{Position: s.Position, Reason: fmt.Sprintf("repeat count %d < 1", s.Repeat)}
	}
	if s.ExposureMs < 0 {
		return ErrInvalidStep{Position: s.Position, Reason: fmt.Sprintf("exposure time %g ms < 0", s.ExposureMs)}
	}
	return nil
}

// Sequence is the editable list of steps.  It is concurrent safe.
type Sequence struct {
	mu    sync.RWMutex
	steps []Step
}

// New returns a sequence holding steps, or an error if any is invalid
func New(steps []Step) (*Sequence, error) {
	s := &Sequence{}
	return s, s.Set(steps)
}

// Set replaces the steps.  Positions are renumbered in slice order.
// On error the sequence is left unchanged.
func (s *Sequence) Set(steps []Step) error {
	cpy := make([]Step, len(steps))
	for i, st := range steps {
		st.Position = i
		if err := st.Validate(); err != nil {
			return err
		}
		cpy[i] = st
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = cpy
	return nil
}

// Steps returns a copy of the steps, which may be empty
func (s *Sequence) Steps() []Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Step, len(s.steps))
	copy(out, s.steps)
	return out
}

// Len returns the number of steps
func (s *Sequence) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.steps)
}

// Snapshot returns an ordered copy of the steps for a run.
// It returns ErrEmptySequence if there are none.
func (s *Sequence) Snapshot() ([]Step, error) {
	steps := s.Steps()
	if len(steps) == 0 {
		return nil, ErrEmptySequence
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Position < steps[j].Position })
	return steps, nil
}

type yamlSteps struct {
	Steps []Step `yaml:"Steps"`
}

// ParseYaml reads a document with a top level Steps list
func ParseYaml(r io.Reader) ([]Step, error) {
	doc := yamlSteps{}
	err := yaml.NewDecoder(r).Decode(&doc)
	if err != nil {
		return nil, err
	}
	for i := range doc.Steps {
		doc.Steps[i].Position = i
	}
	return doc.Steps, nil
}

// LoadYaml converts a (path to a) yaml file into a Sequence
func LoadYaml(path string) (*Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	steps, err := ParseYaml(f)
	if err != nil {
		return nil, err
	}
	return New(steps)
}
