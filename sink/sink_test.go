package sink

import (
	"errors"
	"image"
	"sync"
	"testing"

	"github.com/nasa-jpl/filtercam/camera"
)

type mockExporter struct {
	sync.Mutex
	taken    map[int]bool
	exported []int
	fail     error
}

func (m *mockExporter) Export(f camera.Frame, seq, pad int) error {
	m.Lock()
	defer m.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.exported = append(m.exported, seq)
	return nil
}

func (m *mockExporter) Collides(seq, pad int) bool {
	m.Lock()
	defer m.Unlock()
	return m.taken[seq]
}

type mockDisplay struct {
	sync.Mutex
	shown map[string]int
	fail  bool
}

func (m *mockDisplay) Display(label string, f camera.Frame) error {
	m.Lock()
	defer m.Unlock()
	if m.shown == nil {
		m.shown = map[string]int{}
	}
	m.shown[label]++
	if m.fail {
		return errors.New("no screen")
	}
	return nil
}

func frame() camera.Frame {
	return camera.Frame{Image: image.NewGray16(image.Rect(0, 0, 2, 2)), Filter: "Red"}
}

func TestDispatchDisplaysBothViews(t *testing.T) {
	d := &mockDisplay{}
	e := &mockExporter{}
	s := New(e, d, nil, "full", "thumb")
	if err := s.Dispatch(frame(), false, 1, 1); err != nil {
		t.Fatal(err)
	}
	if d.shown["full"] != 1 || d.shown["thumb"] != 1 {
		t.Errorf("expected one display per view, got %v", d.shown)
	}
	if len(e.exported) != 0 {
		t.Error("preview frame should not be exported")
	}
}

func TestDispatchDisplayErrorsAreNotFatal(t *testing.T) {
	d := &mockDisplay{fail: true}
	e := &mockExporter{}
	s := New(e, d, nil, "full", "thumb")
	if err := s.Dispatch(frame(), true, 4, 1); err != nil {
		t.Fatalf("display error leaked into dispatch: %v", err)
	}
	if len(e.exported) != 1 || e.exported[0] != 4 {
		t.Errorf("expected frame 4 exported, got %v", e.exported)
	}
}

func TestDispatchExportFailureStillDisplays(t *testing.T) {
	d := &mockDisplay{}
	boom := errors.New("disk full")
	s := New(&mockExporter{fail: boom}, d, nil, "full", "thumb")
	if err := s.Dispatch(frame(), true, 1, 1); err != boom {
		t.Errorf("expected export error, got %v", err)
	}
	if d.shown["full"] != 1 {
		t.Error("frame was not displayed when export failed")
	}
}

func TestPreflight(t *testing.T) {
	var asked int
	tbl := []struct {
		name   string
		taken  bool
		answer bool
		err    error
		asks   int
	}{
		{"free name", false, false, nil, 0},
		{"accepted", true, true, nil, 1},
		{"declined", true, false, ErrExportDeclined, 1},
	}
	for _, tt := range tbl {
		asked = 0
		c := ConfirmFunc(func(string) bool { asked++; return tt.answer })
		s := New(&mockExporter{taken: map[int]bool{1: tt.taken}}, nil, c, "a", "b")
		if err := s.Preflight(2); err != tt.err {
			t.Errorf("%s: expected %v got %v", tt.name, tt.err, err)
		}
		if asked != tt.asks {
			t.Errorf("%s: expected %d prompts, got %d", tt.name, tt.asks, asked)
		}
	}
}
