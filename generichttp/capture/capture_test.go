package capture

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/nasa-jpl/filtercam/camera"
	"github.com/nasa-jpl/filtercam/display"
	"github.com/nasa-jpl/filtercam/filterseq"
	"github.com/nasa-jpl/filtercam/generichttp"
	"github.com/nasa-jpl/filtercam/orchestrator"
	"github.com/nasa-jpl/filtercam/sink"
	"github.com/nasa-jpl/filtercam/wheel"
)

type nopExporter struct{}

func (nopExporter) Export(camera.Frame, int, int) error { return nil }
func (nopExporter) Collides(int, int) bool              { return false }

func setup(t *testing.T) (*httptest.Server, *orchestrator.Orchestrator, *filterseq.Sequence) {
	t.Helper()
	seq := &filterseq.Sequence{}
	board := display.NewBoard()
	cam := camera.NewSim(32, 16, time.Millisecond)
	whl := wheel.NewSim([]string{"Red", "Green", "Blue"}, time.Millisecond)
	s := sink.New(nopExporter{}, board, nil, display.Full, display.Thumb)
	o := orchestrator.New(cam, whl, s, seq)
	o.Status.Log = false

	h := NewHTTPCapture(o, seq, board)
	r := chi.NewRouter()
	h.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, o, seq
}

func post(t *testing.T, url, body string) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func getStr(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	s := generichttp.StrT{}
	if err = json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	return s.Str
}

func TestStatusCode(t *testing.T) {
	tbl := []struct {
		err  error
		code int
	}{
		{orchestrator.ErrInvalidFrameCount, http.StatusBadRequest},
		{filterseq.ErrInvalidStep{Reason: "no filter"}, http.StatusBadRequest},
		{orchestrator.ErrEmptySequence, http.StatusConflict},
		{orchestrator.ErrRunInProgress, http.StatusConflict},
		{&orchestrator.Halt{Reason: orchestrator.ExportFailure}, http.StatusConflict},
		{ErrSequenceLocked, http.StatusLocked},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tbl {
		if got := StatusCode(tt.err); got != tt.code {
			t.Errorf("%v: expected %d got %d", tt.err, tt.code, got)
		}
	}
}

func TestPreviewLifecycle(t *testing.T) {
	srv, o, _ := setup(t)
	if s := getStr(t, srv.URL+"/state"); s != "Idle" {
		t.Errorf("expected Idle, got %s", s)
	}
	if c := post(t, srv.URL+"/preview", ""); c != http.StatusConflict {
		t.Errorf("empty sequence: expected 409, got %d", c)
	}
	if c := post(t, srv.URL+"/sequence", `[{"filter":"Red","exposureMs":1,"repeat":0}]`); c != http.StatusBadRequest {
		t.Errorf("invalid step: expected 400, got %d", c)
	}
	if c := post(t, srv.URL+"/sequence", `[{"filter":"Red","exposureMs":1,"repeat":2},{"filter":"Blue","exposureMs":2,"repeat":1}]`); c != http.StatusOK {
		t.Fatalf("valid sequence: expected 200, got %d", c)
	}
	if c := post(t, srv.URL+"/save", `{"int":0}`); c != http.StatusBadRequest {
		t.Errorf("zero frames: expected 400, got %d", c)
	}
	resp, err := http.Get(srv.URL + "/view/full")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("view before any frame: expected 404, got %d", resp.StatusCode)
	}

	if c := post(t, srv.URL+"/preview", ""); c != http.StatusOK {
		t.Fatalf("preview: expected 200, got %d", c)
	}
	if c := post(t, srv.URL+"/preview", ""); c != http.StatusConflict {
		t.Errorf("second preview: expected 409, got %d", c)
	}
	if c := post(t, srv.URL+"/sequence", `[{"filter":"Green","exposureMs":1,"repeat":1}]`); c != http.StatusLocked {
		t.Errorf("edit during run: expected 423, got %d", c)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err = http.Get(srv.URL + "/view/thumb?fmt=png")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no frame displayed, last code %d", resp.StatusCode)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}

	if c := post(t, srv.URL+"/stop", ""); c != http.StatusOK {
		t.Errorf("stop: expected 200, got %d", c)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = o.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if msg := getStr(t, srv.URL+"/halt"); msg != "preview stopped" {
		t.Errorf("expected halt message, got %q", msg)
	}
}

func TestGetSequence(t *testing.T) {
	srv, _, seq := setup(t)
	if err := seq.Set([]filterseq.Step{{Filter: "Ha", ExposureMs: 100, Repeat: 3}}); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Get(srv.URL + "/sequence")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	steps := []filterseq.Step{}
	if err = json.NewDecoder(resp.Body).Decode(&steps); err != nil {
		t.Fatal(err)
	}
	if len(steps) != 1 || steps[0].Filter != "Ha" || steps[0].Repeat != 3 {
		t.Errorf("unexpected steps %+v", steps)
	}
}

func TestBadViewFormat(t *testing.T) {
	srv, _, _ := setup(t)
	resp, err := http.Get(srv.URL + "/view/full?fmt=bmp")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}
