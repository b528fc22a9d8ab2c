// Package capture provides an HTTP interface to the capture orchestrator,
// its views, and the filter sequence it runs
package capture

import (
	"bytes"
	"encoding/json"
	"errors"
	"go/types"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/nasa-jpl/filtercam/display"
	"github.com/nasa-jpl/filtercam/filterseq"
	"github.com/nasa-jpl/filtercam/generichttp"
	"github.com/nasa-jpl/filtercam/orchestrator"
	"github.com/nasa-jpl/filtercam/status"
)

var (
	// ErrSequenceLocked is returned when the sequence is edited during a run
	ErrSequenceLocked = errors.New("the filter sequence cannot be edited while a run is active")
)

// StatusCode maps orchestrator and sequence errors to HTTP status codes
func StatusCode(err error) int {
	var (
		h  *orchestrator.Halt
		is filterseq.ErrInvalidStep
	)
	switch {
	case errors.Is(err, ErrSequenceLocked):
		return http.StatusLocked
	case errors.Is(err, orchestrator.ErrInvalidFrameCount), errors.As(err, &is):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrEmptySequence),
		errors.Is(err, orchestrator.ErrCameraNotReady),
		errors.Is(err, orchestrator.ErrFixedExposure),
		errors.Is(err, orchestrator.ErrRunInProgress),
		errors.As(err, &h):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// HTTPCapture wraps an orchestrator in an HTTP interface
type HTTPCapture struct {
	Orch  *orchestrator.Orchestrator
	Seq   *filterseq.Sequence
	Board *display.Board

	RouteTable generichttp.RouteTable
}

// NewHTTPCapture returns a new HTTP wrapper
func NewHTTPCapture(o *orchestrator.Orchestrator, seq *filterseq.Sequence, b *display.Board) HTTPCapture {
	w := HTTPCapture{Orch: o, Seq: seq, Board: b}
	rt := generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/preview"}:     generichttp.Command(o.StartPreview, StatusCode),
		{Method: http.MethodPost, Path: "/save"}:        generichttp.SetInt(o.StartSave, StatusCode),
		{Method: http.MethodPost, Path: "/stop"}:        generichttp.Command(func() error { o.Stop(); return nil }, StatusCode),
		{Method: http.MethodGet, Path: "/state"}:        generichttp.GetString(func() (string, error) { return o.State().String(), nil }),
		{Method: http.MethodGet, Path: "/indicator"}:    generichttp.GetBool(o.Flashing),
		{Method: http.MethodGet, Path: "/status"}:       GetStatus(o.Status),
		{Method: http.MethodGet, Path: "/halt"}:         GetHalt(o),
		{Method: http.MethodGet, Path: "/sequence"}:     GetSequence(seq),
		{Method: http.MethodPost, Path: "/sequence"}:    SetSequence(o, seq),
		{Method: http.MethodGet, Path: "/view/{label}"}: GetView(b),
	}
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPCapture) RT() generichttp.RouteTable {
	return h.RouteTable
}

// StatusReply is the body of GET /status
type StatusReply struct {
	status.Status

	// Text is the formatted status with elapsed time
	Text string `json:"text"`

	// Elapsed is the time since the run started, in seconds
	Elapsed float64 `json:"elapsed"`
}

// GetStatus returns the latest status of the run as JSON
func GetStatus(r *status.Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		s, el := r.Current()
		reply := StatusReply{Status: s, Text: r.String(), Elapsed: el.Seconds()}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reply)
	}
}

// GetHalt returns the message of the last run to end as {'str': msg}.
// The string is empty if no run has ended
func GetHalt(o *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg := ""
		if rep, ok := o.LastReport(); ok {
			msg = rep.String()
		}
		hp := generichttp.HumanPayload{T: types.String, String: msg}
		hp.EncodeAndRespond(w, r)
	}
}

// GetSequence returns the steps of the sequence as a JSON array
func GetSequence(s *filterseq.Sequence) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Steps())
	}
}

// SetSequence replaces the steps of the sequence from a JSON array.
// It is refused with 423 unless the orchestrator is idle
func SetSequence(o *orchestrator.Orchestrator, s *filterseq.Sequence) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		steps := []filterseq.Step{}
		err := json.NewDecoder(r.Body).Decode(&steps)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if o.State() != orchestrator.Idle {
			http.Error(w, ErrSequenceLocked.Error(), StatusCode(ErrSequenceLocked))
			return
		}
		err = s.Set(steps)
		if err != nil {
			http.Error(w, err.Error(), StatusCode(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetView returns the latest image of the view named by the label URL
// parameter.  The format may be given as the fmt query parameter, jpg or
// png; default jpg
func GetView(b *display.Board) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		label := chi.URLParam(r, "label")
		format := r.URL.Query().Get("fmt")
		if format == "" {
			format = "jpg"
		}
		var ctype string
		switch format {
		case "jpg", "jpeg":
			ctype = "image/jpeg"
		case "png":
			ctype = "image/png"
		default:
			http.Error(w, "fmt must be jpg or png", http.StatusBadRequest)
			return
		}
		buf := &bytes.Buffer{}
		err := b.Encode(buf, label, format)
		if err != nil {
			var uv display.ErrUnknownView
			if errors.Is(err, display.ErrNoFrame) || errors.As(err, &uv) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", ctype)
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}
