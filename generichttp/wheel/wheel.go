// Package wheel provides an HTTP interface to a filter wheel for manual use
// outside of a capture run
package wheel

import (
	"encoding/json"
	"errors"
	"go/types"
	"net/http"

	"github.com/nasa-jpl/filtercam/generichttp"
	"github.com/nasa-jpl/filtercam/orchestrator"
	"github.com/nasa-jpl/filtercam/wheel"
)

// StatusCode maps wheel errors to HTTP status codes
func StatusCode(err error) int {
	var unk wheel.ErrUnknownFilter
	switch {
	case errors.As(err, &unk):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrRunInProgress):
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

// Guard runs a manual move so that no capture run starts while it is in
// progress.  *orchestrator.Orchestrator is a Guard
type Guard interface {
	Exclusive(func() error) error
}

// HTTPWheel wraps a filter wheel in an HTTP interface
type HTTPWheel struct {
	Wheel wheel.Wheel

	// Guard, if not nil, runs every manual move
	Guard Guard

	// Sync, if not nil, is told to forget its commanded filter after a
	// manual move so the next run re-commands the wheel
	Sync *wheel.Synchronizer

	RouteTable generichttp.RouteTable
}

// NewHTTPWheel returns a new HTTP wrapper.  g and s may be nil
func NewHTTPWheel(w wheel.Wheel, g Guard, s *wheel.Synchronizer) HTTPWheel {
	h := HTTPWheel{Wheel: w, Guard: g, Sync: s}
	h.RouteTable = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/filter"}:  generichttp.GetString(w.CurrentFilter),
		{Method: http.MethodPost, Path: "/filter"}: generichttp.SetString(h.rotate, StatusCode),
		{Method: http.MethodGet, Path: "/inpos"}:   InPosition(w),
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPWheel) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPWheel) rotate(target string) error {
	move := func() error {
		if h.Sync != nil {
			defer h.Sync.Forget()
		}
		return h.Wheel.RotateTo(target)
	}
	if h.Guard == nil {
		return move()
	}
	return h.Guard.Exclusive(move)
}

// InPosition returns {'bool': true} if the filter named by the filter query
// parameter is in the beam
func InPosition(w wheel.Wheel) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("filter")
		if target == "" {
			http.Error(rw, "filter query parameter is required", http.StatusBadRequest)
			return
		}
		hp := generichttp.HumanPayload{T: types.Bool, Bool: !w.MustRotate(target)}
		hp.EncodeAndRespond(rw, r)
	}
}

// Filters is the body of a list of installed filters
type Filters struct {
	Filters []string `json:"filters"`
}

// Lister is implemented by wheels which can list their filters
type Lister interface {
	Filters() []string
}

// HTTPList adds a route listing the installed filters to the table
func HTTPList(l Lister, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/filters"}] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Filters{Filters: l.Filters()})
	}
}
