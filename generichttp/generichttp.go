// Package generichttp defines the route table, JSON payload types, and
// small handler generators shared by the HTTP wrappers in this module
package generichttp

import (
	"encoding/json"
	"go/types"
	"net/http"
)

// StatusCoder maps an error to an HTTP status code.  Wrappers provide one
// so that precondition failures and locks are not all reported as 500
type StatusCoder func(error) int

// InternalError is the StatusCoder that reports every error as a 500
func InternalError(error) int {
	return http.StatusInternalServerError
}

// GetString calls a string-getting function and returns the response
// as json {'str': value}
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := HumanPayload{T: types.String, String: s}
		hp.EncodeAndRespond(w, r)
	}
}

// SetString parses a JSON input of {'str': value} and
// calls fcn with it.  Errors from fcn are coded by code
func SetString(fcn func(string) error, code StatusCoder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := StrT{}
		err := json.NewDecoder(r.Body).Decode(&s)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(s.Str)
		if err != nil {
			http.Error(w, err.Error(), code(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hp := HumanPayload{T: types.Bool, Bool: fcn()}
		hp.EncodeAndRespond(w, r)
	}
}

// SetInt parses a JSON input of {'int': value} and
// calls fcn with it.  Errors from fcn are coded by code
func SetInt(fcn func(int) error, code StatusCoder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i := IntT{}
		err := json.NewDecoder(r.Body).Decode(&i)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(i.Int)
		if err != nil {
			http.Error(w, err.Error(), code(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Command calls a no-argument function on a POST.
// Errors from fcn are coded by code
func Command(fcn func() error, code StatusCoder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fcn()
		if err != nil {
			http.Error(w, err.Error(), code(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
