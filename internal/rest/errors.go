package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pbinitiative/zenstep/internal/log"
	"github.com/pbinitiative/zenstep/pkg/process"
	"github.com/pbinitiative/zenstep/pkg/process/event"
	"github.com/pbinitiative/zenstep/pkg/process/loader"
	"github.com/pbinitiative/zenstep/pkg/process/model"
	"github.com/pbinitiative/zenstep/pkg/process/reference"
	"github.com/pbinitiative/zenstep/pkg/process/runtime"
)

type ApiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	CodeBadRequest = "BAD_REQUEST"
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"
	CodeError      = "ERROR"
)

var badRequestErrors = []error{
	model.ErrMalformedGraph,
	model.ErrInvalidAnnotation,
	model.ErrForeignElement,
	loader.ErrInvalidDocument,
	event.ErrInvalidEvent,
	runtime.ErrAmbiguousFlow,
	runtime.ErrUnknownSuccessor,
	runtime.ErrNoPredecessor,
	runtime.ErrNotCallable,
	runtime.ErrInstanceTerminated,
}

var notFoundErrors = []error{
	process.ErrUnknownInstance,
	process.ErrUnknownProcess,
	model.ErrUnknownElement,
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// errorStatus maps err to the response status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case isAny(err, badRequestErrors):
		return http.StatusBadRequest, CodeBadRequest
	case isAny(err, notFoundErrors):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, process.ErrDuplicateProcess):
		return http.StatusConflict, CodeConflict
	default:
		return http.StatusInternalServerError, CodeError
	}
}

// tolerated reports whether the operation succeeded apart from annotations that
// could not be resolved. Those failures are logged, not returned to the caller.
func tolerated(r *http.Request, err error) bool {
	if err == nil {
		return true
	}
	status, _ := errorStatus(err)
	var engineErr *process.EngineError
	if status != http.StatusInternalServerError || errors.As(err, &engineErr) || !errors.Is(err, reference.ErrUnresolvedReference) {
		return false
	}
	log.Warnf(r.Context(), "%s %s: annotations failed: %s", r.Method, r.URL.Path, err)
	return true
}

func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Errorf(r.Context(), "%s %s: %s", r.Method, r.URL.Path, err)
	}
	writeError(w, r, status, ApiError{
		Code:    code,
		Message: err.Error(),
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, resp interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body, err := json.Marshal(resp)
	if err != nil {
		log.Error("Server error: %s", err)
	} else {
		w.Write(body)
	}
}

func writeJson(w http.ResponseWriter, r *http.Request, status int, resp interface{}) {
	body, err := json.Marshal(resp)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, ApiError{Code: CodeError, Message: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
