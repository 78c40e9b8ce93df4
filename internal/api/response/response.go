// Package response renders errors for the HTTP gateway, the management API
// and the WebSocket bridge in one shape:
//
//	{"error": {"kind": "not_loaded", "message": "lapp 'echo' is not loaded", "lapp": "echo"}}
package response

import (
	"errors"
	"net/http"

	"github.com/GriffinCanCode/laplace/internal/domain/lapps"
	"github.com/GriffinCanCode/laplace/internal/runtime"
)

// Kinds not owned by the lapps manager
const (
	KindExportNotFound = "export_not_found"
	KindTrap           = "trap"
	KindMalformed      = "malformed"
	KindUnavailable    = "unavailable"
	KindBadRequest     = "bad_request"
	KindTooLarge       = "too_large"
	KindNotFound       = "not_found"
	KindInternal       = "internal"
)

var (
	// ErrNotFound reports a route or asset that does not exist
	ErrNotFound = errors.New("not found")
	// ErrTooLarge reports a request body over the limit
	ErrTooLarge = errors.New("request body too large")
	// ErrBadRequest reports a malformed request
	ErrBadRequest = errors.New("bad request")
)

// ErrorDetail is the body of every error response
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Lapp    string `json:"lapp,omitempty"`
}

// ErrorBody wraps ErrorDetail
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

var lappStatus = map[lapps.Kind]int{
	lapps.KindNotFound:         http.StatusNotFound,
	lapps.KindNotEnabled:       http.StatusConflict,
	lapps.KindNotLoaded:        http.StatusServiceUnavailable,
	lapps.KindAlreadyExists:    http.StatusConflict,
	lapps.KindAlreadyLoaded:    http.StatusConflict,
	lapps.KindStillLoaded:      http.StatusConflict,
	lapps.KindInvalidPackage:   http.StatusBadRequest,
	lapps.KindInitFailed:       http.StatusInternalServerError,
	lapps.KindPermissionDenied: http.StatusForbidden,
	lapps.KindNotSubscribed:    http.StatusConflict,
	lapps.KindTransport:        http.StatusBadGateway,
	lapps.KindLockUnusable:     http.StatusServiceUnavailable,
	lapps.KindInternal:         http.StatusInternalServerError,
}

// Classify maps an error to its HTTP status and kind
func Classify(err error) (int, string) {
	if kind := lapps.KindOf(err); kind != "" {
		if status, ok := lappStatus[kind]; ok {
			return status, string(kind)
		}
	}

	switch {
	case errors.Is(err, runtime.ErrExportNotFound):
		return http.StatusNotImplemented, KindExportNotFound
	case errors.Is(err, runtime.ErrResultMalformed):
		return http.StatusBadGateway, KindMalformed
	case errors.Is(err, runtime.ErrTrap):
		return http.StatusInternalServerError, KindTrap
	case errors.Is(err, runtime.ErrPoisoned), errors.Is(err, runtime.ErrClosed):
		return http.StatusServiceUnavailable, KindUnavailable
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, KindNotFound
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge, KindTooLarge
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, KindBadRequest
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

// Error builds the status and body for err
func Error(lapp string, err error) (int, ErrorBody) {
	status, kind := Classify(err)
	return status, ErrorBody{Error: ErrorDetail{Kind: kind, Message: err.Error(), Lapp: lapp}}
}
