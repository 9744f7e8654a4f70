// Package apierr defines the stable error-kind taxonomy surfaced by every
// Port Daddy subsystem, mapped to both an HTTP status and a JSON code so
// the socket and HTTP transports compute the wire shape in exactly one
// place.
package apierr

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Code is a stable, client-visible error identifier.
type Code string

const (
	InvalidIdentity    Code = "InvalidIdentity"
	InvalidArgument    Code = "InvalidArgument"
	ValidationError    Code = "ValidationError"
	NotFound           Code = "NotFound"
	LockHeld           Code = "LockHeld"
	LockHeldByOther    Code = "LockHeldByOther"
	PortInUse          Code = "PortInUse"
	ResourceLimit      Code = "ResourceLimit"
	Timeout            Code = "Timeout"
	NoPortAvailable    Code = "NoPortAvailable"
	SubscribeRejected  Code = "SubscribeRejected"
	Forbidden          Code = "Forbidden"
	Internal           Code = "Internal"
)

var statusByCode = map[Code]int{
	InvalidIdentity:   http.StatusBadRequest,
	InvalidArgument:   http.StatusBadRequest,
	ValidationError:   http.StatusBadRequest,
	NotFound:          http.StatusNotFound,
	LockHeld:          http.StatusConflict,
	LockHeldByOther:   http.StatusConflict,
	PortInUse:         http.StatusConflict,
	ResourceLimit:     http.StatusConflict,
	Timeout:           http.StatusRequestTimeout,
	NoPortAvailable:   http.StatusServiceUnavailable,
	SubscribeRejected: http.StatusTooManyRequests,
	Forbidden:         http.StatusBadRequest,
	Internal:          http.StatusInternalServerError,
}

// Error is the typed error every subsystem operation returns on failure.
type Error struct {
	Code    Code
	Message string
	Extra   map[string]interface{}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Status returns the HTTP status that corresponds to the error's code.
func (e *Error) Status() int {
	if status, ok := statusByCode[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New constructs an *Error. extra, if provided, is merged into the JSON
// body (e.g. {"holder": "agent-a"} for LockHeld).
func New(code Code, message string, extra map[string]interface{}) *Error {
	return &Error{Code: code, Message: message, Extra: extra}
}

// As extracts an *Error from err, or wraps err as Internal if it isn't one.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*Error); ok {
		return apiErr
	}
	return &Error{Code: Internal, Message: err.Error()}
}

// WriteJSON writes the standard {error, code, ...extra} JSON body and HTTP
// status for err. Every transport funnels through this one function so the
// wire shape never drifts between the socket and HTTP listeners.
func WriteJSON(w http.ResponseWriter, err error) {
	apiErr := As(err)

	body := map[string]interface{}{
		"error": apiErr.Message,
		"code":  string(apiErr.Code),
	}
	for k, v := range apiErr.Extra {
		body[k] = v
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status())
	_ = json.NewEncoder(w).Encode(body)
}
