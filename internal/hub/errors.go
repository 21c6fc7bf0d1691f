package hub

import (
	"encoding/json"
	"errors"
	"net/http"

	core "github.com/signalsfoundry/flowcanvas/core"
	"github.com/signalsfoundry/flowcanvas/kb"
)

var (
	// ErrInvalidEntity is a package-level sentinel used for client-side validation failures.
	ErrInvalidEntity = errors.New("invalid entity")
	// ErrSessionNotFound is returned when a session ID is unknown or expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrBadMessage is returned for websocket frames that cannot be decoded.
	ErrBadMessage = errors.New("bad message")
	// ErrUnauthorized is returned when token validation fails.
	ErrUnauthorized = errors.New("unauthorized")
)

// ToStatusCode maps engine and hub errors onto HTTP status codes.
func ToStatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}

	switch {
	case errors.Is(err, core.ErrNodeNotFound),
		errors.Is(err, core.ErrEdgeNotFound),
		errors.Is(err, kb.ErrDocumentNotFound),
		errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrInvalidEntity),
		errors.Is(err, ErrBadMessage),
		errors.Is(err, core.ErrNodeBadInput),
		errors.Is(err, core.ErrEdgeBadInput),
		errors.Is(err, core.ErrEmptyEdgeID),
		errors.Is(err, core.ErrEndpointMiss),
		errors.Is(err, core.ErrSegmentRange):
		return http.StatusBadRequest

	case errors.Is(err, core.ErrNodeExists),
		errors.Is(err, core.ErrEdgeExists),
		errors.Is(err, core.ErrDragActive):
		return http.StatusConflict

	case errors.Is(err, core.ErrNoDrag):
		return http.StatusPreconditionFailed

	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized

	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes a JSON error body with the mapped status code.
func WriteError(w http.ResponseWriter, err error) {
	code := ToStatusCode(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
