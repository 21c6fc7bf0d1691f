package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	core "github.com/signalsfoundry/flowcanvas/core"
	"github.com/signalsfoundry/flowcanvas/kb"
)

func TestToStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{core.ErrNodeNotFound, http.StatusNotFound},
		{core.ErrEdgeNotFound, http.StatusNotFound},
		{kb.ErrDocumentNotFound, http.StatusNotFound},
		{ErrSessionNotFound, http.StatusNotFound},
		{ErrInvalidEntity, http.StatusBadRequest},
		{ErrBadMessage, http.StatusBadRequest},
		{core.ErrEndpointMiss, http.StatusBadRequest},
		{core.ErrSegmentRange, http.StatusBadRequest},
		{core.ErrEdgeExists, http.StatusConflict},
		{core.ErrDragActive, http.StatusConflict},
		{core.ErrNoDrag, http.StatusPreconditionFailed},
		{ErrUnauthorized, http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := ToStatusCode(tc.err); got != tc.want {
			t.Errorf("ToStatusCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestToStatusCodeUnwrapsWrappedErrors(t *testing.T) {
	err := fmt.Errorf("%w: %q", core.ErrEdgeNotFound, "e1")
	if got := ToStatusCode(err); got != http.StatusNotFound {
		t.Fatalf("ToStatusCode(wrapped) = %d, want 404", got)
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, fmt.Errorf("%w: %q", ErrSessionNotFound, "abc"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if body["error"] == "" {
		t.Fatal("error body missing the message")
	}
}
