package hub

import (
	"net/http"

	"github.com/signalsfoundry/flowcanvas/internal/logging"
)

const sessionIDHeader = "X-Session-Id"

// SessionIDMiddleware ensures a session_id is present on the request
// context, sourcing it from the inbound header if provided, and
// attaches a per-request logger annotated with session_id and route.
func SessionIDMiddleware(base logging.Logger, next http.Handler) http.Handler {
	if base == nil {
		base = logging.Noop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if incoming := r.Header.Get(sessionIDHeader); incoming != "" {
			ctx = logging.ContextWithSessionID(ctx, incoming)
		}

		ctx, reqLog := logging.WithSessionLogger(ctx, base.With(logging.String("route", r.URL.Path)))
		ctx = logging.ContextWithLogger(ctx, reqLog)

		w.Header().Set(sessionIDHeader, logging.SessionIDFromContext(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
