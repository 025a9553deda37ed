package audit

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// ResultFromStatus: 2xx — success, 403 — denied, всё остальное — failure.
func ResultFromStatus(status int) Result {
	switch {
	case status >= 200 && status < 300:
		return ResultSuccess
	case status == http.StatusForbidden:
		return ResultDenied
	default:
		return ResultFailure
	}
}

// HTTPMiddleware пишет событие после того, как обработчик ответил.
// resource вызывается уже после роутинга, так что chi.URLParam в нём доступен.
func HTTPMiddleware(rec *Recorder, action Action, resource func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			rec.Record(r.Context(), FromRequest(r, action, resource(r), ResultFromStatus(status), ""))
		})
	}
}
