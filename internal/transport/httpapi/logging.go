package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// accessLog пишет одну запись logrus на запрос.
func accessLog(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			entry := logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      status,
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(started).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			})
			switch {
			case status >= http.StatusInternalServerError:
				entry.Error("http request")
			case status >= http.StatusBadRequest:
				entry.Warn("http request")
			default:
				entry.Info("http request")
			}
		})
	}
}
