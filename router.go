package offlinecache

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kilimo-guru/offline-cache/notify"
)

// ControlPrefix is the path prefix of the proxy's own endpoints.
const ControlPrefix = "/_proxy"

const maxPushBytes = 4 << 10

// NewRouter mounts the control endpoints and the metrics handler under ControlPrefix,
// in front of the proxy. Every other request goes to the proxy, so origin pages
// under ControlPrefix are not reachable through it.
func NewRouter(a *OfflineCache) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.logRequest)

	r.Route(ControlPrefix, func(r chi.Router) {
		r.Get("/status", a.handleStatus)
		r.Post("/sync", a.handleSync)
		r.Post("/push", a.handlePush)
		r.Post("/notifications/{id}/click", a.handleNotificationClick)
		r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	})
	r.Handle("/*", a)

	return r
}

func (a *OfflineCache) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.log.Debug().
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Str("sourceIp", getRequestSourceIp(r)).
			Str("requestId", middleware.GetReqID(r.Context())).
			Int("code", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Msg("Handled request")
	})
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}

func (a *OfflineCache) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.Status()
	if err != nil {
		a.log.Error().Err(err).Msg("Could not read bucket")
		http.Error(w, "Could not read bucket", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *OfflineCache) handleSync(w http.ResponseWriter, r *http.Request) {
	handled, err := a.Sync(r.Context(), r.URL.Query().Get("tag"))
	if err != nil {
		a.log.Error().Err(err).Msg("Sync failed")
		http.Error(w, "Sync failed", http.StatusInternalServerError)
		return
	}
	if !handled {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *OfflineCache) handlePush(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushBytes))
	if err != nil {
		http.Error(w, "Could not read push message", http.StatusRequestEntityTooLarge)
		return
	}
	n, err := a.Push(r.Context(), notify.PushMessage{
		Data: data,
		URL:  r.URL.Query().Get("url"),
	})
	if err != nil {
		a.log.Error().Err(err).Msg("Could not show notification")
		http.Error(w, "Could not show notification", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (a *OfflineCache) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	n, err := a.NotificationClick(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, notify.ErrNotFound) {
		http.Error(w, "Notification not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.log.Error().Err(err).Msg("Could not open window")
		http.Error(w, "Could not open window", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, n.Data.URL, http.StatusSeeOther)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
