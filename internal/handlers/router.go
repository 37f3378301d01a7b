package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/xelth-com/yatrasync/internal/buildinfo"
	"github.com/xelth-com/yatrasync/internal/middleware"
	"github.com/xelth-com/yatrasync/internal/models"
	"github.com/xelth-com/yatrasync/internal/store"
	"github.com/xelth-com/yatrasync/internal/websocket"
)

// Router wraps the mux router and the authoritative store
type Router struct {
	*mux.Router
	store *store.ScanStore
	hub   *websocket.Hub
	log   logrus.FieldLogger
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(s *store.ScanStore, hub *websocket.Hub, jwtSecret string, logger logrus.FieldLogger) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		store:  s,
		hub:    hub,
		log:    logger.WithField("component", "http"),
	}

	deviceAuth := middleware.DeviceAuth(jwtSecret, s, logger)
	adminAuth := middleware.AdminAuth(jwtSecret)

	// Health check endpoint, also used by devices as connectivity check
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Operator routes are registered first so they win over the device subrouter
	admin := func(h http.HandlerFunc) http.Handler { return adminAuth(h) }
	r.Handle("/api/participants/import", admin(r.importParticipants)).Methods("POST")
	r.Handle("/api/checkpoints/import", admin(r.importCheckpoints)).Methods("POST")
	r.Handle("/api/participants/badges.pdf", admin(r.badgesPDF)).Methods("GET")
	r.Handle("/api/progress", admin(r.progress)).Methods("GET")
	r.Handle("/api/devices", admin(r.listDevices)).Methods("GET")
	r.Handle("/api/devices/{id}/status", admin(r.updateDeviceStatus)).Methods("PUT")

	// Device routes
	api := r.PathPrefix("/api").Subrouter()
	api.Use(deviceAuth)
	api.HandleFunc("/scans", r.createScan).Methods("POST")
	api.HandleFunc("/scans", r.listScans).Methods("GET")
	api.HandleFunc("/participants", r.listParticipants).Methods("GET")
	api.HandleFunc("/participants/{id}/qr", r.participantQR).Methods("GET")
	api.HandleFunc("/checkpoints", r.listCheckpoints).Methods("GET")
	api.HandleFunc("/snapshot", r.snapshot).Methods("GET")

	r.Handle("/ws", deviceAuth(http.HandlerFunc(r.serveWs))).Methods("GET")

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"time":    time.Now().UTC(),
		"version": buildinfo.String(),
		"started": buildinfo.StartTime,
		"clients": r.hub.ClientCount(),
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondStoreError maps the store error taxonomy onto status codes
func (r *Router) respondStoreError(w http.ResponseWriter, op string, err error) {
	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  err.Error(),
			"fields": ve.Fields,
		})
	case errors.Is(err, models.ErrRejected):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case store.IsNotFound(err):
		respondError(w, http.StatusNotFound, "Not found")
	default:
		r.log.WithError(err).WithField("op", op).Error("❌ Store failure")
		respondError(w, http.StatusServiceUnavailable, "Store unavailable")
	}
}

func validationFailed(w http.ResponseWriter, field, rule string) {
	respondJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":  "validation failed",
		"fields": map[string]string{field: rule},
	})
}

// parseSince reads the optional ?since= parameter
func parseSince(req *http.Request) (time.Time, error) {
	raw := req.URL.Query().Get("since")
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
