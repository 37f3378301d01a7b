package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/xelth-com/yatrasync/internal/middleware"
	"github.com/xelth-com/yatrasync/internal/models"
	"github.com/xelth-com/yatrasync/internal/websocket"
)

// createScan is the idempotent create: 201 when the scan holds its pair
// (including replays of the same id), 200 when another scan already did.
func (r *Router) createScan(w http.ResponseWriter, req *http.Request) {
	var ev models.ScanEvent
	if err := json.NewDecoder(req.Body).Decode(&ev); err != nil {
		validationFailed(w, "body", "json")
		return
	}
	if ev.OriginDeviceID == "" {
		ev.OriginDeviceID, _ = middleware.DeviceIDFromContext(req.Context())
	}

	res, err := r.store.CreateScan(req.Context(), ev)
	if err != nil {
		r.respondStoreError(w, "create_scan", err)
		return
	}

	if res.Duplicate {
		respondJSON(w, http.StatusOK, res)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (r *Router) listScans(w http.ResponseWriter, req *http.Request) {
	since, err := parseSince(req)
	if err != nil {
		validationFailed(w, "since", "rfc3339")
		return
	}
	scans, err := r.store.ListScansSince(req.Context(), since)
	if err != nil {
		r.respondStoreError(w, "list_scans", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"scans": scans})
}

func (r *Router) snapshot(w http.ResponseWriter, req *http.Request) {
	snap, err := r.store.FullSnapshot(req.Context())
	if err != nil {
		r.respondStoreError(w, "snapshot", err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (r *Router) serveWs(w http.ResponseWriter, req *http.Request) {
	deviceID, _ := middleware.DeviceIDFromContext(req.Context())
	websocket.ServeWs(r.hub, deviceID, w, req)
}
