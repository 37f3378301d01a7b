package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/xelth-com/yatrasync/internal/models"
)

// listDevices returns all scanners that have talked to the server
func (r *Router) listDevices(w http.ResponseWriter, req *http.Request) {
	devices, err := r.store.ListDevices(req.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch devices")
		return
	}
	respondJSON(w, http.StatusOK, devices)
}

// progress returns confirmed counts per checkpoint for the control room
func (r *Router) progress(w http.ResponseWriter, req *http.Request) {
	progress, err := r.store.Progress(req.Context())
	if err != nil {
		r.respondStoreError(w, "progress", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"checkpoints": progress})
}

// updateDeviceStatus blocks a lost scanner or reactivates it
func (r *Router) updateDeviceStatus(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	status := models.DeviceStatus(body.Status)
	if status != models.DeviceStatusActive && status != models.DeviceStatusBlocked {
		validationFailed(w, "status", "oneof=active blocked")
		return
	}

	if err := r.store.SetDeviceStatus(req.Context(), id, status); err != nil {
		r.respondStoreError(w, "update_device_status", err)
		return
	}

	r.log.WithFields(logrus.Fields{"device_id": id, "status": status}).Info("🔐 Device status changed")
	respondJSON(w, http.StatusOK, map[string]string{"deviceId": id, "status": string(status)})
}
