package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/xelth-com/yatrasync/internal/models"
	"github.com/xelth-com/yatrasync/internal/services/printer"
)

type participantsImport struct {
	Participants []models.Participant `json:"participants"`
}

type checkpointsImport struct {
	Checkpoints []models.Checkpoint `json:"checkpoints"`
}

func (r *Router) listParticipants(w http.ResponseWriter, req *http.Request) {
	since, err := parseSince(req)
	if err != nil {
		validationFailed(w, "since", "rfc3339")
		return
	}
	participants, err := r.store.ListParticipantsSince(req.Context(), since)
	if err != nil {
		r.respondStoreError(w, "list_participants", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"participants": participants})
}

// importParticipants bulk upserts participants, last write wins
func (r *Router) importParticipants(w http.ResponseWriter, req *http.Request) {
	var body participantsImport
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		validationFailed(w, "body", "json")
		return
	}

	n, err := r.store.UpsertParticipants(req.Context(), body.Participants)
	if err != nil {
		r.respondStoreError(w, "import_participants", err)
		return
	}
	r.log.WithField("count", n).Info("👥 Participants imported")
	respondJSON(w, http.StatusOK, map[string]int{"imported": n})
}

func (r *Router) importCheckpoints(w http.ResponseWriter, req *http.Request) {
	var body checkpointsImport
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		validationFailed(w, "body", "json")
		return
	}
	if err := r.store.UpsertCheckpoints(req.Context(), body.Checkpoints); err != nil {
		r.respondStoreError(w, "import_checkpoints", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"imported": len(body.Checkpoints)})
}

func (r *Router) listCheckpoints(w http.ResponseWriter, req *http.Request) {
	checkpoints, err := r.store.ListCheckpoints(req.Context())
	if err != nil {
		r.respondStoreError(w, "list_checkpoints", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"checkpoints": checkpoints})
}

// participantQR renders the badge QR so a badge can be reprinted or checked
func (r *Router) participantQR(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	p, err := r.store.ParticipantByID(req.Context(), id)
	if err != nil {
		r.respondStoreError(w, "participant_qr", err)
		return
	}

	size := 256
	if s, err := strconv.Atoi(req.URL.Query().Get("size")); err == nil && s >= 64 && s <= 1024 {
		size = s
	}

	png, err := printer.QRPNG(*p, size)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate QR")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Write(png)
}

// badgesPDF prints badge sheets for every participant
func (r *Router) badgesPDF(w http.ResponseWriter, req *http.Request) {
	participants, err := r.store.ListParticipantsSince(req.Context(), time.Time{})
	if err != nil {
		r.respondStoreError(w, "badges_pdf", err)
		return
	}
	if len(participants) == 0 {
		respondError(w, http.StatusNotFound, "No participants imported")
		return
	}

	cfg := printer.DefaultBadgeConfig()
	if title := req.URL.Query().Get("title"); title != "" {
		cfg.Title = title
	}

	pdfBytes, err := printer.GenerateBadgesPDF(participants, cfg)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to generate PDF: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"badges_%d.pdf\"", len(participants)))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdfBytes)))
	w.Write(pdfBytes)
}
