package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/duskwatch/duskwatch/internal/status"
	apperrors "github.com/duskwatch/duskwatch/pkg/errors"
	"github.com/duskwatch/duskwatch/pkg/logger"
)

// GetStatus returns the current run status snapshot.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cell.Current())
}

// StartRun marks a collection run as active.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cell.Start())
}

// StopRun marks the run as stopped.
func (h *Handler) StopRun(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cell.Stop())
}

// CheckRun acknowledges the current state without changing it.
func (h *Handler) CheckRun(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cell.Check())
}

type cooldownRequest struct {
	Minutes int `json:"minutes"`
}

// CooldownRun pauses collection for a bounded number of minutes.
func (h *Handler) CooldownRun(w http.ResponseWriter, r *http.Request) {
	var req cooldownRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Minutes < 1 || req.Minutes > 1440 {
		h.writeError(w, r, apperrors.New(apperrors.ErrValidation, 400, "minutes must be between 1 and 1440"))
		return
	}
	writeJSON(w, http.StatusOK, h.cell.Cooldown(req.Minutes))
}

// Events streams status and data updates to the client as server-sent
// events. The stream opens with the current status snapshot and stays up
// until the client disconnects.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	events, cancel := h.broker.Subscribe(status.TopicStatusUpdates, status.TopicDataUpdates)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	log := logger.FromContext(r.Context())
	log.Info("event stream opened")

	writeEvent(w, status.Event{Topic: status.TopicStatusUpdates, Payload: h.cell.Current()})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			log.Info("event stream closed")
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			writeEvent(w, event)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event status.Event) {
	data, err := json.Marshal(event.Payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Topic, data)
}
