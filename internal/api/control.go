package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"arbd/internal/bus"
	"arbd/pkg/types"
)

// RiskControl is the narrow slice of risk.Controller the operator
// surface needs. Kept as an interface so this package never imports
// internal/risk directly for anything beyond the Snapshot type.
type RiskControl interface {
	HaltVenue(venue types.Venue)
	ResumeVenue(venue types.Venue)
}

// PairControl is the narrow slice of registry.Registry the operator
// surface needs.
type PairControl interface {
	SetPairActive(pairID string, active bool)
}

// ControlHandlers implements the operator control surface named in
// §6: halt/resume a venue, or deactivate a pair. The halt and resume
// handlers publish the corresponding bus event so every observer
// (including the operator's own dashboard) sees the action take effect;
// deactivating a pair publishes no bus event.
type ControlHandlers struct {
	risk     RiskControl
	registry PairControl
	bus      *bus.Bus
	logger   *slog.Logger
}

// NewControlHandlers wires the operator control surface.
func NewControlHandlers(risk RiskControl, registry PairControl, b *bus.Bus, logger *slog.Logger) *ControlHandlers {
	return &ControlHandlers{risk: risk, registry: registry, bus: b, logger: logger.With("component", "api-control")}
}

type venueRequest struct {
	Venue string `json:"venue"`
}

type pairRequest struct {
	PairID string `json:"pair_id"`
}

// HandleHalt forces a venue down, refusing new admissions until resumed.
func (h *ControlHandlers) HandleHalt(w http.ResponseWriter, r *http.Request) {
	var req venueRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	venue := types.Venue(req.Venue)
	h.risk.HaltVenue(venue)
	h.bus.Publish(bus.Event{Type: bus.HaltRequested, Venue: string(venue), Reason: "operator"})
	h.logger.Warn("venue halted by operator", "venue", venue)
	w.WriteHeader(http.StatusOK)
}

// HandleResume clears a venue's halted flag.
func (h *ControlHandlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	var req venueRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	venue := types.Venue(req.Venue)
	h.risk.ResumeVenue(venue)
	h.bus.Publish(bus.Event{Type: bus.ResumeRequested, Venue: string(venue), Reason: "operator"})
	h.logger.Info("venue resumed by operator", "venue", venue)
	w.WriteHeader(http.StatusOK)
}

// HandleDeactivatePair flips a pair's active flag off. Per the design
// decision on the open question in §9, this never cancels an in-flight
// hedge for the pair; it only refuses new admissions going forward.
func (h *ControlHandlers) HandleDeactivatePair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	h.registry.SetPairActive(req.PairID, false)
	h.logger.Info("pair deactivated by operator", "pair_id", req.PairID)
	w.WriteHeader(http.StatusOK)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
