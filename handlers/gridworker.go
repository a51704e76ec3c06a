package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"p9e.in/gridops/config"
	"p9e.in/gridops/middleware"
)

// GridWorkerHandler serves the field-handler API: the worker's order queue,
// claiming, resolution feedback and escalation to the captain.
type GridWorkerHandler struct {
	store  WorkOrderStore
	engine *LifecycleEngine
}

func NewGridWorkerHandler() *GridWorkerHandler {
	store := NewWorkOrderStore(config.DB)
	return &GridWorkerHandler{
		store:  store,
		engine: NewLifecycleEngine(store, nil),
	}
}

// GetOrders handles GET /gridworker/orders: the worker's current orders
// plus ones they handled before a reassignment moved them elsewhere.
func (h *GridWorkerHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	handlerID, err := uuid.Parse(middleware.GetUserID(r))
	if err != nil {
		http.Error(w, "invalid user id in token", http.StatusUnauthorized)
		return
	}

	current, err := h.store.OrdersByHandler(r.Context(), handlerID)
	if err != nil {
		writeError(w, err)
		return
	}
	previous, err := h.store.PreviouslyHandledOrders(r.Context(), handlerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"current":  current,
		"previous": previous,
	})
}

type claimRequest struct {
	WorkID uuid.UUID `json:"workId"`
}

// ClaimOrder handles POST /gridworker/claim. At most one of any number of
// concurrent claimants wins; the rest get already_claimed.
func (h *GridWorkerHandler) ClaimOrder(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	handlerID, err := uuid.Parse(middleware.GetUserID(r))
	if err != nil {
		http.Error(w, "invalid user id in token", http.StatusUnauthorized)
		return
	}

	order, err := h.engine.Claim(r.Context(), req.WorkID, handlerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type feedbackRequest struct {
	WorkID    uuid.UUID `json:"workId"`
	Note      string    `json:"note"`
	ImageRefs []string  `json:"imageRefs"`
}

// SubmitFeedback handles POST /gridworker/feedback.
func (h *GridWorkerHandler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	handlerID, err := uuid.Parse(middleware.GetUserID(r))
	if err != nil {
		http.Error(w, "invalid user id in token", http.StatusUnauthorized)
		return
	}

	order, err := h.engine.SubmitFeedback(r.Context(), req.WorkID, handlerID, req.Note, req.ImageRefs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type reportRequest struct {
	WorkID uuid.UUID `json:"workId"`
}

// ReportToCaptain handles POST /gridworker/report.
func (h *GridWorkerHandler) ReportToCaptain(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	handlerID, err := uuid.Parse(middleware.GetUserID(r))
	if err != nil {
		http.Error(w, "invalid user id in token", http.StatusUnauthorized)
		return
	}

	if err := h.engine.ReportToCaptain(r.Context(), req.WorkID, handlerID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reported"})
}
