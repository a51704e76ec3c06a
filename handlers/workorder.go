package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"p9e.in/gridops/config"
	"p9e.in/gridops/middleware"
	"p9e.in/gridops/models"
)

// WorkOrderHandler serves the general work-order API: citizen submission,
// listing, detail, and the supervisory status update.
type WorkOrderHandler struct {
	store  WorkOrderStore
	engine *LifecycleEngine
}

// NewWorkOrderHandler builds the handler over the shared DB connection.
func NewWorkOrderHandler() *WorkOrderHandler {
	store := NewWorkOrderStore(config.DB)
	return &WorkOrderHandler{
		store:  store,
		engine: NewLifecycleEngine(store, nil),
	}
}

// CreateWorkOrderRequest is a citizen submission.
type CreateWorkOrderRequest struct {
	Description  string   `json:"description"`
	Address      string   `json:"address"`
	BuildingInfo string   `json:"buildingInfo"`
	ImageRefs    []string `json:"imageRefs"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
}

// CreateWorkOrder handles POST /workorders.
func (h *WorkOrderHandler) CreateWorkOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	submitterID, err := uuid.Parse(middleware.GetUserID(r))
	if err != nil {
		http.Error(w, "invalid user id in token", http.StatusUnauthorized)
		return
	}

	order, err := h.engine.Create(r.Context(), CreateOrderInput{
		SubmitterID:  submitterID,
		Description:  req.Description,
		Address:      req.Address,
		BuildingInfo: req.BuildingInfo,
		ImageRefs:    req.ImageRefs,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// WorkOrderDetail combines the order with its audit trail, feedback and
// the people involved.
type WorkOrderDetail struct {
	models.WorkOrder
	SubmitterName string                     `json:"submitterName,omitempty"`
	HandlerName   string                     `json:"handlerName,omitempty"`
	HandlerPhone  string                     `json:"handlerPhone,omitempty"`
	Logs          []models.WorkOrderLog      `json:"logs"`
	Feedback      []models.WorkOrderFeedback `json:"feedback"`
}

// GetWorkOrder handles GET /workorders/{id}.
func (h *WorkOrderHandler) GetWorkOrder(w http.ResponseWriter, r *http.Request) {
	workID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid work order id", http.StatusBadRequest)
		return
	}

	order, err := h.store.GetOrder(r.Context(), workID)
	if err != nil {
		writeError(w, err)
		return
	}
	logs, err := h.store.Logs(r.Context(), workID)
	if err != nil {
		writeError(w, err)
		return
	}
	feedback, err := h.store.FeedbackEntries(r.Context(), workID)
	if err != nil {
		writeError(w, err)
		return
	}

	detail := WorkOrderDetail{WorkOrder: *order, Logs: logs, Feedback: feedback}
	if submitter, err := h.store.UserByID(r.Context(), order.SubmitterID); err == nil {
		detail.SubmitterName = submitter.Name
	}
	if order.HandlerID != nil {
		if handler, err := h.store.UserByID(r.Context(), *order.HandlerID); err == nil {
			detail.HandlerName = handler.Name
			detail.HandlerPhone = maskPhone(handler.Phone)
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

// maskPhone hides the middle digits of an 11-digit phone number.
func maskPhone(phone string) string {
	if len(phone) != 11 {
		return ""
	}
	return phone[:3] + "****" + phone[7:]
}

// GetMyWorkOrders handles GET /workorders/mine?status=...
// Status accepts a comma-separated list; empty means all.
func (h *WorkOrderHandler) GetMyWorkOrders(w http.ResponseWriter, r *http.Request) {
	submitterID, err := uuid.Parse(middleware.GetUserID(r))
	if err != nil {
		http.Error(w, "invalid user id in token", http.StatusUnauthorized)
		return
	}

	statuses, err := parseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, err)
		return
	}
	orders, err := h.store.OrdersBySubmitter(r.Context(), submitterID, statuses)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetWorkOrders handles GET /workorders?status=... for supervisory roles.
func (h *WorkOrderHandler) GetWorkOrders(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		orders, err := h.store.AllOrders(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orders)
		return
	}

	status, err := models.ParseWorkOrderStatus(raw)
	if err != nil {
		writeError(w, err)
		return
	}
	orders, err := h.store.OrdersByStatus(r.Context(), status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// UpdateStatusRequest is the generic supervisory status change.
type UpdateStatusRequest struct {
	Status    string   `json:"status"`
	Note      string   `json:"note"`
	ImageRefs []string `json:"imageRefs"`
}

// UpdateWorkOrderStatus handles PUT /workorders/{id}/status.
func (h *WorkOrderHandler) UpdateWorkOrderStatus(w http.ResponseWriter, r *http.Request) {
	workID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid work order id", http.StatusBadRequest)
		return
	}
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	status, err := models.ParseWorkOrderStatus(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	claims := middleware.GetClaims(r)
	order, err := h.engine.UpdateStatus(r.Context(), workID, status,
		claims.UserID, claims.Role, req.Note, req.ImageRefs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// GetWorkOrderLogs handles GET /workorders/{id}/logs.
func (h *WorkOrderHandler) GetWorkOrderLogs(w http.ResponseWriter, r *http.Request) {
	workID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid work order id", http.StatusBadRequest)
		return
	}
	logs, err := h.store.Logs(r.Context(), workID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// GetWorkOrderFeedback handles GET /workorders/{id}/feedback.
func (h *WorkOrderHandler) GetWorkOrderFeedback(w http.ResponseWriter, r *http.Request) {
	workID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid work order id", http.StatusBadRequest)
		return
	}
	feedback, err := h.store.FeedbackEntries(r.Context(), workID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feedback)
}

func parseStatusFilter(raw string) ([]models.WorkOrderStatus, error) {
	if raw == "" || raw == "all" {
		return nil, nil
	}
	var out []models.WorkOrderStatus
	for _, part := range strings.Split(raw, ",") {
		s, err := models.ParseWorkOrderStatus(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
