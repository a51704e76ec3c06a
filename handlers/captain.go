package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"p9e.in/gridops/config"
	"p9e.in/gridops/middleware"
	"p9e.in/gridops/models"
)

// CaptainHandler serves the area-captain API: oversight listings,
// reassignment and the grid-worker roster.
type CaptainHandler struct {
	store  WorkOrderStore
	engine *LifecycleEngine
}

func NewCaptainHandler() *CaptainHandler {
	store := NewWorkOrderStore(config.DB)
	return &CaptainHandler{
		store:  store,
		engine: NewLifecycleEngine(store, nil),
	}
}

// GetWorkOrders handles GET /captain/workorders?type=...
// Types: all (default), today (unclaimed from the last 24h), processing,
// reported (everything not yet completed), completed.
func (h *CaptainHandler) GetWorkOrders(w http.ResponseWriter, r *http.Request) {
	listType := r.URL.Query().Get("type")
	if listType == "" {
		listType = "all"
	}

	var (
		orders []models.WorkOrder
		err    error
	)
	switch listType {
	case "today":
		orders, err = h.store.OrdersByStatus(r.Context(), models.StatusUnclaimed)
		if err == nil {
			cutoff := time.Now().Add(-24 * time.Hour)
			recent := orders[:0]
			for _, o := range orders {
				if o.CreatedAt.After(cutoff) {
					recent = append(recent, o)
				}
			}
			orders = recent
		}
	case "processing":
		orders, err = h.store.OrdersByStatus(r.Context(), models.StatusProcessing)
	case "reported":
		// Everything still open: unclaimed, processing and reported.
		orders, err = h.store.AllOrders(r.Context())
		if err == nil {
			open := orders[:0]
			for _, o := range orders {
				if o.Status != models.StatusCompleted {
					open = append(open, o)
				}
			}
			orders = open
		}
	case "completed":
		orders, err = h.store.OrdersByStatus(r.Context(), models.StatusCompleted)
	case "all":
		orders, err = h.store.AllOrders(r.Context())
	default:
		http.Error(w, "unknown list type", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// ReassignRequest hands an order to a new grid worker. Deadline accepts
// RFC3339 timestamps or a bare date, which becomes 23:59:59 of that day;
// when absent the engine applies its 24h default.
type ReassignRequest struct {
	WorkID       uuid.UUID `json:"workId"`
	GridWorkerID uuid.UUID `json:"gridWorkerId"`
	Deadline     string    `json:"deadline"`
}

// Reassign handles POST /captain/reassign.
func (h *CaptainHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	var req ReassignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	captainID, err := uuid.Parse(middleware.GetUserID(r))
	if err != nil {
		http.Error(w, "invalid user id in token", http.StatusUnauthorized)
		return
	}

	deadline, err := parseDeadline(req.Deadline)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.engine.Reassign(r.Context(), req.WorkID, req.GridWorkerID, deadline, captainID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reassigned"})
}

// parseDeadline interprets the optional deadline field. A bare date means
// the whole day is still available, so it extends to that day's last second.
func parseDeadline(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if len(raw) == len("2006-01-02") {
		day, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			return nil, models.NewBusinessError(models.KindValidation, "invalid deadline date %q", raw)
		}
		t := day.AddDate(0, 0, 1).Add(-time.Second)
		return &t, nil
	}
	var jt models.JSONTime
	if err := jt.UnmarshalJSON([]byte(`"` + raw + `"`)); err != nil {
		return nil, models.NewBusinessError(models.KindValidation, "invalid deadline %q", raw)
	}
	t := time.Time(jt)
	return &t, nil
}

// GetGridWorkers handles GET /captain/grid-workers.
func (h *CaptainHandler) GetGridWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.store.UsersByRole(r.Context(), models.RoleGridWorker)
	if err != nil {
		writeError(w, err)
		return
	}

	type workerOut struct {
		ID         uuid.UUID  `json:"id"`
		Name       string     `json:"name"`
		Phone      string     `json:"phone"`
		GridAreaID *uuid.UUID `json:"gridAreaId,omitempty"`
	}
	out := make([]workerOut, len(workers))
	for i, u := range workers {
		out[i] = workerOut{ID: u.ID, Name: u.Name, Phone: u.Phone, GridAreaID: u.GridAreaID}
	}
	writeJSON(w, http.StatusOK, out)
}
