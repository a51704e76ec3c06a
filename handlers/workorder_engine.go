package handlers

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"p9e.in/gridops/models"
	"p9e.in/gridops/utils"
)

const (
	// duplicateWindow is how far back the duplicate-submission guard looks.
	duplicateWindow = 60 * time.Second
	// duplicateThreshold is the similarity score that rejects a submission.
	duplicateThreshold = 0.9
	// defaultReassignDeadline applies when a captain reassigns without one.
	defaultReassignDeadline = 24 * time.Hour
)

// Audit log action types.
const (
	actionSubmit        = "submit"
	actionClaim         = "claim"
	actionFeedback      = "feedback"
	actionReport        = "report"
	actionReassign      = "reassign"
	actionSystemTimeout = "system-timeout"
)

// LifecycleEngine orchestrates every state-changing work-order operation:
// it validates transitions, runs the duplicate guard, and writes order,
// audit log and feedback through the storage port as one unit.
type LifecycleEngine struct {
	store WorkOrderStore
	now   func() time.Time
}

// NewLifecycleEngine creates an engine over a store. The clock is
// injectable for tests.
func NewLifecycleEngine(store WorkOrderStore, now func() time.Time) *LifecycleEngine {
	if now == nil {
		now = time.Now
	}
	return &LifecycleEngine{store: store, now: now}
}

// CreateOrderInput is the payload of a citizen submission.
type CreateOrderInput struct {
	SubmitterID  uuid.UUID
	Description  string
	Address      string
	BuildingInfo string
	ImageRefs    []string
	Latitude     *float64
	Longitude    *float64
}

// Create validates a submission, runs the duplicate guard and persists the
// order in Unclaimed together with its "submit" log entry.
func (e *LifecycleEngine) Create(ctx context.Context, in CreateOrderInput) (*models.WorkOrder, error) {
	submitter, err := e.store.UserByID(ctx, in.SubmitterID)
	if err != nil {
		if models.IsKind(err, models.KindNotFound) {
			return nil, models.NewBusinessError(models.KindUnknownActor, "submitter %s is not a known user", in.SubmitterID)
		}
		return nil, err
	}

	if strings.TrimSpace(in.Description) == "" ||
		strings.TrimSpace(in.Address) == "" ||
		strings.TrimSpace(in.BuildingInfo) == "" {
		return nil, models.NewBusinessError(models.KindValidation,
			"description, address and building info are required")
	}

	now := e.now()
	recent, err := e.store.RecentOrdersBySubmitter(ctx, in.SubmitterID, now.Add(-duplicateWindow))
	if err != nil {
		return nil, err
	}
	for _, prev := range recent {
		if prev.Description == in.Description ||
			utils.Similarity(prev.Description, in.Description) >= duplicateThreshold {
			return nil, models.NewBusinessError(models.KindDuplicateSubmission,
				"an almost identical order was submitted within the last minute")
		}
	}

	order := &models.WorkOrder{
		SubmitterID:  in.SubmitterID,
		Description:  in.Description,
		ImageRefs:    in.ImageRefs,
		Address:      in.Address,
		BuildingInfo: in.BuildingInfo,
		Latitude:     in.Latitude,
		Longitude:    in.Longitude,
		Status:       models.StatusUnclaimed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	e.resolveGridArea(ctx, order)

	entry := &models.WorkOrderLog{
		ActorID:           in.SubmitterID.String(),
		ActorRole:         submitter.Role,
		ActionType:        actionSubmit,
		ActionDescription: "work order submitted",
		ActionTime:        now,
	}
	if err := e.store.CreateOrder(ctx, order, entry); err != nil {
		return nil, err
	}
	log.Printf("work order created: workId=%s submitter=%s", order.WorkID, in.SubmitterID)
	return order, nil
}

// resolveGridArea routes the order to the first active grid area containing
// its coordinates. Routing is best effort; an order without coordinates or
// outside every area stays unrouted.
func (e *LifecycleEngine) resolveGridArea(ctx context.Context, order *models.WorkOrder) {
	if order.Latitude == nil || order.Longitude == nil {
		return
	}
	areas, err := e.store.ActiveGridAreas(ctx)
	if err != nil {
		log.Printf("grid area lookup failed, leaving order unrouted: %v", err)
		return
	}
	for i := range areas {
		b, err := utils.ParseBoundary(areas[i].Boundary)
		if err != nil {
			continue
		}
		if b.Contains(*order.Latitude, *order.Longitude) {
			order.GridAreaID = &areas[i].ID
			return
		}
	}
}

// Claim moves an Unclaimed order to Processing for the given handler.
// Under concurrent claims the storage-level conditional update lets exactly
// one caller through; the rest get AlreadyClaimed.
func (e *LifecycleEngine) Claim(ctx context.Context, workID, handlerID uuid.UUID) (*models.WorkOrder, error) {
	handler, err := e.store.UserByID(ctx, handlerID)
	if err != nil {
		if models.IsKind(err, models.KindNotFound) {
			return nil, models.NewBusinessError(models.KindUnknownActor, "handler %s is not a known user", handlerID)
		}
		return nil, err
	}

	order, err := e.store.GetOrder(ctx, workID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.StatusUnclaimed {
		return nil, models.NewBusinessError(models.KindAlreadyClaimed,
			"work order is %s, only unclaimed orders can be claimed", order.Status)
	}

	now := e.now()
	entry := &models.WorkOrderLog{
		WorkID:            workID,
		ActorID:           handlerID.String(),
		ActorRole:         handler.Role,
		ActionType:        actionClaim,
		ActionDescription: "work order claimed by " + handler.Name,
		ActionTime:        now,
	}
	err = e.store.UpdateOrderIf(ctx, workID, models.StatusUnclaimed, OrderUpdate{
		Status:    models.StatusProcessing,
		HandlerID: &handlerID,
		UpdatedAt: now,
	}, entry, nil)
	if err != nil {
		if models.IsKind(err, models.KindConflict) {
			return nil, models.NewBusinessError(models.KindAlreadyClaimed,
				"work order was claimed by someone else")
		}
		return nil, err
	}

	order.Status = models.StatusProcessing
	order.HandlerID = &handlerID
	order.UpdatedAt = now
	return order, nil
}

// SubmitFeedback resolves an order: only its current handler may complete
// it. Writes the resolution fields, one feedback record and one log entry.
func (e *LifecycleEngine) SubmitFeedback(ctx context.Context, workID, handlerID uuid.UUID, note string, images []string) (*models.WorkOrder, error) {
	order, err := e.store.GetOrder(ctx, workID)
	if err != nil {
		return nil, err
	}
	if order.HandlerID == nil || *order.HandlerID != handlerID {
		return nil, models.NewBusinessError(models.KindForbidden,
			"only the current handler may submit feedback")
	}
	if err := models.ValidateTransition(order.Status, models.StatusCompleted); err != nil {
		return nil, err
	}

	handler, err := e.store.UserByID(ctx, handlerID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	entry := &models.WorkOrderLog{
		WorkID:            workID,
		ActorID:           handlerID.String(),
		ActorRole:         handler.Role,
		ActionType:        actionFeedback,
		ActionDescription: "handler submitted resolution feedback",
		ActionTime:        now,
	}
	feedback := &models.WorkOrderFeedback{
		WorkID:       workID,
		HandlerID:    handlerID,
		HandlerRole:  handler.Role,
		Description:  note,
		ImageRefs:    images,
		FeedbackTime: now,
	}
	err = e.store.UpdateOrderIf(ctx, workID, order.Status, OrderUpdate{
		Status:              models.StatusCompleted,
		ResolutionNote:      &note,
		ResolutionImageRefs: images,
		ResolvedAt:          &now,
		UpdatedAt:           now,
	}, entry, feedback)
	if err != nil {
		return nil, err
	}

	order.Status = models.StatusCompleted
	order.ResolutionNote = note
	order.ResolutionImageRefs = images
	order.ResolvedAt = &now
	order.UpdatedAt = now
	return order, nil
}

// ReportToCaptain escalates a Processing order to Reported. Only the
// current handler may report their own order.
func (e *LifecycleEngine) ReportToCaptain(ctx context.Context, workID, handlerID uuid.UUID) error {
	order, err := e.store.GetOrder(ctx, workID)
	if err != nil {
		return err
	}
	if order.HandlerID == nil || *order.HandlerID != handlerID {
		return models.NewBusinessError(models.KindForbidden,
			"only the current handler may report this order")
	}
	if order.Status != models.StatusProcessing {
		return models.NewBusinessError(models.KindInvalidTransition,
			"only processing orders can be reported, current status is %s", order.Status)
	}

	handler, err := e.store.UserByID(ctx, handlerID)
	if err != nil {
		return err
	}

	now := e.now()
	entry := &models.WorkOrderLog{
		WorkID:            workID,
		ActorID:           handlerID.String(),
		ActorRole:         handler.Role,
		ActionType:        actionReport,
		ActionDescription: "handler reported order to area captain",
		ActionTime:        now,
	}
	return e.store.UpdateOrderIf(ctx, workID, models.StatusProcessing, OrderUpdate{
		Status:    models.StatusReported,
		UpdatedAt: now,
	}, entry, nil)
}

// Reassign hands an Unclaimed or Reported order to a new handler with a
// deadline (given, or now+24h). This is the one path that moves a Reported
// order back to Processing under a different handler.
func (e *LifecycleEngine) Reassign(ctx context.Context, workID, newHandlerID uuid.UUID, deadline *time.Time, captainID uuid.UUID) error {
	order, err := e.store.GetOrder(ctx, workID)
	if err != nil {
		return err
	}
	if order.Status != models.StatusUnclaimed && order.Status != models.StatusReported {
		return models.NewBusinessError(models.KindInvalidTransition,
			"only unclaimed or reported orders can be reassigned, current status is %s", order.Status)
	}

	worker, err := e.store.UserByID(ctx, newHandlerID)
	if err != nil {
		if models.IsKind(err, models.KindNotFound) {
			return models.NewBusinessError(models.KindUnknownActor, "grid worker %s is not a known user", newHandlerID)
		}
		return err
	}
	captain, err := e.store.UserByID(ctx, captainID)
	if err != nil {
		return err
	}

	now := e.now()
	due := now.Add(defaultReassignDeadline)
	if deadline != nil {
		due = *deadline
	}

	entry := &models.WorkOrderLog{
		WorkID:     workID,
		ActorID:    captainID.String(),
		ActorRole:  captain.Role,
		ActionType: actionReassign,
		ActionDescription: "order reassigned to " + worker.Name +
			", due " + due.Format("2006-01-02 15:04"),
		ActionTime: now,
	}
	return e.store.UpdateOrderIf(ctx, workID, order.Status, OrderUpdate{
		Status:    models.StatusProcessing,
		HandlerID: &newHandlerID,
		Deadline:  &due,
		UpdatedAt: now,
	}, entry, nil)
}

// UpdateStatus is the generic supervisory path: any transition the state
// machine allows, attributed to the acting supervisor. Resolution note and
// images are only recorded when the order is being completed.
func (e *LifecycleEngine) UpdateStatus(ctx context.Context, workID uuid.UUID, newStatus models.WorkOrderStatus,
	actorID, actorRole, note string, images []string) (*models.WorkOrder, error) {
	order, err := e.store.GetOrder(ctx, workID)
	if err != nil {
		return nil, err
	}
	if err := models.ValidateTransition(order.Status, newStatus); err != nil {
		return nil, err
	}

	now := e.now()
	update := OrderUpdate{Status: newStatus, UpdatedAt: now}
	if newStatus == models.StatusCompleted {
		update.ResolutionNote = &note
		update.ResolutionImageRefs = images
		update.ResolvedAt = &now
	}
	entry := &models.WorkOrderLog{
		WorkID:            workID,
		ActorID:           actorID,
		ActorRole:         actorRole,
		ActionType:        string(newStatus),
		ActionDescription: "status updated to " + string(newStatus),
		ActionTime:        now,
	}
	if err := e.store.UpdateOrderIf(ctx, workID, order.Status, update, entry, nil); err != nil {
		return nil, err
	}

	order.Status = newStatus
	order.UpdatedAt = now
	if newStatus == models.StatusCompleted {
		order.ResolutionNote = note
		order.ResolutionImageRefs = images
		order.ResolvedAt = &now
	}
	return order, nil
}

// Escalate forces a stalled order into Reported on behalf of the reserved
// system actor. It rides the same conditional update as live actors, so a
// racing human simply wins or loses the write like anyone else.
func (e *LifecycleEngine) Escalate(ctx context.Context, workID uuid.UUID, expected models.WorkOrderStatus, reason string) error {
	if err := models.ValidateTransition(expected, models.StatusReported); err != nil {
		return err
	}
	now := e.now()
	entry := &models.WorkOrderLog{
		WorkID:            workID,
		ActorID:           models.SystemActorID,
		ActorRole:         models.RoleSystem,
		ActionType:        actionSystemTimeout,
		ActionDescription: reason,
		ActionTime:        now,
	}
	return e.store.UpdateOrderIf(ctx, workID, expected, OrderUpdate{
		Status:    models.StatusReported,
		UpdatedAt: now,
	}, entry, nil)
}
