package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"p9e.in/gridops/models"
)

func pqArray(v []string) pq.StringArray { return pq.StringArray(v) }

// storeTimeout bounds every storage call so no engine operation blocks
// indefinitely.
const storeTimeout = 5 * time.Second

// OrderUpdate carries the field changes of one lifecycle operation.
// Nil pointers leave the column untouched.
type OrderUpdate struct {
	Status              models.WorkOrderStatus
	HandlerID           *uuid.UUID
	Deadline            *time.Time
	ResolutionNote      *string
	ResolutionImageRefs []string
	ResolvedAt          *time.Time
	UpdatedAt           time.Time
}

// WorkOrderStore is the persistence port of the lifecycle engine. Order
// mutation, log append and optional feedback insert are one atomic unit;
// conditional updates succeed for exactly one caller under contention.
type WorkOrderStore interface {
	CreateOrder(ctx context.Context, order *models.WorkOrder, entry *models.WorkOrderLog) error
	GetOrder(ctx context.Context, workID uuid.UUID) (*models.WorkOrder, error)

	// UpdateOrderIf applies update only while the order still has the
	// expected status, appending entry (and feedback, when non-nil) in the
	// same transaction. Returns a Conflict error when the guard fails.
	UpdateOrderIf(ctx context.Context, workID uuid.UUID, expected models.WorkOrderStatus,
		update OrderUpdate, entry *models.WorkOrderLog, feedback *models.WorkOrderFeedback) error

	RecentOrdersBySubmitter(ctx context.Context, submitterID uuid.UUID, since time.Time) ([]models.WorkOrder, error)
	OrdersBySubmitter(ctx context.Context, submitterID uuid.UUID, statuses []models.WorkOrderStatus) ([]models.WorkOrder, error)
	OrdersByStatus(ctx context.Context, status models.WorkOrderStatus) ([]models.WorkOrder, error)
	AllOrders(ctx context.Context) ([]models.WorkOrder, error)
	OrdersByHandler(ctx context.Context, handlerID uuid.UUID) ([]models.WorkOrder, error)
	PreviouslyHandledOrders(ctx context.Context, handlerID uuid.UUID) ([]models.WorkOrder, error)

	UnclaimedCreatedBefore(ctx context.Context, cutoff time.Time) ([]models.WorkOrder, error)
	ProcessingStaleWithoutDeadline(ctx context.Context, cutoff time.Time) ([]models.WorkOrder, error)
	DeadlineExceeded(ctx context.Context, now time.Time) ([]models.WorkOrder, error)

	Logs(ctx context.Context, workID uuid.UUID) ([]models.WorkOrderLog, error)
	FeedbackEntries(ctx context.Context, workID uuid.UUID) ([]models.WorkOrderFeedback, error)

	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UsersByRole(ctx context.Context, role string) ([]models.User, error)
	ActiveGridAreas(ctx context.Context) ([]models.GridArea, error)
}

// gormWorkOrderStore is the Postgres implementation of WorkOrderStore.
type gormWorkOrderStore struct {
	db *gorm.DB
}

// NewWorkOrderStore wraps a gorm connection in the storage port.
func NewWorkOrderStore(db *gorm.DB) WorkOrderStore {
	return &gormWorkOrderStore{db: db}
}

func (s *gormWorkOrderStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, storeTimeout)
}

// wrapErr classifies driver errors into the business taxonomy.
func wrapErr(err error, notFoundMsg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return models.NewBusinessError(models.KindNotFound, "%s", notFoundMsg)
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewBusinessError(models.KindTimeout, "storage timeout: %v", err)
	default:
		return err
	}
}

func (s *gormWorkOrderStore) CreateOrder(ctx context.Context, order *models.WorkOrder, entry *models.WorkOrderLog) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		entry.WorkID = order.WorkID
		return tx.Create(entry).Error
	})
	return wrapErr(err, "work order")
}

func (s *gormWorkOrderStore) GetOrder(ctx context.Context, workID uuid.UUID) (*models.WorkOrder, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var order models.WorkOrder
	if err := s.db.WithContext(ctx).First(&order, "work_id = ?", workID).Error; err != nil {
		return nil, wrapErr(err, "work order not found")
	}
	return &order, nil
}

func (s *gormWorkOrderStore) UpdateOrderIf(ctx context.Context, workID uuid.UUID, expected models.WorkOrderStatus,
	update OrderUpdate, entry *models.WorkOrderLog, feedback *models.WorkOrderFeedback) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fields := map[string]interface{}{
			"status":     update.Status,
			"updated_at": update.UpdatedAt,
		}
		if update.HandlerID != nil {
			fields["handler_id"] = *update.HandlerID
		}
		if update.Deadline != nil {
			fields["deadline"] = *update.Deadline
		}
		if update.ResolutionNote != nil {
			fields["resolution_note"] = *update.ResolutionNote
		}
		if update.ResolutionImageRefs != nil {
			fields["resolution_image_refs"] = pqArray(update.ResolutionImageRefs)
		}
		if update.ResolvedAt != nil {
			fields["resolved_at"] = *update.ResolvedAt
		}

		res := tx.Model(&models.WorkOrder{}).
			Where("work_id = ? AND status = ?", workID, expected).
			Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Either the order vanished or someone else moved it first.
			var count int64
			if err := tx.Model(&models.WorkOrder{}).Where("work_id = ?", workID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return models.NewBusinessError(models.KindNotFound, "work order not found")
			}
			return models.NewBusinessError(models.KindConflict,
				"work order no longer in status %s", expected)
		}

		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		if feedback != nil {
			if err := tx.Create(feedback).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return wrapErr(err, "work order not found")
}

func (s *gormWorkOrderStore) RecentOrdersBySubmitter(ctx context.Context, submitterID uuid.UUID, since time.Time) ([]models.WorkOrder, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var orders []models.WorkOrder
	err := s.db.WithContext(ctx).
		Where("submitter_id = ? AND created_at >= ?", submitterID, since).
		Find(&orders).Error
	return orders, wrapErr(err, "work orders")
}

func (s *gormWorkOrderStore) OrdersBySubmitter(ctx context.Context, submitterID uuid.UUID, statuses []models.WorkOrderStatus) ([]models.WorkOrder, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	q := s.db.WithContext(ctx).Where("submitter_id = ?", submitterID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var orders []models.WorkOrder
	err := q.Order("created_at DESC").Find(&orders).Error
	return orders, wrapErr(err, "work orders")
}

func (s *gormWorkOrderStore) OrdersByStatus(ctx context.Context, status models.WorkOrderStatus) ([]models.WorkOrder, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var orders []models.WorkOrder
	err := s.db.WithContext(ctx).Where("status = ?", status).
		Order("created_at DESC").Find(&orders).Error
	return orders, wrapErr(err, "work orders")
}

func (s *gormWorkOrderStore) AllOrders(ctx context.Context) ([]models.WorkOrder, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var orders []models.WorkOrder
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&orders).Error
	return orders, wrapErr(err, "work orders")
}

func (s *gormWorkOrderStore) OrdersByHandler(ctx context.Context, handlerID uuid.UUID) ([]models.WorkOrder, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var orders []models.WorkOrder
	err := s.db.WithContext(ctx).Where("handler_id = ?", handlerID).
		Order("updated_at DESC").Find(&orders).Error
	return orders, wrapErr(err, "work orders")
}

// PreviouslyHandledOrders finds orders this handler once claimed that were
// later reassigned to somebody else, via the audit trail.
func (s *gormWorkOrderStore) PreviouslyHandledOrders(ctx context.Context, handlerID uuid.UUID) ([]models.WorkOrder, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var orders []models.WorkOrder
	err := s.db.WithContext(ctx).
		Where("work_id IN (?)",
			s.db.Model(&models.WorkOrderLog{}).
				Select("work_id").
				Where("actor_id = ? AND action_type IN ?", handlerID.String(), []string{"claim", "feedback", "report"})).
		Where("handler_id IS NOT NULL AND handler_id <> ?", handlerID).
		Order("updated_at DESC").
		Find(&orders).Error
	return orders, wrapErr(err, "work orders")
}

func (s *gormWorkOrderStore) UnclaimedCreatedBefore(ctx context.Context, cutoff time.Time) ([]models.WorkOrder, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var orders []models.WorkOrder
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.StatusUnclaimed, cutoff).
		Find(&orders).Error
	return orders, wrapErr(err, "work orders")
}

func (s *gormWorkOrderStore) ProcessingStaleWithoutDeadline(ctx context.Context, cutoff time.Time) ([]models.WorkOrder, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var orders []models.WorkOrder
	err := s.db.WithContext(ctx).
		Where("status = ? AND deadline IS NULL AND updated_at < ?", models.StatusProcessing, cutoff).
		Find(&orders).Error
	return orders, wrapErr(err, "work orders")
}

func (s *gormWorkOrderStore) DeadlineExceeded(ctx context.Context, now time.Time) ([]models.WorkOrder, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var orders []models.WorkOrder
	err := s.db.WithContext(ctx).
		Where("deadline IS NOT NULL AND deadline < ? AND status <> ?", now, models.StatusCompleted).
		Find(&orders).Error
	return orders, wrapErr(err, "work orders")
}

func (s *gormWorkOrderStore) Logs(ctx context.Context, workID uuid.UUID) ([]models.WorkOrderLog, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var logs []models.WorkOrderLog
	err := s.db.WithContext(ctx).Where("work_id = ?", workID).
		Order("action_time ASC").Find(&logs).Error
	return logs, wrapErr(err, "processing logs")
}

func (s *gormWorkOrderStore) FeedbackEntries(ctx context.Context, workID uuid.UUID) ([]models.WorkOrderFeedback, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var fb []models.WorkOrderFeedback
	err := s.db.WithContext(ctx).Where("work_id = ?", workID).
		Order("feedback_time ASC").Find(&fb).Error
	return fb, wrapErr(err, "feedback")
}

func (s *gormWorkOrderStore) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, wrapErr(err, "user not found")
	}
	return &user, nil
}

func (s *gormWorkOrderStore) UsersByRole(ctx context.Context, role string) ([]models.User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("role = ? AND is_active = ?", role, true).
		Order("name ASC").Find(&users).Error
	return users, wrapErr(err, "users")
}

func (s *gormWorkOrderStore) ActiveGridAreas(ctx context.Context) ([]models.GridArea, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var areas []models.GridArea
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&areas).Error
	return areas, wrapErr(err, "grid areas")
}
