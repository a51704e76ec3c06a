package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// WorkOrderStatus is the lifecycle state of a work order.
type WorkOrderStatus string

const (
	StatusUnclaimed  WorkOrderStatus = "unclaimed"
	StatusProcessing WorkOrderStatus = "processing"
	StatusReported   WorkOrderStatus = "reported"
	StatusCompleted  WorkOrderStatus = "completed"
)

// allowedTransitions is the full transition table. Completed is terminal.
var allowedTransitions = map[WorkOrderStatus][]WorkOrderStatus{
	StatusUnclaimed:  {StatusProcessing, StatusReported},
	StatusProcessing: {StatusReported, StatusCompleted},
	StatusReported:   {StatusProcessing, StatusCompleted},
	StatusCompleted:  {},
}

// ValidateTransition checks a requested status change against the
// transition table. It knows nothing about who is asking.
func ValidateTransition(from, to WorkOrderStatus) error {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return NewBusinessError(KindInvalidTransition, "unrecognized status %q", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return NewBusinessError(KindInvalidTransition, "transition %s -> %s is not allowed", from, to)
}

// ParseWorkOrderStatus maps a client-supplied string to a status.
func ParseWorkOrderStatus(s string) (WorkOrderStatus, error) {
	switch WorkOrderStatus(s) {
	case StatusUnclaimed, StatusProcessing, StatusReported, StatusCompleted:
		return WorkOrderStatus(s), nil
	}
	return "", NewBusinessError(KindValidation, "unknown status %q", s)
}

// WorkOrder is a citizen-reported issue tracked through its lifecycle.
// Rows are never deleted; history lives in work_order_logs.
type WorkOrder struct {
	WorkID              uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"workId"`
	SubmitterID         uuid.UUID       `gorm:"type:uuid;index;not null"          json:"submitterId"`
	Description         string          `gorm:"type:text;not null"                json:"description"`
	ImageRefs           pq.StringArray  `gorm:"type:text[]"                       json:"imageRefs"`
	Address             string          `gorm:"size:255;not null"                 json:"address"`
	BuildingInfo        string          `gorm:"size:255;not null"                 json:"buildingInfo"`
	Latitude            *float64        `gorm:"column:latitude"                   json:"latitude,omitempty"`
	Longitude           *float64        `gorm:"column:longitude"                  json:"longitude,omitempty"`
	GridAreaID          *uuid.UUID      `gorm:"type:uuid;index"                   json:"gridAreaId,omitempty"`
	Status              WorkOrderStatus `gorm:"size:20;index;not null"            json:"status"`
	CreatedAt           time.Time       `gorm:"index"                             json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
	Deadline            *time.Time      `gorm:"index"                             json:"deadline,omitempty"`
	HandlerID           *uuid.UUID      `gorm:"type:uuid;index"                   json:"handlerId,omitempty"`
	ResolutionNote      string          `gorm:"type:text"                         json:"resolutionNote,omitempty"`
	ResolutionImageRefs pq.StringArray  `gorm:"type:text[]"                       json:"resolutionImageRefs,omitempty"`
	ResolvedAt          *time.Time      `json:"resolvedAt,omitempty"`
}

func (WorkOrder) TableName() string { return "work_orders" }

// WorkOrderLog is an append-only audit entry. One is written for every
// state-changing operation; entries are never mutated or deleted.
type WorkOrderLog struct {
	LogID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"logId"`
	WorkID            uuid.UUID `gorm:"type:uuid;index;not null" json:"workId"`
	ActorID           string    `gorm:"size:64;not null"         json:"actorId"`
	ActorRole         string    `gorm:"size:32;not null"         json:"actorRole"`
	ActionType        string    `gorm:"size:64;not null"         json:"actionType"`
	ActionDescription string    `gorm:"type:text"                json:"actionDescription"`
	ActionTime        time.Time `gorm:"index;not null"           json:"actionTime"`
}

func (WorkOrderLog) TableName() string { return "work_order_logs" }

// WorkOrderFeedback records a handler's resolution report, written when a
// handler completes their own order.
type WorkOrderFeedback struct {
	FeedbackID   uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"feedbackId"`
	WorkID       uuid.UUID      `gorm:"type:uuid;index;not null" json:"workId"`
	HandlerID    uuid.UUID      `gorm:"type:uuid;not null"       json:"handlerId"`
	HandlerRole  string         `gorm:"size:32;not null"         json:"handlerRole"`
	Description  string         `gorm:"type:text"                json:"description"`
	ImageRefs    pq.StringArray `gorm:"type:text[]"              json:"imageRefs"`
	FeedbackTime time.Time      `gorm:"not null"                 json:"feedbackTime"`
}

func (WorkOrderFeedback) TableName() string { return "work_order_feedbacks" }

func (wo *WorkOrder) BeforeCreate(tx *gorm.DB) error {
	if wo.WorkID == uuid.Nil {
		wo.WorkID = uuid.New()
	}
	return nil
}

func (l *WorkOrderLog) BeforeCreate(tx *gorm.DB) error {
	if l.LogID == uuid.Nil {
		l.LogID = uuid.New()
	}
	return nil
}

func (f *WorkOrderFeedback) BeforeCreate(tx *gorm.DB) error {
	if f.FeedbackID == uuid.Nil {
		f.FeedbackID = uuid.New()
	}
	return nil
}
