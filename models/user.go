// models/user.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role names as carried in JWT claims and the users table.
const (
	RoleCitizen     = "citizen"
	RoleGridWorker  = "grid_worker"
	RoleAreaCaptain = "area_captain"
	RoleSuperAdmin  = "super_admin"
	RoleSystem      = "system"
)

// SystemActorID is the reserved actor used by the escalation scheduler.
// It exists only in audit logs: it has no user row and is never issued a
// token.
const SystemActorID = "system"

type User struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"         json:"id"`
	Name         string     `gorm:"size:100;not null"            json:"name"`
	Phone        string     `gorm:"size:15;uniqueIndex;not null" json:"phone"`
	PasswordHash string     `gorm:"size:255;not null"            json:"-"`
	Role         string     `gorm:"size:32;not null;default:citizen" json:"role"`
	GridAreaID   *uuid.UUID `gorm:"type:uuid;index"              json:"gridAreaId,omitempty"`
	IsActive     bool       `gorm:"default:true"                 json:"isActive"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return
}

// Capability is a coarse permission evaluated once at authentication time.
type Capability string

const (
	CapSubmitOrder   Capability = "workorder:submit"
	CapClaimOrder    Capability = "workorder:claim"
	CapResolveOrder  Capability = "workorder:resolve"
	CapReportOrder   Capability = "workorder:report"
	CapReassignOrder Capability = "workorder:reassign"
	CapUpdateStatus  Capability = "workorder:update_status"
	CapViewAllOrders Capability = "workorder:view_all"
	CapManageUsers   Capability = "user:manage"
)

// CapabilitiesForRole derives the immutable capability set for a role.
// The set depends on the role alone, so handlers can evaluate it once per
// request from the JWT claims.
func CapabilitiesForRole(role string) []Capability {
	switch role {
	case RoleCitizen:
		return []Capability{CapSubmitOrder}
	case RoleGridWorker:
		return []Capability{CapClaimOrder, CapResolveOrder, CapReportOrder}
	case RoleAreaCaptain:
		return []Capability{
			CapClaimOrder, CapResolveOrder, CapReportOrder,
			CapReassignOrder, CapUpdateStatus, CapViewAllOrders,
		}
	case RoleSuperAdmin:
		return []Capability{
			CapSubmitOrder, CapClaimOrder, CapResolveOrder, CapReportOrder,
			CapReassignOrder, CapUpdateStatus, CapViewAllOrders, CapManageUsers,
		}
	case RoleSystem:
		// Asserted internally by the scheduler, never authenticated.
		return []Capability{CapUpdateStatus}
	}
	return nil
}

// HasCapability checks a derived capability set.
func HasCapability(caps []Capability, want Capability) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}
