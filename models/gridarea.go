package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GridArea is a polygonal district patrolled by grid workers and overseen
// by one area captain. Boundary is a jsonb ring of {lat,lng} points.
type GridArea struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string         `gorm:"size:100;uniqueIndex;not null" json:"name"`
	Boundary  datatypes.JSON `gorm:"type:jsonb"           json:"boundary"`
	CaptainID *uuid.UUID     `gorm:"type:uuid;index"      json:"captainId,omitempty"`
	IsActive  bool           `gorm:"default:true"         json:"isActive"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (a *GridArea) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return
}
