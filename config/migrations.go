package config

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
	"p9e.in/gridops/models"
)

func Migrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "20250812_create_core_tables",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.User{}, &models.GridArea{},
					&models.WorkOrder{}, &models.WorkOrderLog{}, &models.WorkOrderFeedback{})
			},
		},
		{
			ID: "20250812_workorder_indexes",
			Migrate: func(tx *gorm.DB) error {
				// Sweep queries filter on (status, created_at) and
				// (status, deadline); the planner needs the composites.
				if err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_work_orders_status_created_at ON work_orders(status, created_at)").Error; err != nil {
					return err
				}
				return tx.Exec("CREATE INDEX IF NOT EXISTS idx_work_orders_status_deadline ON work_orders(status, deadline)").Error
			},
		},
		{
			ID: "20250901_submitter_recent_index",
			Migrate: func(tx *gorm.DB) error {
				// Duplicate-submission guard fetches a submitter's orders
				// from the last minute on every create.
				return tx.Exec("CREATE INDEX IF NOT EXISTS idx_work_orders_submitter_created_at ON work_orders(submitter_id, created_at)").Error
			},
		},
	})
	return m.Migrate()
}
