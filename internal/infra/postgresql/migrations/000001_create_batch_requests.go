package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/rollout-engine/internal/repository"
	"gorm.io/gorm"
)

func createBatchRequestsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_batch_requests",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BatchRequestModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_batch_requests_state_created ON batch_requests (state, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_batch_requests_requested_by ON batch_requests (requested_by)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BatchRequestModel{})
		},
	}
}
