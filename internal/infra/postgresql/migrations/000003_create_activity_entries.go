package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/rollout-engine/internal/repository"
	"gorm.io/gorm"
)

func createActivityEntriesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_activity_entries",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ActivityEntryModel{}); err != nil {
				return err
			}
			indexes := []string{
				// One sequence slot per batch keeps the feed replayable in order.
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_activity_entries_batch_sequence ON activity_entries (batch_id, sequence)`,
				`CREATE INDEX IF NOT EXISTS idx_activity_entries_batch_created ON activity_entries (batch_id, created_at)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ActivityEntryModel{})
		},
	}
}
