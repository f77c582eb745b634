package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/phishsim/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createAttemptsTable(),
		createCampaignsTable(),
		createDispatchRecordsTable(),
	})

	return m.Migrate()
}

func createAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.AttemptModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_tracking_id ON attempts (tracking_id)`,
				`CREATE INDEX IF NOT EXISTS idx_attempts_status_created ON attempts (status, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_attempts_campaign_id ON attempts (campaign_id) WHERE campaign_id IS NOT NULL`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.AttemptModel{})
		},
	}
}

func createCampaignsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_campaigns",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.CampaignModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CampaignModel{})
		},
	}
}

func createDispatchRecordsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_dispatch_records",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DispatchRecordModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_dispatch_records_attempt_id ON dispatch_records (attempt_id)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DispatchRecordModel{})
		},
	}
}
