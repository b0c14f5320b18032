package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/valentine/backend/internal/sites"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Earlier deployments stored exactly one payload variant and had no
// discriminator column, so rows may exist with an empty payload_kind.
const migrationBackfillPayloadKind = "2026-02-01_backfill_payload_kind"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillPayloadKind, apply: backfillPayloadKind},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func backfillPayloadKind(db *gorm.DB) error {
	err := db.Model(&sites.Site{}).
		Where("payload_kind = ? AND encrypted_data <> ?", "", "").
		Update("payload_kind", sites.PayloadKindEncrypted).Error
	if err != nil {
		return err
	}
	return db.Model(&sites.Site{}).
		Where("payload_kind = ?", "").
		Update("payload_kind", sites.PayloadKindPlain).Error
}
