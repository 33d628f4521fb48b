package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upJobExecutions, downJobExecutions)
}

// JobExecution mirrors the schema at this migration. Later migrations must not edit it.
type JobExecution struct {
	ID           int64      `gorm:"primaryKey;autoIncrement"`
	JobName      string     `gorm:"type:text;not null;index:idx_job_executions_natural_key,priority:1"`
	RunID        string     `gorm:"type:text;not null;index:idx_job_executions_natural_key,priority:2"`
	StartTime    time.Time  `gorm:"type:timestamptz;not null;index"`
	EndTime      *time.Time `gorm:"type:timestamptz"`
	Status       string     `gorm:"type:text;not null;index"`
	ErrorMessage string     `gorm:"type:text"`
	CreatedAt    time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func openTx(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

func upJobExecutions(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(&JobExecution{})
}

func downJobExecutions(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(&JobExecution{})
}
