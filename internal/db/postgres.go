package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"crimewatch/internal/core"
)

type verifierRecord struct {
	ReportID  string `gorm:"primaryKey"`
	ActorID   string `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (verifierRecord) TableName() string { return "report_verifiers" }

// PostgresDB stores reports and verifier records. It serves both as the
// report database and as the durable verification store.
type PostgresDB struct {
	db *gorm.DB
}

// NewPostgresDB connects with dsn and migrates the schema.
func NewPostgresDB(dsn string) (*PostgresDB, error) {
	p, err := Open(postgres.Open(dsn))
	if err != nil {
		return nil, err
	}
	if err := p.Migrate(); err != nil {
		return nil, err
	}
	return p, nil
}

func Open(dialector gorm.Dialector) (*PostgresDB, error) {
	database, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &PostgresDB{db: database}, nil
}

func (p *PostgresDB) Migrate() error {
	if err := p.db.AutoMigrate(&core.Report{}, &verifierRecord{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (p *PostgresDB) Save(ctx context.Context, r *core.Report) error {
	return p.db.WithContext(ctx).Create(r).Error
}

func (p *PostgresDB) Get(ctx context.Context, id string) (*core.Report, error) {
	var r core.Report
	err := p.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", core.ErrReportNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresDB) List(ctx context.Context, f core.Filter) ([]core.Report, error) {
	q := p.db.WithContext(ctx).Model(&core.Report{})
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	var out []core.Report
	if err := q.Order("created_at desc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresDB) UpdateStatus(ctx context.Context, id string, status core.CrimeStatus) error {
	res := p.db.WithContext(ctx).Model(&core.Report{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", core.ErrReportNotFound, id)
	}
	return nil
}

// AddVerifier inserts (reportID, actorID) unless present and returns the
// resulting verifier count, all in one transaction.
func (p *PostgresDB) AddVerifier(ctx context.Context, reportID, actorID string) (int, bool, error) {
	var (
		count int64
		added bool
	)
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&verifierRecord{ReportID: reportID, ActorID: actorID})
		if res.Error != nil {
			return res.Error
		}
		added = res.RowsAffected == 1
		return tx.Model(&verifierRecord{}).Where("report_id = ?", reportID).Count(&count).Error
	})
	if err != nil {
		return 0, false, err
	}
	return int(count), added, nil
}

func (p *PostgresDB) CountVerifiers(ctx context.Context, reportID string) (int, error) {
	var count int64
	err := p.db.WithContext(ctx).Model(&verifierRecord{}).Where("report_id = ?", reportID).Count(&count).Error
	return int(count), err
}

func (p *PostgresDB) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
