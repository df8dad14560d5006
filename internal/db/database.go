package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ubuygold/studygen/internal/config"
	"github.com/ubuygold/studygen/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// UsageReport aggregates the usage counters of one day.
type UsageReport struct {
	Day         string `json:"day"`
	Users       int64  `json:"users"`
	Generations int64  `json:"generations"`
}

// Service is the persistence contract used by the quota ledger, the admin routes and the scheduler.
type Service interface {
	// CheckAndIncrementUsage creates the (userID, day) counter at 0 if needed and increments it
	// only when it is below limit, all in one transaction. It reports whether the increment
	// happened and the counter value afterwards.
	CheckAndIncrementUsage(ctx context.Context, userID, day string, limit int) (bool, int, error)
	GetUsage(ctx context.Context, userID, day string) (*model.UsageCounter, error)
	UsageReport(ctx context.Context, day string) (*UsageReport, error)

	HasUnlimitedGrant(ctx context.Context, userID string) (bool, error)
	ListUnlimitedGrants(ctx context.Context) ([]model.UnlimitedGrant, error)
	SaveUnlimitedGrant(ctx context.Context, grant *model.UnlimitedGrant) error
	DeleteUnlimitedGrant(ctx context.Context, userID string) error

	Close() error
}

type gormService struct {
	db *gorm.DB
}

// Init opens the database connection based on the provided configuration and migrates the schema.
func Init(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Type == "sqlite" {
		// sqlite allows one writer; a single connection also keeps in-memory databases shared.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&model.UsageCounter{}, &model.UnlimitedGrant{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	return db, nil
}

// NewService opens the database and wraps it in a Service.
func NewService(cfg config.DatabaseConfig) (Service, error) {
	db, err := Init(cfg)
	if err != nil {
		return nil, err
	}
	return &gormService{db: db}, nil
}

// NewServiceFromDB wraps an already opened and migrated gorm handle.
func NewServiceFromDB(db *gorm.DB) Service {
	return &gormService{db: db}
}

func (s *gormService) CheckAndIncrementUsage(ctx context.Context, userID, day string, limit int) (bool, int, error) {
	var allowed bool
	var count int

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := model.UsageCounter{UserID: userID, Day: day}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return fmt.Errorf("ensuring usage counter: %w", err)
		}

		// The limit check lives in the WHERE clause so the database decides it under the row lock.
		result := tx.Model(&model.UsageCounter{}).
			Where("user_id = ? AND day = ? AND generation_count < ?", userID, day, limit).
			UpdateColumns(map[string]interface{}{
				"generation_count": gorm.Expr("generation_count + 1"),
				"updated_at":       time.Now(),
			})
		if result.Error != nil {
			return fmt.Errorf("incrementing usage counter: %w", result.Error)
		}
		allowed = result.RowsAffected == 1

		var row model.UsageCounter
		if err := tx.Where("user_id = ? AND day = ?", userID, day).First(&row).Error; err != nil {
			return fmt.Errorf("reading usage counter: %w", err)
		}
		count = row.Count
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	return allowed, count, nil
}

// GetUsage returns the counter for (userID, day), or a zero counter when none exists yet.
func (s *gormService) GetUsage(ctx context.Context, userID, day string) (*model.UsageCounter, error) {
	var row model.UsageCounter
	err := s.db.WithContext(ctx).Where("user_id = ? AND day = ?", userID, day).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.UsageCounter{UserID: userID, Day: day}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load usage for %s on %s: %w", userID, day, err)
	}
	return &row, nil
}

func (s *gormService) UsageReport(ctx context.Context, day string) (*UsageReport, error) {
	report := UsageReport{Day: day}
	err := s.db.WithContext(ctx).Model(&model.UsageCounter{}).
		Select("COUNT(*) AS users, COALESCE(SUM(generation_count), 0) AS generations").
		Where("day = ?", day).
		Scan(&report).Error
	if err != nil {
		return nil, fmt.Errorf("failed to build usage report for %s: %w", day, err)
	}
	report.Day = day
	return &report, nil
}

func (s *gormService) HasUnlimitedGrant(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.UnlimitedGrant{}).Where("user_id = ?", userID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to look up unlimited grant: %w", err)
	}
	return count > 0, nil
}

func (s *gormService) ListUnlimitedGrants(ctx context.Context) ([]model.UnlimitedGrant, error) {
	var grants []model.UnlimitedGrant
	if err := s.db.WithContext(ctx).Order("created_at asc").Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("failed to list unlimited grants: %w", err)
	}
	return grants, nil
}

// SaveUnlimitedGrant inserts the grant or refreshes an existing one for the same user.
func (s *gormService) SaveUnlimitedGrant(ctx context.Context, grant *model.UnlimitedGrant) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"granted_by", "reason"}),
	}).Create(grant).Error
	if err != nil {
		return fmt.Errorf("failed to save unlimited grant: %w", err)
	}
	return nil
}

func (s *gormService) DeleteUnlimitedGrant(ctx context.Context, userID string) error {
	result := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.UnlimitedGrant{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete unlimited grant: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormService) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
