package storage

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pactguard/pactguard/internal/config"
)

// Store wraps the GORM database connection
type Store struct {
	*gorm.DB
}

// NewStore creates a new database connection
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	logLevel := logger.Silent
	if cfg.SSLMode == "disable" { // Development mode indicator
		logLevel = logger.Info
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &Store{DB: db}, nil
}

// AutoMigrate runs automatic migration for all models
func (s *Store) AutoMigrate() error {
	return s.DB.AutoMigrate(
		&AuditEntry{},
		&ViolationRecord{},
		&ScoreSnapshot{},
	)
}

// Close closes the database connection
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks the database connection
func (s *Store) Health() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// AuditRepository provides database operations for audit entries
type AuditRepository struct {
	db *Store
}

func NewAuditRepository(db *Store) *AuditRepository {
	return &AuditRepository{db: db}
}

// CreateBatch persists a batch of audit entries in one transaction
func (r *AuditRepository) CreateBatch(entries []AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.Create(&entries).Error
}

// ListByEndpoint returns the most recent audit entries for an endpoint
func (r *AuditRepository) ListByEndpoint(endpoint string, limit int) ([]AuditEntry, error) {
	var entries []AuditEntry
	err := r.db.Where("endpoint = ?", endpoint).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// DeleteOlderThan removes audit entries created before the cutoff
func (r *AuditRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := r.db.Where("created_at < ?", cutoff).Delete(&AuditEntry{})
	return result.RowsAffected, result.Error
}

// ViolationRepository provides database operations for violation records
type ViolationRepository struct {
	db *Store
}

func NewViolationRepository(db *Store) *ViolationRepository {
	return &ViolationRepository{db: db}
}

func (r *ViolationRepository) Create(record *ViolationRecord) error {
	return r.db.Create(record).Error
}

// ListByEndpoint returns the most recent violations for an endpoint
func (r *ViolationRepository) ListByEndpoint(endpoint string, limit int) ([]ViolationRecord, error) {
	var records []ViolationRecord
	err := r.db.Where("endpoint = ?", endpoint).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// CountBySeverity aggregates violation counts per severity since the cutoff
func (r *ViolationRepository) CountBySeverity(since time.Time) (map[string]int64, error) {
	type row struct {
		Severity string
		Count    int64
	}
	var rows []row
	err := r.db.Model(&ViolationRecord{}).
		Select("severity, count(*) as count").
		Where("created_at >= ?", since).
		Group("severity").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Severity] = r.Count
	}
	return counts, nil
}

func (r *ViolationRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := r.db.Where("created_at < ?", cutoff).Delete(&ViolationRecord{})
	return result.RowsAffected, result.Error
}

// ScoreRepository provides database operations for score snapshots
type ScoreRepository struct {
	db *Store
}

func NewScoreRepository(db *Store) *ScoreRepository {
	return &ScoreRepository{db: db}
}

func (r *ScoreRepository) Create(snapshot *ScoreSnapshot) error {
	return r.db.Create(snapshot).Error
}

// ListByEndpoint returns snapshots for an endpoint since the cutoff
func (r *ScoreRepository) ListByEndpoint(endpoint string, since time.Time) ([]ScoreSnapshot, error) {
	var snapshots []ScoreSnapshot
	err := r.db.Where("endpoint = ? AND created_at >= ?", endpoint, since).
		Order("created_at ASC").
		Find(&snapshots).Error
	return snapshots, err
}

func (r *ScoreRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := r.db.Where("created_at < ?", cutoff).Delete(&ScoreSnapshot{})
	return result.RowsAffected, result.Error
}
