package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"road-damage-reporting/services/report-service/models"
)

var (
	// ErrPersistenceUnavailable means the backend is missing or unreachable:
	// an operator needs to fix configuration, retrying will not help.
	ErrPersistenceUnavailable = errors.New("report database unavailable: check DATABASE_URL configuration")
	// ErrWriteFailed covers transient backend write errors.
	ErrWriteFailed       = errors.New("report write failed")
	ErrReportNotFound    = errors.New("report not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ReportStore is the durable persistence boundary for reports.
type ReportStore interface {
	Create(ctx context.Context, draft models.ReportDraft) (models.Report, error)
	Get(ctx context.Context, id string) (models.Report, error)
	UpdateStatus(ctx context.Context, id string, status models.ReportStatus) (bool, error)
}

type PostgresReportStore struct {
	db *gorm.DB
}

func NewPostgresReportStore(db *gorm.DB) (*PostgresReportStore, error) {
	if db == nil {
		return nil, ErrPersistenceUnavailable
	}
	if err := db.AutoMigrate(&models.Report{}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return &PostgresReportStore{db: db}, nil
}

// Create assigns id and created_at, sets status to submitted, inserts the
// row, and re-reads it so callers see exactly what was persisted.
func (s *PostgresReportStore) Create(ctx context.Context, draft models.ReportDraft) (models.Report, error) {
	if s.db == nil {
		return models.Report{}, ErrPersistenceUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	record := models.Report{
		ID:              uuid.New().String(),
		LocationLat:     draft.Location.Lat,
		LocationLng:     draft.Location.Lng,
		LocationAddress: draft.Location.Address,
		DamageType:      draft.DamageType,
		Severity:        draft.Severity,
		Remarks:         draft.Remarks,
		ImageURL:        draft.ImageURL,
		Status:          models.StatusSubmitted,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return models.Report{}, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	var persisted models.Report
	if err := s.db.WithContext(ctx).First(&persisted, "id = ?", record.ID).Error; err != nil {
		return models.Report{}, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	return persisted, nil
}

func (s *PostgresReportStore) Get(ctx context.Context, id string) (models.Report, error) {
	if s.db == nil {
		return models.Report{}, ErrPersistenceUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var report models.Report
	err := s.db.WithContext(ctx).First(&report, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Report{}, ErrReportNotFound
		}
		return models.Report{}, fmt.Errorf("failed to fetch report: %w", err)
	}

	return report, nil
}

// UpdateStatus moves a report forward along its lifecycle. Transitions
// backwards or out of the terminal status are rejected rather than silently
// applied.
func (s *PostgresReportStore) UpdateStatus(ctx context.Context, id string, status models.ReportStatus) (bool, error) {
	if s.db == nil {
		return false, ErrPersistenceUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	current, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}

	if !current.Status.CanTransitionTo(status) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
	}

	result := s.db.WithContext(ctx).Model(&models.Report{}).
		Where("id = ? AND status = ?", id, current.Status).
		Update("status", status)
	if result.Error != nil {
		return false, fmt.Errorf("%w: %v", ErrWriteFailed, result.Error)
	}

	return result.RowsAffected > 0, nil
}
