package store

import (
	"context"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/alfredcs/reasonflow/types"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one training run.
type Run struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"index"`
	Status      string
	Beta        float64
	StartedAt   time.Time
	CompletedAt *time.Time
}

// StepRecord is one training step within a run.
type StepRecord struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	RunID      string `gorm:"index"`
	Step       int
	Loss       float64
	MeanReward float64
	NumGroups  int
	BatchSize  int
	CreatedAt  time.Time
}

// Store persists run history.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (or creates) the sqlite database at path and migrates the
// schema. Use ":memory:" for an in-process database.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, types.NewErrorf(types.ErrStoreUnavailable, "open sqlite at %s", path).WithCause(err)
	}
	if err := db.AutoMigrate(&Run{}, &StepRecord{}); err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "migrate schema").WithCause(err)
	}

	logger.Info("run store opened", zap.String("path", path))
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "store")),
	}, nil
}

// CreateRun starts a new run record and returns its id.
func (s *Store) CreateRun(ctx context.Context, name string, beta float64) (string, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    RunStatusRunning,
		Beta:      beta,
		StartedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return "", types.NewError(types.ErrStoreUnavailable, "create run").WithCause(err)
	}
	s.logger.Info("run created", zap.String("run_id", run.ID), zap.String("name", name))
	return run.ID, nil
}

// RecordStep appends one step record to a run.
func (s *Store) RecordStep(ctx context.Context, rec StepRecord) error {
	rec.CreatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return types.NewError(types.ErrStoreUnavailable, "record step").WithCause(err)
	}
	return nil
}

// FinishRun marks a run completed or failed.
func (s *Store) FinishRun(ctx context.Context, runID, status string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&Run{}).
		Where("id = ?", runID).
		Updates(map[string]any{"status": status, "completed_at": &now})
	if res.Error != nil {
		return types.NewError(types.ErrStoreUnavailable, "finish run").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewErrorf(types.ErrDataInvalid, "unknown run %s", runID)
	}
	return nil
}

// GetRun fetches one run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		return nil, types.NewErrorf(types.ErrDataInvalid, "unknown run %s", runID).WithCause(err)
	}
	return &run, nil
}

// ListRuns returns runs ordered by start time, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	var runs []Run
	q := s.db.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "list runs").WithCause(err)
	}
	return runs, nil
}

// RunSteps returns the step records of a run in step order.
func (s *Store) RunSteps(ctx context.Context, runID string) ([]StepRecord, error) {
	var steps []StepRecord
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("step ASC").
		Find(&steps).Error; err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "load steps").WithCause(err)
	}
	return steps, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
