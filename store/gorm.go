package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/nodeflow/internal/database"
	"github.com/BaSui01/nodeflow/workflow"
)

// workflowRecord is the SQL row for a definition. The graph is stored as
// JSON text so every driver can hold it.
type workflowRecord struct {
	ID          string    `gorm:"primaryKey;size:64"`
	Name        string    `gorm:"size:255;not null"`
	Description string    `gorm:"type:text"`
	Version     int       `gorm:"not null;default:1"`
	Graph       string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"index;autoUpdateTime:false"`
}

func (workflowRecord) TableName() string { return "nodeflow_workflows" }

// runRecord is the SQL row for one run's execution history.
type runRecord struct {
	ID         string    `gorm:"primaryKey;size:64"`
	WorkflowID string    `gorm:"index;size:64"`
	Status     string    `gorm:"size:32;index"`
	StartTime  time.Time `gorm:"index"`
	EndTime    time.Time
	DurationMs int64
	Error      string `gorm:"type:text"`
	History    string `gorm:"type:text;not null"`
}

func (runRecord) TableName() string { return "nodeflow_runs" }

func toRecord(def *workflow.Definition) (*workflowRecord, error) {
	graph, err := json.Marshal(def.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal graph: %w", err)
	}
	return &workflowRecord{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Version:     def.Version,
		Graph:       string(graph),
		CreatedAt:   def.CreatedAt,
		UpdatedAt:   def.UpdatedAt,
	}, nil
}

func (r *workflowRecord) toDefinition() (*workflow.Definition, error) {
	def := &workflow.Definition{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.Graph), &def.Data); err != nil {
		return nil, fmt.Errorf("decode graph of %s: %w", r.ID, err)
	}
	return def, nil
}

// QueryRecorder receives query timings. metrics.Collector implements it.
type QueryRecorder interface {
	RecordDBQuery(database, operation string, duration time.Duration)
}

// GormStore keeps definitions and run histories in a SQL database through
// GORM. It implements both Store and workflow.HistoryStore.
type GormStore struct {
	pool    *database.PoolManager
	logger  *zap.Logger
	metrics QueryRecorder
}

// GormOption customizes NewGormStore.
type GormOption func(*gormOptions)

type gormOptions struct {
	skipAutoMigrate bool
}

// WithoutAutoMigrate leaves the schema to internal/migration.
func WithoutAutoMigrate() GormOption {
	return func(o *gormOptions) { o.skipAutoMigrate = true }
}

// NewGormStore migrates the schema and returns a store over the pool.
func NewGormStore(pool *database.PoolManager, logger *zap.Logger, metrics QueryRecorder, opts ...GormOption) (*GormStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: pool is nil", ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var o gormOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !o.skipAutoMigrate {
		if err := pool.DB().AutoMigrate(&workflowRecord{}, &runRecord{}); err != nil {
			return nil, fmt.Errorf("migrate workflow tables: %w", err)
		}
	}
	return &GormStore{
		pool:    pool,
		logger:  logger.With(zap.String("component", "gorm_store")),
		metrics: metrics,
	}, nil
}

func (s *GormStore) observe(op string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery("workflows", op, time.Since(start))
	}
}

// GetWorkflowByID implements workflow.WorkflowLoader.
func (s *GormStore) GetWorkflowByID(ctx context.Context, id string) (*workflow.Definition, error) {
	defer s.observe("get", time.Now())

	var rec workflowRecord
	err := s.pool.DB().WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	return rec.toDefinition()
}

// List returns all definitions, most recently updated first.
func (s *GormStore) List(ctx context.Context) ([]*workflow.Definition, error) {
	defer s.observe("list", time.Now())

	var recs []workflowRecord
	if err := s.pool.DB().WithContext(ctx).Order("updated_at desc, id asc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	out := make([]*workflow.Definition, 0, len(recs))
	for i := range recs {
		def, err := recs[i].toDefinition()
		if err != nil {
			s.logger.Warn("skipping unreadable workflow row", zap.String("id", recs[i].ID), zap.Error(err))
			continue
		}
		out = append(out, def)
	}
	return out, nil
}

// Save creates or replaces a definition inside a transaction, retrying on
// deadlocks and serialization failures.
func (s *GormStore) Save(ctx context.Context, def *workflow.Definition) error {
	if def == nil {
		return ErrInvalidInput
	}
	defer s.observe("save", time.Now())

	return s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		var existing *workflow.Definition
		if def.ID != "" {
			var rec workflowRecord
			err := tx.First(&rec, "id = ?", def.ID).Error
			switch {
			case err == nil:
				existing = &workflow.Definition{CreatedAt: rec.CreatedAt, Version: rec.Version}
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}
		}
		if err := prepareSave(def, existing, time.Now().UTC()); err != nil {
			return err
		}
		rec, err := toRecord(def)
		if err != nil {
			return err
		}
		return tx.Save(rec).Error
	})
}

// Delete removes a definition. Its run history is kept.
func (s *GormStore) Delete(ctx context.Context, id string) error {
	defer s.observe("delete", time.Now())

	res := s.pool.DB().WithContext(ctx).Delete(&workflowRecord{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete workflow %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound(id)
	}
	return nil
}

// SaveExecution implements workflow.HistoryStore.
func (s *GormStore) SaveExecution(ctx context.Context, history *workflow.ExecutionHistory) error {
	if history == nil {
		return ErrInvalidInput
	}
	defer s.observe("save_run", time.Now())

	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal execution history: %w", err)
	}
	rec := &runRecord{
		ID:         history.ExecutionID,
		WorkflowID: history.WorkflowID,
		Status:     string(history.Status),
		StartTime:  history.StartTime,
		EndTime:    history.EndTime,
		DurationMs: history.Duration.Milliseconds(),
		Error:      history.Error,
		History:    string(data),
	}
	return s.pool.DB().WithContext(ctx).Save(rec).Error
}

// GetExecution implements workflow.HistoryStore.
func (s *GormStore) GetExecution(ctx context.Context, executionID string) (*workflow.ExecutionHistory, error) {
	defer s.observe("get_run", time.Now())

	var rec runRecord
	err := s.pool.DB().WithContext(ctx).First(&rec, "id = ?", executionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrExecutionNotFound, executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", executionID, err)
	}
	return decodeHistory(rec.History)
}

// ListExecutions implements workflow.HistoryStore. An empty workflowID
// lists every run; limit <= 0 means no limit.
func (s *GormStore) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*workflow.ExecutionHistory, error) {
	defer s.observe("list_runs", time.Now())

	q := s.pool.DB().WithContext(ctx).Order("start_time desc")
	if workflowID != "" {
		q = q.Where("workflow_id = ?", workflowID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []runRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]*workflow.ExecutionHistory, 0, len(recs))
	for i := range recs {
		h, err := decodeHistory(recs[i].History)
		if err != nil {
			s.logger.Warn("skipping unreadable run row", zap.String("id", recs[i].ID), zap.Error(err))
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func decodeHistory(data string) (*workflow.ExecutionHistory, error) {
	var h workflow.ExecutionHistory
	if err := json.Unmarshal([]byte(data), &h); err != nil {
		return nil, fmt.Errorf("decode execution history: %w", err)
	}
	return &h, nil
}

// Ping checks the database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *GormStore) Close() error {
	return s.pool.Close()
}
