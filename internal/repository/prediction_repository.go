package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/xray-check/internal/logging"
)

// PredictionLog is one persisted classification.
type PredictionLog struct {
	ID                uint      `gorm:"primaryKey"`
	RequestID         string    `gorm:"column:request_id;uniqueIndex;size:64"`
	SessionID         string    `gorm:"column:session_id;index;size:64"`
	Filename          string    `gorm:"column:filename;size:255"`
	SHA1Hash          string    `gorm:"column:sha1_hash;index;size:40"`
	Label             string    `gorm:"column:label;size:16"`
	Probability       float64   `gorm:"column:probability"`
	ConfidencePercent float64   `gorm:"column:confidence_percent"`
	LatencyMs         int64     `gorm:"column:latency_ms"`
	CreatedAt         time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (PredictionLog) TableName() string {
	return "prediction_logs"
}

// MetricsAggregation holds raw aggregates over all prediction logs.
type MetricsAggregation struct {
	TotalCount       int64
	PneumoniaCount   int64
	AverageProb      float64
	AverageLatencyMs float64
}

// PredictionRepository provides persistence APIs for prediction logs.
type PredictionRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewPredictionRepository creates a new repository instance.
func NewPredictionRepository(db *gorm.DB, logger *zap.Logger) *PredictionRepository {
	return &PredictionRepository{
		db:             db,
		logger:         logger.Named("prediction_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *PredictionRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&PredictionLog{})
}

// SaveLog persists a prediction log entry.
func (r *PredictionRepository) SaveLog(ctx context.Context, log *PredictionLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// ListBySession returns the newest logs for a session first.
func (r *PredictionRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*PredictionLog, error) {
	var logs []*PredictionLog
	err := r.executeWithRetry(ctx, "repository.list_by_session", "", func() error {
		logs = nil
		return r.db.WithContext(ctx).
			Where("session_id = ?", sessionID).
			Order("created_at DESC").
			Limit(limit).
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes totals across all logs.
func (r *PredictionRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		TotalCount       int64
		PneumoniaCount   int64
		AverageProb      float64
		AverageLatencyMs float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&PredictionLog{}).
			Select("COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN label = 'Pneumonia' THEN 1 ELSE 0 END), 0) AS pneumonia_count, " +
				"COALESCE(AVG(probability), 0) AS average_prob, " +
				"COALESCE(AVG(latency_ms), 0) AS average_latency_ms").
			Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return &MetricsAggregation{
		TotalCount:       row.TotalCount,
		PneumoniaCount:   row.PneumoniaCount,
		AverageProb:      row.AverageProb,
		AverageLatencyMs: row.AverageLatencyMs,
	}, nil
}

func (r *PredictionRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
