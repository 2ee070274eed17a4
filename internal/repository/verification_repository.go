package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// VerificationRecord is the persisted audit entry for one verification
// request. Image payloads and embeddings are never stored, only the derived
// outcome.
type VerificationRecord struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64"`
	Success    bool      `gorm:"column:success"`
	Matched    bool      `gorm:"column:matched"`
	Confidence float64   `gorm:"column:confidence"`
	Distance   float64   `gorm:"column:distance"`
	Threshold  float64   `gorm:"column:threshold"`
	Error      string    `gorm:"column:error;type:text"`
	LatencyMs  float64   `gorm:"column:latency_ms"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationRecord) TableName() string {
	return "verification_records"
}

// MetricsAggregation holds the raw aggregates used by the metrics summary.
type MetricsAggregation struct {
	TotalCount        int64
	SuccessCount      int64
	MatchCount        int64
	AverageConfidence float64
	AverageLatencyMs  float64
}

// VerificationRepository provides persistence for verification records.
type VerificationRepository struct {
	db *gorm.DB
}

// NewVerificationRepository creates a new repository instance.
func NewVerificationRepository(db *gorm.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// AutoMigrate ensures the schema is available.
func (r *VerificationRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&VerificationRecord{})
}

// Save persists one verification record.
func (r *VerificationRepository) Save(ctx context.Context, record *VerificationRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// FindByRequestID retrieves one record by its request identifier.
func (r *VerificationRepository) FindByRequestID(ctx context.Context, requestID string) (*VerificationRecord, error) {
	var record VerificationRecord
	if err := r.db.WithContext(ctx).First(&record, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// AggregateMetrics computes service-level aggregates over all records.
// Confidence is averaged over successful verifications only.
func (r *VerificationRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.db.WithContext(ctx).
		Model(&VerificationRecord{}).
		Select(
			"COUNT(*) AS total_count, " +
				"COUNT(*) FILTER (WHERE success) AS success_count, " +
				"COUNT(*) FILTER (WHERE matched) AS match_count, " +
				"COALESCE(AVG(confidence) FILTER (WHERE success), 0) AS average_confidence, " +
				"COALESCE(AVG(latency_ms), 0) AS average_latency_ms").
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}
	return &agg, nil
}
