package usecase

import "context"

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	MatchedRequests    int64   `json:"matched_requests"`
	SuccessRate        float64 `json:"success_rate"`
	MatchRate          float64 `json:"match_rate"`
	AverageConfidence  float64 `json:"average_confidence"`
	AverageLatencyMs   float64 `json:"average_latency_ms"`
}

// GetMetricsSummary aggregates verification metrics from persisted records.
// Match rate is computed over successful verifications, since a failed
// pipeline never reaches a match decision.
func (uc *VerificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.recorder.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:      aggregation.TotalCount,
		SuccessfulRequests: aggregation.SuccessCount,
		MatchedRequests:    aggregation.MatchCount,
		AverageConfidence:  aggregation.AverageConfidence,
		AverageLatencyMs:   aggregation.AverageLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}
	if aggregation.SuccessCount > 0 {
		summary.MatchRate = float64(aggregation.MatchCount) / float64(aggregation.SuccessCount)
	}

	return summary, nil
}
