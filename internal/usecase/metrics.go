package usecase

import "context"

// MetricsSummary represents aggregated screening insights.
type MetricsSummary struct {
	TotalPredictions           int64   `json:"total_predictions"`
	PneumoniaPredictions       int64   `json:"pneumonia_predictions"`
	PneumoniaRate              float64 `json:"pneumonia_rate"`
	AverageProbability         float64 `json:"average_probability"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
}

// GetMetricsSummary aggregates screening metrics from persisted logs.
func (uc *DetectorUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalPredictions:           aggregation.TotalCount,
		PneumoniaPredictions:       aggregation.PneumoniaCount,
		AverageProbability:         aggregation.AverageProb,
		AverageProcessingLatencyMs: aggregation.AverageLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.PneumoniaRate = float64(aggregation.PneumoniaCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
