package diffuse

import (
	"context"
	"fmt"
)

// Batch is one evaluation unit: the condition handed to the sampler and the
// reference the generated output is measured against.
type Batch struct {
	Condition *Tensor
	Reference *Tensor
}

// Metric measures a generated batch against its reference.
type Metric func(generated, reference *Tensor) (float64, error)

// evaluate generates samples for every batch and folds the metrics into an
// averaged summary. Cancelling ctx logs the interrupt and returns an empty
// summary with a nil error. A metric failure is wrapped in ErrMetric with
// the metric's name; any other failure in ErrTesting. Both preserve the
// cause for errors.Is / errors.Unwrap chains.
func (s *sampler) evaluate(ctx context.Context, m Manager, batches []Batch, metrics map[string]Metric, stepRange []int) (summary map[string]float64, err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("evaluation panicked: %v", r)
			summary = nil
			err = fmt.Errorf("%w: %v", ErrTesting, r)
		}
	}()

	sums := make(map[string]float64, len(metrics))
	counts := make(map[string]int, len(metrics))

	for _, batch := range batches {
		select {
		case <-ctx.Done():
			s.logger.Info("evaluation interrupted")
			return map[string]float64{}, nil
		default:
		}

		noise := RandnLike(s.rng, batch.Reference)
		samples, sampleErr := s.sample(ctx, m, batch.Reference.Batch(), noise, batch.Condition, stepRange)
		if sampleErr != nil {
			s.logger.WithError(sampleErr).Error("evaluation sampling failed")
			return nil, fmt.Errorf("%w: %w", ErrTesting, sampleErr)
		}
		generated := stackBatch(samples)

		for name, fn := range metrics {
			v, metricErr := fn(generated, batch.Reference)
			if metricErr != nil {
				s.logger.WithError(metricErr).Errorf("metric %q failed", name)
				return nil, fmt.Errorf("%w: %q: %w", ErrMetric, name, metricErr)
			}
			sums[name] += v
			counts[name]++
		}
	}

	summary = make(map[string]float64, len(sums))
	for name, total := range sums {
		summary[name] = total / float64(counts[name])
	}
	return summary, nil
}
