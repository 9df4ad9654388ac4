package diffuse

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func evalBatches(n, batch, size int) []Batch {
	rng := testRng()
	out := make([]Batch, n)
	for i := range out {
		out[i] = Batch{Reference: Randn(rng, batch, size)}
	}
	return out
}

func TestEvaluateAverages(t *testing.T) {
	m := mustDDPM(t, zeroModel(), DDPMConfig{TimeSteps: 5})

	calls := 0
	metrics := map[string]Metric{
		"constant": func(generated, reference *Tensor) (float64, error) {
			calls++
			return float64(calls), nil
		},
		"size": func(generated, reference *Tensor) (float64, error) {
			return float64(generated.Len()), nil
		},
	}

	summary, err := m.Evaluate(context.Background(), evalBatches(3, 2, 4), metrics, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// constant returns 1, 2, 3 over the three batches.
	assertFloat(t, "constant mean", summary["constant"], 2)
	assertFloat(t, "size mean", summary["size"], 8)
}

func TestEvaluateGeneratedMatchesReference(t *testing.T) {
	m := mustDDPM(t, zeroModel(), DDPMConfig{TimeSteps: 5})

	metrics := map[string]Metric{
		"shape": func(generated, reference *Tensor) (float64, error) {
			if generated.Batch() != reference.Batch() || generated.Len() != reference.Len() {
				return 0, errors.New("shape mismatch")
			}
			return 1, nil
		},
	}
	if _, err := m.Evaluate(context.Background(), evalBatches(2, 3, 6), metrics, nil); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
}

func TestEvaluateMetricError(t *testing.T) {
	m := mustDDPM(t, zeroModel(), DDPMConfig{TimeSteps: 5})

	cause := errors.New("reference distribution empty")
	metrics := map[string]Metric{
		"fid": func(generated, reference *Tensor) (float64, error) {
			return 0, cause
		},
	}
	_, err := m.Evaluate(context.Background(), evalBatches(1, 2, 4), metrics, nil)
	if !errors.Is(err, ErrMetric) {
		t.Errorf("error = %v, want ErrMetric", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error = %v, cause not preserved", err)
	}
	if want := `"fid"`; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not name the metric", err)
	}
}

func TestEvaluateSamplingError(t *testing.T) {
	cause := errors.New("device lost")
	failing := ModelFunc(func(x *Tensor, t []float64, condition *Tensor) (*Tensor, error) {
		return nil, cause
	})
	m := mustDDPM(t, failing, DDPMConfig{TimeSteps: 5})

	metrics := map[string]Metric{
		"any": func(generated, reference *Tensor) (float64, error) { return 0, nil },
	}
	_, err := m.Evaluate(context.Background(), evalBatches(1, 2, 4), metrics, nil)
	if !errors.Is(err, ErrTesting) {
		t.Errorf("error = %v, want ErrTesting", err)
	}
	if !errors.Is(err, ErrPrediction) {
		t.Errorf("error = %v, prediction failure not preserved", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error = %v, cause not preserved", err)
	}
}

func TestEvaluateMetricPanic(t *testing.T) {
	m := mustDDPM(t, zeroModel(), DDPMConfig{TimeSteps: 5})

	metrics := map[string]Metric{
		"exploding": func(generated, reference *Tensor) (float64, error) {
			panic("divide by zero in covariance")
		},
	}
	_, err := m.Evaluate(context.Background(), evalBatches(1, 2, 4), metrics, nil)
	if !errors.Is(err, ErrTesting) {
		t.Errorf("error = %v, want ErrTesting", err)
	}
}

func TestEvaluateCancelled(t *testing.T) {
	m := mustDDPM(t, zeroModel(), DDPMConfig{TimeSteps: 5})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	metrics := map[string]Metric{
		"never": func(generated, reference *Tensor) (float64, error) {
			t.Error("metric ran after cancellation")
			return 0, nil
		},
	}
	summary, err := m.Evaluate(ctx, evalBatches(3, 2, 4), metrics, nil)
	if err != nil {
		t.Fatalf("cancelled evaluation returned error: %v", err)
	}
	if summary == nil || len(summary) != 0 {
		t.Errorf("summary = %v, want empty map", summary)
	}
}

func TestEvaluateNoBatches(t *testing.T) {
	m := mustDDPM(t, zeroModel(), DDPMConfig{TimeSteps: 5})
	summary, err := m.Evaluate(context.Background(), nil, map[string]Metric{
		"any": func(generated, reference *Tensor) (float64, error) { return 1, nil },
	}, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(summary) != 0 {
		t.Errorf("summary = %v, want empty", summary)
	}
}
