package diffuse_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/noisegen/diffuse"
)

func benchModel() diffuse.Model {
	return diffuse.ModelFunc(func(x *diffuse.Tensor, t []float64, condition *diffuse.Tensor) (*diffuse.Tensor, error) {
		return diffuse.NewTensor(x.Shape...), nil
	})
}

// BenchmarkComputeSchedule measures building a full cosine schedule with its
// derived statistics.
func BenchmarkComputeSchedule(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s, err := diffuse.ComputeSchedule(diffuse.StrategyCosine, 1000, nil)
		if err != nil {
			b.Fatal(err)
		}
		s.PosteriorVariance()
	}
}

// BenchmarkForwardDiffusion measures one forward noising pass over a batch.
func BenchmarkForwardDiffusion(b *testing.B) {
	m, err := diffuse.NewDDPM(benchModel(), diffuse.DDPMConfig{TimeSteps: 1000, Seed: 42})
	if err != nil {
		b.Fatal(err)
	}
	rng := rand.New(rand.NewSource(1))
	x0 := diffuse.Randn(rng, 16, 3, 32, 32)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := m.ForwardDiffusion(x0, nil, nil); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSamplingStep measures one reverse ancestral step.
func BenchmarkSamplingStep(b *testing.B) {
	m, err := diffuse.NewDDPM(benchModel(), diffuse.DDPMConfig{TimeSteps: 1000, Seed: 42})
	if err != nil {
		b.Fatal(err)
	}
	rng := rand.New(rand.NewSource(1))
	x := diffuse.Randn(rng, 16, 3, 32, 32)
	t := make([]float64, 16)
	for i := range t {
		t[i] = 500
	}
	data := diffuse.TimedSample{X: x, T: t}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.SamplingStep(data, 500); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkFastSample measures a complete shortened sampling walk.
func BenchmarkFastSample(b *testing.B) {
	m, err := diffuse.NewDDPM(benchModel(), diffuse.DDPMConfig{
		TimeSteps:         1000,
		FastSamplingSteps: []int{1000, 750, 500, 250, 1},
		Seed:              42,
	})
	if err != nil {
		b.Fatal(err)
	}
	rng := rand.New(rand.NewSource(1))
	seed := diffuse.Randn(rng, 4, 3, 16, 16)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Sample(context.Background(), 4, seed, nil, nil); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkVPMarginal measures the closed-form VP marginal over a batch.
func BenchmarkVPMarginal(b *testing.B) {
	sde, err := diffuse.NewVPSDE(0.1, 20, 1000)
	if err != nil {
		b.Fatal(err)
	}
	rng := rand.New(rand.NewSource(1))
	x0 := diffuse.Randn(rng, 16, 3, 32, 32)
	t := make([]float64, 16)
	for i := range t {
		t[i] = 0.5
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sde.MarginalProb(x0, t)
	}
}
