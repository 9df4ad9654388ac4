package diffuse

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Default beta range for strategies that interpolate between two bounds.
const (
	defaultBetaStart = 1e-4
	defaultBetaEnd   = 1e-2
)

// Schedule is an immutable sequence of per-timestep noise magnitudes
// ("betas"). It stores only the betas; every derived quantity is computed on
// demand so the invariant 0 < beta < 1 can never drift.
type Schedule struct {
	betas []float64
}

// NewSchedule creates a Schedule from explicit betas. Every beta must lie
// strictly in (0, 1); the input slice is copied.
func NewSchedule(betas []float64) (Schedule, error) {
	if len(betas) == 0 {
		return Schedule{}, fmt.Errorf("%w: empty beta sequence", ErrInvalidConfig)
	}
	for i, b := range betas {
		if b <= 0 || b >= 1 {
			return Schedule{}, fmt.Errorf("%w: beta[%d] = %g not in (0, 1)", ErrInvalidConfig, i, b)
		}
	}
	out := make([]float64, len(betas))
	copy(out, betas)
	return Schedule{betas: out}, nil
}

// ComputeSchedule produces a Schedule of length timeSteps following the
// given strategy. betaRange is optional: nil uses [1e-4, 1e-2]; when given
// it must hold exactly two strictly positive bounds [start, end].
func ComputeSchedule(strategy Strategy, timeSteps int, betaRange []float64) (Schedule, error) {
	if timeSteps <= 0 {
		return Schedule{}, fmt.Errorf("%w: time steps %d must be positive", ErrInvalidConfig, timeSteps)
	}
	start, end := defaultBetaStart, defaultBetaEnd
	if betaRange != nil {
		if len(betaRange) != 2 {
			return Schedule{}, fmt.Errorf("%w: beta range must have exactly two values, got %d", ErrInvalidConfig, len(betaRange))
		}
		if betaRange[0] <= 0 || betaRange[1] <= 0 {
			return Schedule{}, fmt.Errorf("%w: beta range bounds must be positive, got %v", ErrInvalidConfig, betaRange)
		}
		start, end = betaRange[0], betaRange[1]
	}

	var betas []float64
	switch strategy {
	case StrategyLinear:
		betas = linspace(start, end, timeSteps)
	case StrategyConstant:
		betas = fullVec(timeSteps, end)
	case StrategyQuadratic:
		betas = linspace(math.Sqrt(start), math.Sqrt(end), timeSteps)
		for i, b := range betas {
			betas[i] = b * b
		}
	case StrategySigmoid:
		betas = linspace(-6, 6, timeSteps)
		for i, x := range betas {
			betas[i] = start + (end-start)/(1+math.Exp(-x))
		}
	case StrategyCosine:
		betas = cosineBetas(timeSteps)
	default:
		return Schedule{}, fmt.Errorf("%w: unknown schedule strategy %v", ErrInvalidConfig, strategy)
	}
	return NewSchedule(betas)
}

// cosineBetas derives betas from the cosine alpha-bar curve
// f(k) = cos²(((k/T + s) / (1 + s)) · π/2) with offset s = 0.008,
// beta_i = 1 − f(i+1)/f(i), capped at 0.999.
func cosineBetas(timeSteps int) []float64 {
	const offset = 0.008
	f := func(k float64) float64 {
		c := math.Cos((k/float64(timeSteps) + offset) / (1 + offset) * math.Pi / 2)
		return c * c
	}
	betas := make([]float64, timeSteps)
	for i := range betas {
		b := 1 - f(float64(i+1))/f(float64(i))
		betas[i] = math.Min(b, 0.999)
	}
	return betas
}

func linspace(start, end float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (end - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// Len returns the number of timesteps.
func (s Schedule) Len() int {
	return len(s.betas)
}

// Betas returns a copy of the scheduled betas.
func (s Schedule) Betas() []float64 {
	out := make([]float64, len(s.betas))
	copy(out, s.betas)
	return out
}

// Alphas returns 1 − betas.
func (s Schedule) Alphas() []float64 {
	out := make([]float64, len(s.betas))
	for i, b := range s.betas {
		out[i] = 1 - b
	}
	return out
}

// AlphasCumprod returns the running product of alphas ("alpha bar").
func (s Schedule) AlphasCumprod() []float64 {
	out := make([]float64, len(s.betas))
	return floats.CumProd(out, s.Alphas())
}

// AlphasCumprodPrev returns AlphasCumprod shifted right by one, with a
// leading 1.
func (s Schedule) AlphasCumprodPrev() []float64 {
	acp := s.AlphasCumprod()
	out := make([]float64, len(acp))
	out[0] = 1
	copy(out[1:], acp[:len(acp)-1])
	return out
}

// PosteriorVariance returns betas · (1 − alpha_bar_prev) / (1 − alpha_bar).
func (s Schedule) PosteriorVariance() []float64 {
	acp := s.AlphasCumprod()
	prev := s.AlphasCumprodPrev()
	out := make([]float64, len(s.betas))
	for i, b := range s.betas {
		out[i] = b * (1 - prev[i]) / (1 - acp[i])
	}
	return out
}

// SqrtAlphasCumprod returns sqrt(alpha_bar).
func (s Schedule) SqrtAlphasCumprod() []float64 {
	out := s.AlphasCumprod()
	for i, v := range out {
		out[i] = math.Sqrt(v)
	}
	return out
}

// SqrtOneMinusAlphasCumprod returns sqrt(1 − alpha_bar).
func (s Schedule) SqrtOneMinusAlphasCumprod() []float64 {
	out := s.AlphasCumprod()
	for i, v := range out {
		out[i] = math.Sqrt(1 - v)
	}
	return out
}

// SqrtRecipAlphas returns sqrt(1 / alphas).
func (s Schedule) SqrtRecipAlphas() []float64 {
	out := s.Alphas()
	for i, v := range out {
		out[i] = math.Sqrt(1 / v)
	}
	return out
}

// GatherByTimestep indexes a 1-D value sequence by a per-batch timestep
// vector and reshapes the result to broadcast against targetShape: the
// output has rank len(targetShape) with a batch-sized leading axis and
// singleton trailing axes, element b equal to values[t[b]].
// Out-of-range timesteps return ErrTimestepRange.
func GatherByTimestep(values []float64, t []int, targetShape []int) (*Tensor, error) {
	picked, err := gather(values, t)
	if err != nil {
		return nil, err
	}
	shape := make([]int, len(targetShape))
	shape[0] = len(t)
	for i := 1; i < len(shape); i++ {
		shape[i] = 1
	}
	out := NewTensor(shape...)
	copy(out.Data, picked)
	return out, nil
}

// gather is the flat form of GatherByTimestep used internally by the
// samplers: element b equals values[t[b]].
func gather(values []float64, t []int) ([]float64, error) {
	out := make([]float64, len(t))
	for b, ti := range t {
		if ti < 0 || ti >= len(values) {
			return nil, fmt.Errorf("%w: t[%d] = %d, sequence length %d", ErrTimestepRange, b, ti, len(values))
		}
		out[b] = values[ti]
	}
	return out, nil
}

// Per-quantity gather accessors, mirroring the derived statistics above.

// SampleBetas gathers betas at t, shaped to broadcast against targetShape.
func (s Schedule) SampleBetas(t []int, targetShape []int) (*Tensor, error) {
	return GatherByTimestep(s.betas, t, targetShape)
}

// SamplePosteriorVariance gathers the posterior variance at t.
func (s Schedule) SamplePosteriorVariance(t []int, targetShape []int) (*Tensor, error) {
	return GatherByTimestep(s.PosteriorVariance(), t, targetShape)
}

// SampleSqrtAlphasCumprod gathers sqrt(alpha_bar) at t.
func (s Schedule) SampleSqrtAlphasCumprod(t []int, targetShape []int) (*Tensor, error) {
	return GatherByTimestep(s.SqrtAlphasCumprod(), t, targetShape)
}

// SampleSqrtOneMinusAlphasCumprod gathers sqrt(1 − alpha_bar) at t.
func (s Schedule) SampleSqrtOneMinusAlphasCumprod(t []int, targetShape []int) (*Tensor, error) {
	return GatherByTimestep(s.SqrtOneMinusAlphasCumprod(), t, targetShape)
}

// SampleSqrtRecipAlphas gathers sqrt(1/alphas) at t.
func (s Schedule) SampleSqrtRecipAlphas(t []int, targetShape []int) (*Tensor, error) {
	return GatherByTimestep(s.SqrtRecipAlphas(), t, targetShape)
}

// SampleTimesteps draws batch uniform timesteps in [0, Len).
func (s Schedule) SampleTimesteps(rng *rand.Rand, batch int) []int {
	out := make([]int, batch)
	for i := range out {
		out[i] = rng.Intn(len(s.betas))
	}
	return out
}

// scheduleJSON is the serialized form of a Schedule.
type scheduleJSON struct {
	Betas []float64 `json:"betas"`
}

// MarshalJSON implements json.Marshaler.
func (s Schedule) MarshalJSON() ([]byte, error) {
	return json.Marshal(scheduleJSON{Betas: s.betas})
}

// UnmarshalJSON implements json.Unmarshaler. The betas are revalidated.
func (s *Schedule) UnmarshalJSON(data []byte) error {
	var j scheduleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	rebuilt, err := NewSchedule(j.Betas)
	if err != nil {
		return err
	}
	*s = rebuilt
	return nil
}
