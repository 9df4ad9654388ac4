package diffuse

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// DDPMConfig configures a DDPM manager.
// Zero values produce sensible defaults; see field comments.
type DDPMConfig struct {
	TimeSteps         int                   // required, > 0
	Schedule          Schedule              // zero → linear schedule over TimeSteps
	FastSamplingSteps []int                 // optional strictly decreasing step subset
	Seed              int64                 // zero → time-based seed
	Logger            *logrus.Logger        // nil → logrus.StandardLogger()
	Progress          func(step, total int) // optional per-step callback
}

// DDPM is the discrete ancestral diffusion manager. Forward noising and the
// reverse step both read the beta schedule's derived statistics; when a fast
// sampling step list is configured, Sample walks that subset with a
// deterministic shortened update instead of the full loop.
type DDPM struct {
	sampler
	schedule  Schedule
	fastSteps []int
}

var _ Manager = (*DDPM)(nil)

// NewDDPM creates a DDPM manager for the given prediction model.
func NewDDPM(model Model, cfg DDPMConfig) (*DDPM, error) {
	base, err := newSampler(model, cfg.TimeSteps, cfg.Seed, cfg.Logger, cfg.Progress)
	if err != nil {
		return nil, err
	}

	sched := cfg.Schedule
	if sched.Len() == 0 {
		sched, err = ComputeSchedule(StrategyLinear, cfg.TimeSteps, nil)
		if err != nil {
			return nil, err
		}
	} else if sched.Len() != cfg.TimeSteps {
		return nil, fmt.Errorf("%w: schedule length %d does not match time steps %d", ErrInvalidConfig, sched.Len(), cfg.TimeSteps)
	}

	if err := validateFastSteps(cfg.FastSamplingSteps, cfg.TimeSteps); err != nil {
		return nil, err
	}

	return &DDPM{sampler: base, schedule: sched, fastSteps: cfg.FastSamplingSteps}, nil
}

// validateFastSteps checks that the step subset is strictly decreasing and
// inside [1, timeSteps].
func validateFastSteps(steps []int, timeSteps int) error {
	for i, tau := range steps {
		if tau < 1 || tau > timeSteps {
			return fmt.Errorf("%w: fast sampling step %d outside [1, %d]", ErrInvalidConfig, tau, timeSteps)
		}
		if i > 0 && tau >= steps[i-1] {
			return fmt.Errorf("%w: fast sampling steps must be strictly decreasing, got %d after %d", ErrInvalidConfig, tau, steps[i-1])
		}
	}
	return nil
}

// Schedule returns the beta schedule in use.
func (m *DDPM) Schedule() Schedule {
	return m.schedule
}

// FastSampling reports whether a fast sampling step list is configured.
func (m *DDPM) FastSampling() bool {
	return len(m.fastSteps) > 0
}

// ForwardDiffusion noises x0 at timestep t: x_t = sqrt(ᾱ_t)·x0 +
// sqrt(1−ᾱ_t)·z with fresh standard normal z. When t is nil it is drawn
// uniformly from [0, TimeSteps). The returned target is z itself.
func (m *DDPM) ForwardDiffusion(x0 *Tensor, condition *Tensor, t []float64) (TimedSample, *Tensor, error) {
	var ts []int
	if t == nil {
		ts = m.schedule.SampleTimesteps(m.rng, x0.Batch())
		t = make([]float64, len(ts))
		for i, v := range ts {
			t[i] = float64(v)
		}
	} else {
		ts = roundTimesteps(t, 1)
	}

	sqrtAC, err := gather(m.schedule.SqrtAlphasCumprod(), ts)
	if err != nil {
		return TimedSample{}, nil, err
	}
	sqrtOM, err := gather(m.schedule.SqrtOneMinusAlphasCumprod(), ts)
	if err != nil {
		return TimedSample{}, nil, err
	}

	z := RandnLike(m.rng, x0)
	xt := x0.Clone()
	xt.ScaleBatch(sqrtAC)
	xt.AddScaledBatch(sqrtOM, z)
	return TimedSample{X: xt, T: t, Condition: condition}, z, nil
}

// SamplingStep computes x_{i−1} via the DDPM ancestral rule. Posterior
// noise is added for every step except the last (i == 1).
func (m *DDPM) SamplingStep(data TimedSample, i int) (*Tensor, error) {
	y, _, err := m.samplingStep(data, i)
	return y, err
}

// SamplingStepNoise is SamplingStep when the model's predicted noise is
// also wanted.
func (m *DDPM) SamplingStepNoise(data TimedSample, i int) (*Tensor, *Tensor, error) {
	return m.samplingStep(data, i)
}

func (m *DDPM) samplingStep(data TimedSample, i int) (*Tensor, *Tensor, error) {
	// The loop runs timeSteps..1; schedule arrays are indexed at i−1.
	idx := fullInts(data.X.Batch(), i-1)

	betas, err := gather(m.schedule.Betas(), idx)
	if err != nil {
		return nil, nil, err
	}
	sqrtOM, err := gather(m.schedule.SqrtOneMinusAlphasCumprod(), idx)
	if err != nil {
		return nil, nil, err
	}
	sqrtRA, err := gather(m.schedule.SqrtRecipAlphas(), idx)
	if err != nil {
		return nil, nil, err
	}

	eps, err := m.model.Forward(data)
	if err != nil {
		return nil, nil, err
	}

	// x_mean = sqrt(1/alpha)·(x − beta/sqrt(1−ᾱ)·eps)
	coef := make([]float64, len(betas))
	for b := range coef {
		coef[b] = -betas[b] / sqrtOM[b]
	}
	mean := data.X.Clone()
	mean.AddScaledBatch(coef, eps)
	mean.ScaleBatch(sqrtRA)

	if i > 1 {
		pv, err := gather(m.schedule.PosteriorVariance(), idx)
		if err != nil {
			return nil, nil, err
		}
		for b := range pv {
			pv[b] = math.Sqrt(pv[b])
		}
		mean.AddScaledBatch(pv, RandnLike(m.rng, data.X))
	}
	return mean, eps, nil
}

// FastSamplingStep advances from timestep tau directly to tauPrev using the
// deterministic shortened update: the clean estimate x̂0 is recovered from
// the predicted noise and re-noised at tauPrev.
func (m *DDPM) FastSamplingStep(data TimedSample, tau, tauPrev int) (*Tensor, error) {
	acp := m.schedule.AlphasCumprod()
	if tau < 1 || tau > len(acp) {
		return nil, fmt.Errorf("%w: tau = %d, sequence length %d", ErrTimestepRange, tau, len(acp))
	}
	a := acp[tau-1]
	aPrev := 1.0
	if tauPrev >= 1 {
		if tauPrev > len(acp) {
			return nil, fmt.Errorf("%w: tau_prev = %d, sequence length %d", ErrTimestepRange, tauPrev, len(acp))
		}
		aPrev = acp[tauPrev-1]
	}

	eps, err := m.model.Forward(data)
	if err != nil {
		return nil, err
	}

	batch := data.X.Batch()
	// x̂0 = (x − sqrt(1−ᾱ_tau)·eps) / sqrt(ᾱ_tau)
	x0 := data.X.Clone()
	x0.AddScaledBatch(fullVec(batch, -math.Sqrt(1-a)), eps)
	x0.ScaleBatch(fullVec(batch, 1/math.Sqrt(a)))

	// x_{tau'} = sqrt(ᾱ_tau')·x̂0 + sqrt(1−ᾱ_tau')·eps
	x0.ScaleBatch(fullVec(batch, math.Sqrt(aPrev)))
	x0.AddScaledBatch(fullVec(batch, math.Sqrt(1-aPrev)), eps)
	return x0, nil
}

// Sample reverses the diffusion process starting from the seed noise and
// returns exactly numSamples generated items. stepRange overrides the
// default descending range TimeSteps..1. When a fast sampling step list is
// configured and no explicit range is given, the shortened walk is used.
// Cancelling ctx terminates early and returns the partial result.
func (m *DDPM) Sample(ctx context.Context, numSamples int, seed *Tensor, condition *Tensor, stepRange []int) ([]*Tensor, error) {
	if m.FastSampling() && stepRange == nil {
		return m.loop(ctx, numSamples, seed, condition, m.fastSteps, func(data TimedSample, pos, tau int) (*Tensor, error) {
			tauPrev := 0
			if pos+1 < len(m.fastSteps) {
				tauPrev = m.fastSteps[pos+1]
			}
			return m.FastSamplingStep(data, tau, tauPrev)
		})
	}
	return m.sampler.sample(ctx, m, numSamples, seed, condition, stepRange)
}

// Evaluate runs sampling-based evaluation over the batches; see Evaluate in
// evaluate.go for the contract.
func (m *DDPM) Evaluate(ctx context.Context, batches []Batch, metrics map[string]Metric, stepRange []int) (map[string]float64, error) {
	return m.evaluate(ctx, m, batches, metrics, stepRange)
}

// fullInts returns a length-n slice filled with v.
func fullInts(n, v int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = v
	}
	return s
}
