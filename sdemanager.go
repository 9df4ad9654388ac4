package diffuse

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// SDEManagerConfig configures an SDEManager.
type SDEManagerConfig struct {
	TimeSteps  int                   // required, > 0
	SDE        SDE                   // required
	Schedule   *Schedule             // required for KindVP (ancestral formulas)
	Continuous bool                  // continuous-time trained model
	Seed       int64                 // zero → time-based seed
	Logger     *logrus.Logger        // nil → logrus.StandardLogger()
	Progress   func(step, total int) // optional per-step callback
}

// SDEManager orchestrates forward noising and reverse sampling through an
// SDE variant. The score rescaling applied before the prediction network
// and the per-step reverse rule are both selected from dispatch tables
// keyed by the SDE's Kind, so supporting a new variant is a table entry.
type SDEManager struct {
	sampler
	sde        SDE
	schedule   *Schedule
	continuous bool
	sigmas     []float64 // discrete sigma grid, KindVE only
}

var _ Manager = (*SDEManager)(nil)

// NewSDEManager creates an SDE manager for the given prediction model.
// KindVP requires a companion Schedule and fails with ErrMissingSchedule
// without one.
func NewSDEManager(model Model, cfg SDEManagerConfig) (*SDEManager, error) {
	base, err := newSampler(model, cfg.TimeSteps, cfg.Seed, cfg.Logger, cfg.Progress)
	if err != nil {
		return nil, err
	}
	if cfg.SDE == nil {
		return nil, fmt.Errorf("%w: SDE must not be nil", ErrInvalidConfig)
	}
	if cfg.SDE.Kind() == KindVP && cfg.Schedule == nil {
		return nil, fmt.Errorf("%w: %s selected without one", ErrMissingSchedule, cfg.SDE.Kind())
	}

	m := &SDEManager{sampler: base, sde: cfg.SDE, schedule: cfg.Schedule, continuous: cfg.Continuous}
	if cfg.SDE.Kind() == KindVE {
		ve, ok := cfg.SDE.(interface{ DiscreteSigmas() []float64 })
		if !ok {
			return nil, fmt.Errorf("%w: %s SDE does not expose discrete sigmas", ErrUnsupportedSDE, cfg.SDE.Kind())
		}
		m.sigmas = ve.DiscreteSigmas()
	}
	return m, nil
}

// SDE returns the active SDE.
func (m *SDEManager) SDE() SDE {
	return m.sde
}

// Continuous reports whether the manager runs in continuous-time mode.
func (m *SDEManager) Continuous() bool {
	return m.continuous
}

// --- score rescaling ---

type rescaleKey struct {
	kind       Kind
	continuous bool
}

// rescaleFunc maps the raw timestep vector to what the trained network
// expects and returns the divisor applied to its output.
type rescaleFunc func(m *SDEManager, data TimedSample) (t, std []float64, err error)

var rescalers = map[rescaleKey]rescaleFunc{
	{KindSubVP, false}: rescaleContinuousVP,
	{KindSubVP, true}:  rescaleContinuousVP,
	{KindVP, true}:     rescaleContinuousVP,
	{KindVP, false}:    rescaleDiscreteVP,
	{KindVE, true}:     rescaleContinuousVE,
	{KindVE, false}:    rescaleDiscreteVE,
}

func rescaleContinuousVP(m *SDEManager, data TimedSample) ([]float64, []float64, error) {
	t := make([]float64, len(data.T))
	for i, v := range data.T {
		t[i] = v * 999
	}
	_, std := m.sde.MarginalProb(NewTensor(data.X.Shape...), data.T)
	return t, std, nil
}

func rescaleDiscreteVP(m *SDEManager, data TimedSample) ([]float64, []float64, error) {
	scale := float64(m.sde.N() - 1)
	t := make([]float64, len(data.T))
	idx := make([]int, len(data.T))
	for i, v := range data.T {
		t[i] = v * scale
		idx[i] = clampIndex(int(math.Round(t[i])), m.schedule.Len())
	}
	std, err := gather(m.schedule.SqrtOneMinusAlphasCumprod(), idx)
	if err != nil {
		return nil, nil, err
	}
	return t, std, nil
}

func rescaleContinuousVE(m *SDEManager, data TimedSample) ([]float64, []float64, error) {
	// For VE-trained models the time input is the marginal noise scale.
	_, t := m.sde.MarginalProb(NewTensor(data.X.Shape...), data.T)
	return t, fullVec(len(data.T), 1), nil
}

func rescaleDiscreteVE(m *SDEManager, data TimedSample) ([]float64, []float64, error) {
	// t = 0 corresponds to the highest noise level for VE-trained models.
	scale := float64(m.sde.N() - 1)
	t := make([]float64, len(data.T))
	for i, v := range data.T {
		t[i] = math.Round((m.sde.T() - v) * scale)
	}
	return t, fullVec(len(data.T), 1), nil
}

// Forward evaluates the score function: the timestep vector is rescaled for
// the trained network and its output divided by the variant's standard
// deviation. Unsupported kinds fail with ErrUnsupportedSDE.
func (m *SDEManager) Forward(data TimedSample) (*Tensor, error) {
	fn, ok := rescalers[rescaleKey{m.sde.Kind(), m.continuous}]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSDE, m.sde.Kind())
	}
	t, std, err := fn(m, data)
	if err != nil {
		return nil, err
	}
	score, err := m.model.Forward(TimedSample{X: data.X, T: t, Condition: data.Condition})
	if err != nil {
		return nil, err
	}
	y := score.Clone()
	y.DivBatch(std)
	return y, nil
}

// ForwardDiffusion noises x0 through the SDE's marginal: x_t = mean +
// std·z, target noise = z/std. When t is nil it is drawn uniformly from
// [0, TimeSteps).
func (m *SDEManager) ForwardDiffusion(x0 *Tensor, condition *Tensor, t []float64) (TimedSample, *Tensor, error) {
	if t == nil {
		t = m.randTimesteps(x0.Batch())
	}
	z := RandnLike(m.rng, x0)
	mean, std := m.sde.MarginalProb(x0, t)
	xt := mean
	xt.AddScaledBatch(std, z)
	noise := z.Clone()
	noise.DivBatch(std)
	return TimedSample{X: xt, T: t, Condition: condition}, noise, nil
}

// --- reverse steps ---

type stepFunc func(m *SDEManager, data TimedSample) (y, predicted *Tensor, err error)

var steppers = map[Kind]stepFunc{
	KindVE: stepVE,
	KindVP: stepVP,
}

// SamplingStep computes x_{i−1} from the batch at timestep i using the
// variant's reverse rule. Variants without an ancestral rule take the
// deterministic probability-flow step.
func (m *SDEManager) SamplingStep(data TimedSample, i int) (*Tensor, error) {
	y, _, err := m.samplingStep(data)
	return y, err
}

// SamplingStepNoise is SamplingStep when the predicted noise signal is also
// wanted.
func (m *SDEManager) SamplingStepNoise(data TimedSample, i int) (*Tensor, *Tensor, error) {
	return m.samplingStep(data)
}

func (m *SDEManager) samplingStep(data TimedSample) (*Tensor, *Tensor, error) {
	step, ok := steppers[m.sde.Kind()]
	if !ok {
		step = stepGeneric
	}
	return step(m, data)
}

// stepVE is the ancestral sampling predictor for the VE SDE.
func stepVE(m *SDEManager, data TimedSample) (*Tensor, *Tensor, error) {
	n, terminal := m.sde.N(), m.sde.T()
	batch := data.X.Batch()
	diff := make([]float64, batch) // sigma² − adjacent_sigma²
	std := make([]float64, batch)
	for b, tb := range data.T {
		k := timestepIndex(tb, n, terminal)
		sigma := m.sigmas[k]
		adjacent := 0.0
		if k > 0 {
			adjacent = m.sigmas[k-1]
		}
		diff[b] = sigma*sigma - adjacent*adjacent
		std[b] = math.Sqrt(adjacent * adjacent * diff[b] / (sigma * sigma))
	}

	score, err := m.Forward(data)
	if err != nil {
		return nil, nil, err
	}
	mean := data.X.Clone()
	mean.AddScaledBatch(diff, score)
	mean.AddScaledBatch(std, RandnLike(m.rng, data.X))
	return mean, score, nil
}

// stepVP is the ancestral sampling predictor for the VP SDE.
func stepVP(m *SDEManager, data TimedSample) (*Tensor, *Tensor, error) {
	n, terminal := m.sde.N(), m.sde.T()
	idx := make([]int, len(data.T))
	for b, tb := range data.T {
		idx[b] = timestepIndex(tb, n, terminal)
	}
	beta, err := gather(m.schedule.Betas(), idx)
	if err != nil {
		return nil, nil, err
	}

	score, err := m.Forward(data)
	if err != nil {
		return nil, nil, err
	}

	// x_mean = (x + beta·score) / sqrt(1 − beta)
	mean := data.X.Clone()
	mean.AddScaledBatch(beta, score)
	recip := make([]float64, len(beta))
	sqrtBeta := make([]float64, len(beta))
	for b, v := range beta {
		recip[b] = 1 / math.Sqrt(1-v)
		sqrtBeta[b] = math.Sqrt(v)
	}
	mean.ScaleBatch(recip)
	mean.AddScaledBatch(sqrtBeta, RandnLike(m.rng, data.X))
	return mean, score, nil
}

// stepGeneric is the reverse diffusion predictor for variants without an
// ancestral rule (SubVP and any future kind). The drift is corrected by the
// raw model output and the diffusion term zeroed, yielding a deterministic
// probability-flow step.
func stepGeneric(m *SDEManager, data TimedSample) (*Tensor, *Tensor, error) {
	f, g := m.sde.Discretize(data.X, data.T)
	raw, err := m.model.Forward(data)
	if err != nil {
		return nil, nil, err
	}

	// f ← f − ½G²·model(x)
	coef := make([]float64, len(g))
	for b, v := range g {
		coef[b] = -0.5 * v * v
	}
	f.AddScaledBatch(coef, raw)

	y := data.X.Clone()
	y.Sub(f)
	return y, y, nil
}

// Sample reverses the diffusion process starting from the seed noise and
// returns exactly numSamples generated items. stepRange overrides the
// default descending range TimeSteps..1. Cancelling ctx terminates early
// and returns the partial result.
func (m *SDEManager) Sample(ctx context.Context, numSamples int, seed *Tensor, condition *Tensor, stepRange []int) ([]*Tensor, error) {
	return m.sampler.sample(ctx, m, numSamples, seed, condition, stepRange)
}

// Evaluate runs sampling-based evaluation over the batches; see Evaluate in
// evaluate.go for the contract.
func (m *SDEManager) Evaluate(ctx context.Context, batches []Batch, metrics map[string]Metric, stepRange []int) (map[string]float64, error) {
	return m.evaluate(ctx, m, batches, metrics, stepRange)
}

// clampIndex clamps k to [0, n).
func clampIndex(k, n int) int {
	if k < 0 {
		return 0
	}
	if k >= n {
		return n - 1
	}
	return k
}
