package diffuse

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager is the capability a diffusion variant must provide: one forward
// noising rule for training pairs and one reverse rule per timestep.
// DDPM and SDEManager implement it.
type Manager interface {
	// ForwardDiffusion noises clean data at timestep t (drawn uniformly
	// when t is nil) and returns the noised batch together with the
	// target the prediction network is trained against.
	ForwardDiffusion(x0 *Tensor, condition *Tensor, t []float64) (TimedSample, *Tensor, error)
	// SamplingStep computes x_{i−1} from the batch at timestep i.
	SamplingStep(data TimedSample, i int) (*Tensor, error)
	// TimeSteps returns the total number of reverse steps.
	TimeSteps() int
}

// sampler carries the configuration shared by every manager: the prediction
// network, the time horizon, randomness, logging and progress reporting.
// It owns the sequential reverse loop.
type sampler struct {
	model     Model
	timeSteps int
	rng       *rand.Rand
	logger    *logrus.Logger
	progress  func(step, total int)
}

func newSampler(model Model, timeSteps int, seed int64, logger *logrus.Logger, progress func(step, total int)) (sampler, error) {
	if model == nil {
		return sampler{}, fmt.Errorf("%w: prediction model must not be nil", ErrInvalidConfig)
	}
	if timeSteps <= 0 {
		return sampler{}, fmt.Errorf("%w: time steps %d must be positive", ErrInvalidConfig, timeSteps)
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return sampler{
		model:     model,
		timeSteps: timeSteps,
		rng:       rand.New(rand.NewSource(seed)),
		logger:    logger,
		progress:  progress,
	}, nil
}

// TimeSteps returns the total number of reverse steps.
func (s *sampler) TimeSteps() int {
	return s.timeSteps
}

// defaultRange returns the full descending reverse range timeSteps..1.
func (s *sampler) defaultRange() []int {
	steps := make([]int, s.timeSteps)
	for i := range steps {
		steps[i] = s.timeSteps - i
	}
	return steps
}

// sample runs the reverse loop for m, step i-1 consuming the output of step
// i. See loop for the cancellation and failure contract.
func (s *sampler) sample(ctx context.Context, m Manager, numSamples int, xT, condition *Tensor, stepRange []int) ([]*Tensor, error) {
	steps := stepRange
	if steps == nil {
		steps = s.defaultRange()
	}
	return s.loop(ctx, numSamples, xT, condition, steps, func(data TimedSample, _, i int) (*Tensor, error) {
		return m.SamplingStep(data, i)
	})
}

// loop is the sequential reverse-time iteration shared by ancestral and
// fast sampling. Cancellation through ctx is graceful: the partially
// denoised batch is returned with a nil error. Any step failure or panic is
// logged and wrapped in ErrPrediction with the cause preserved.
func (s *sampler) loop(ctx context.Context, numSamples int, xT, condition *Tensor, steps []int, stepFn func(data TimedSample, pos, i int) (*Tensor, error)) (out []*Tensor, err error) {
	if numSamples <= 0 {
		return nil, fmt.Errorf("%w: number of samples %d must be positive", ErrInvalidConfig, numSamples)
	}
	if xT == nil || xT.Batch() < numSamples {
		return nil, fmt.Errorf("%w: seed noise batch must hold at least %d items", ErrInvalidConfig, numSamples)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("sampling panicked: %v", r)
			out = nil
			err = fmt.Errorf("%w: %v", ErrPrediction, r)
		}
	}()

	imgs := xT.Clone()
	total := len(steps)
	for pos, i := range steps {
		select {
		case <-ctx.Done():
			s.logger.Info("sampling interrupted")
			return splitBatch(imgs, numSamples), nil
		default:
		}

		data := TimedSample{X: imgs, T: fullVec(imgs.Batch(), float64(i)), Condition: condition}
		y, stepErr := stepFn(data, pos, i)
		if stepErr != nil {
			s.logger.WithError(stepErr).Errorf("sampling step %d failed", i)
			return nil, fmt.Errorf("%w: step %d: %w", ErrPrediction, i, stepErr)
		}
		imgs = y

		if s.progress != nil {
			s.progress(pos+1, total)
		}
	}
	return splitBatch(imgs, numSamples), nil
}

// randTimesteps draws batch uniform integer timesteps in [0, timeSteps) as
// a float vector.
func (s *sampler) randTimesteps(batch int) []float64 {
	out := make([]float64, batch)
	for i := range out {
		out[i] = float64(s.rng.Intn(s.timeSteps))
	}
	return out
}

// roundTimesteps converts a float timestep vector to grid indices.
func roundTimesteps(t []float64, scale float64) []int {
	out := make([]int, len(t))
	for i, v := range t {
		out[i] = int(v*scale + 0.5)
	}
	return out
}
