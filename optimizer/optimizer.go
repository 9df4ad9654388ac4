package optimizer

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrInvalidRate is returned when a learning-rate or moment
	// hyperparameter is out of bounds.
	ErrInvalidRate = errors.New("optimizer: hyperparameter out of bounds")

	// ErrStateMismatch is returned when a loaded state dict does not match
	// the optimizer's parameter layout.
	ErrStateMismatch = errors.New("optimizer: state dict does not match parameter layout")
)

// Model exposes the trainable parameter groups and their gradients as flat
// float64 slices. The slices are borrowed: optimizers update them in place
// and never reallocate them.
type Model interface {
	Parameters() [][]float64
	Gradients() [][]float64
}

// Optimizer is a single-step gradient optimizer. Step optionally evaluates
// a closure that recomputes the loss before the update and returns its
// value; ok is false when no closure was given. StateDict and
// LoadStateDict round-trip the internal state through a flat key-value
// mapping suitable for ordinary JSON checkpoints.
type Optimizer interface {
	Step(closure func() float64) (loss float64, ok bool)
	ZeroGrad()
	StateDict() map[string][]float64
	LoadStateDict(state map[string][]float64) error
}

// --- SGD ---

// SGDConfig configures an SGD optimizer.
// Zero values produce sensible defaults; see field comments.
type SGDConfig struct {
	LR          float64 `json:"lr"`           // zero → 0.01
	Momentum    float64 `json:"momentum"`     // in [0, 1)
	WeightDecay float64 `json:"weight_decay"` // decoupled decay, >= 0
}

// SGD implements stochastic gradient descent with optional momentum and
// decoupled weight decay.
type SGD struct {
	model       Model
	lr          float64
	momentum    float64
	weightDecay float64
	buf         [][]float64 // momentum buffers, nil until first use
}

var _ Optimizer = (*SGD)(nil)

// NewSGD creates an SGD optimizer for the model's parameters.
func NewSGD(model Model, cfg SGDConfig) (*SGD, error) {
	if model == nil {
		return nil, errors.New("optimizer: model must not be nil")
	}
	lr := cfg.LR
	if lr == 0 {
		lr = 0.01
	}
	if lr < 0 {
		return nil, fmt.Errorf("%w: learning rate %g must be positive", ErrInvalidRate, lr)
	}
	if cfg.Momentum < 0 || cfg.Momentum >= 1 {
		return nil, fmt.Errorf("%w: momentum %g not in [0, 1)", ErrInvalidRate, cfg.Momentum)
	}
	if cfg.WeightDecay < 0 {
		return nil, fmt.Errorf("%w: weight decay %g must not be negative", ErrInvalidRate, cfg.WeightDecay)
	}
	return &SGD{model: model, lr: lr, momentum: cfg.Momentum, weightDecay: cfg.WeightDecay}, nil
}

// Step applies one SGD update to every parameter group.
func (o *SGD) Step(closure func() float64) (float64, bool) {
	var loss float64
	ok := closure != nil
	if ok {
		loss = closure()
	}

	params := o.model.Parameters()
	grads := o.model.Gradients()
	if o.momentum > 0 && o.buf == nil {
		o.buf = zerosLike(params)
	}

	for i, p := range params {
		g := grads[i]
		if o.weightDecay > 0 {
			floats.Scale(1-o.lr*o.weightDecay, p)
		}
		if o.momentum > 0 {
			b := o.buf[i]
			floats.Scale(o.momentum, b)
			floats.Add(b, g)
			floats.AddScaled(p, -o.lr, b)
		} else {
			floats.AddScaled(p, -o.lr, g)
		}
	}
	return loss, ok
}

// ZeroGrad zeroes every gradient group in place.
func (o *SGD) ZeroGrad() {
	zeroGroups(o.model.Gradients())
}

// StateDict returns the momentum buffers keyed "momentum.<i>".
func (o *SGD) StateDict() map[string][]float64 {
	state := make(map[string][]float64)
	for i, b := range o.buf {
		state[fmt.Sprintf("momentum.%d", i)] = cloneVec(b)
	}
	return state
}

// LoadStateDict restores the momentum buffers.
func (o *SGD) LoadStateDict(state map[string][]float64) error {
	if len(state) == 0 {
		o.buf = nil
		return nil
	}
	buf := zerosLike(o.model.Parameters())
	for i := range buf {
		saved, ok := state[fmt.Sprintf("momentum.%d", i)]
		if !ok || len(saved) != len(buf[i]) {
			return fmt.Errorf("%w: momentum.%d", ErrStateMismatch, i)
		}
		copy(buf[i], saved)
	}
	o.buf = buf
	return nil
}

// --- Adam ---

// AdamConfig configures an Adam optimizer.
// Zero values produce the standard defaults.
type AdamConfig struct {
	LR    float64 `json:"lr"`    // zero → 0.001
	Beta1 float64 `json:"beta1"` // zero → 0.9
	Beta2 float64 `json:"beta2"` // zero → 0.999
	Eps   float64 `json:"eps"`   // zero → 1e-8
}

// Adam implements the Adam optimizer with bias correction.
//
// Update rule per element:
//
//	m = β1·m + (1-β1)·g
//	v = β2·v + (1-β2)·g²
//	m̂ = m / (1 - β1^t)
//	v̂ = v / (1 - β2^t)
//	w = w - lr · m̂ / (√v̂ + ε)
type Adam struct {
	model        Model
	lr           float64
	beta1, beta2 float64
	eps          float64
	m, v         [][]float64
	step         int
}

var _ Optimizer = (*Adam)(nil)

// NewAdam creates an Adam optimizer for the model's parameters.
func NewAdam(model Model, cfg AdamConfig) (*Adam, error) {
	if model == nil {
		return nil, errors.New("optimizer: model must not be nil")
	}
	lr := cfg.LR
	if lr == 0 {
		lr = 0.001
	}
	beta1 := cfg.Beta1
	if beta1 == 0 {
		beta1 = 0.9
	}
	beta2 := cfg.Beta2
	if beta2 == 0 {
		beta2 = 0.999
	}
	eps := cfg.Eps
	if eps == 0 {
		eps = 1e-8
	}
	if lr < 0 {
		return nil, fmt.Errorf("%w: learning rate %g must be positive", ErrInvalidRate, lr)
	}
	if beta1 < 0 || beta1 >= 1 || beta2 < 0 || beta2 >= 1 {
		return nil, fmt.Errorf("%w: betas (%g, %g) not in [0, 1)", ErrInvalidRate, beta1, beta2)
	}
	params := model.Parameters()
	return &Adam{
		model: model,
		lr:    lr,
		beta1: beta1,
		beta2: beta2,
		eps:   eps,
		m:     zerosLike(params),
		v:     zerosLike(params),
	}, nil
}

// Step applies one Adam update to every parameter group.
func (o *Adam) Step(closure func() float64) (float64, bool) {
	var loss float64
	ok := closure != nil
	if ok {
		loss = closure()
	}

	o.step++
	c1 := 1 - math.Pow(o.beta1, float64(o.step))
	c2 := 1 - math.Pow(o.beta2, float64(o.step))

	params := o.model.Parameters()
	grads := o.model.Gradients()
	for i, p := range params {
		g := grads[i]
		m, v := o.m[i], o.v[i]
		for j, gj := range g {
			m[j] = o.beta1*m[j] + (1-o.beta1)*gj
			v[j] = o.beta2*v[j] + (1-o.beta2)*gj*gj
			p[j] -= o.lr * (m[j] / c1) / (math.Sqrt(v[j]/c2) + o.eps)
		}
	}
	return loss, ok
}

// ZeroGrad zeroes every gradient group in place.
func (o *Adam) ZeroGrad() {
	zeroGroups(o.model.Gradients())
}

// StateDict returns the moment estimates keyed "m.<i>" / "v.<i>" plus the
// step counter under "step".
func (o *Adam) StateDict() map[string][]float64 {
	state := make(map[string][]float64)
	for i := range o.m {
		state[fmt.Sprintf("m.%d", i)] = cloneVec(o.m[i])
		state[fmt.Sprintf("v.%d", i)] = cloneVec(o.v[i])
	}
	state["step"] = []float64{float64(o.step)}
	return state
}

// LoadStateDict restores the moment estimates and step counter.
func (o *Adam) LoadStateDict(state map[string][]float64) error {
	step, ok := state["step"]
	if !ok || len(step) != 1 {
		return fmt.Errorf("%w: missing step counter", ErrStateMismatch)
	}
	m := zerosLike(o.model.Parameters())
	v := zerosLike(o.model.Parameters())
	for i := range m {
		sm, okM := state[fmt.Sprintf("m.%d", i)]
		sv, okV := state[fmt.Sprintf("v.%d", i)]
		if !okM || !okV || len(sm) != len(m[i]) || len(sv) != len(v[i]) {
			return fmt.Errorf("%w: moments for group %d", ErrStateMismatch, i)
		}
		copy(m[i], sm)
		copy(v[i], sv)
	}
	o.m, o.v = m, v
	o.step = int(step[0])
	return nil
}

// --- helpers ---

func zerosLike(groups [][]float64) [][]float64 {
	out := make([][]float64, len(groups))
	for i, g := range groups {
		out[i] = make([]float64, len(g))
	}
	return out
}

func zeroGroups(groups [][]float64) {
	for _, g := range groups {
		for j := range g {
			g[j] = 0
		}
	}
}

func cloneVec(s []float64) []float64 {
	out := make([]float64, len(s))
	copy(out, s)
	return out
}
