package optimizer

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrInvalidDecay is returned when the EMA decay is outside (0, 1).
	ErrInvalidDecay = errors.New("optimizer: EMA decay must be in (0, 1)")

	// ErrShadowActive is returned when UseShadow is called while a
	// previous shadow scope has not been released.
	ErrShadowActive = errors.New("optimizer: shadow parameters already in use")
)

// EMA wraps a base optimizer and maintains an exponential moving average
// shadow of the model parameters. After every Step the shadow set is pulled
// toward the live parameters by the decay factor; Swap exchanges the two
// sets in place for evaluation against the averaged weights.
//
// The wrapped model is borrowed: EMA mutates its parameter storage only
// during Swap and owns nothing but the shadow copies.
type EMA struct {
	base         Optimizer
	model        Model
	decay        float64
	shadow       [][]float64
	shadowActive bool
}

// NewEMA wraps the base optimizer, deep-copying the model's current
// parameters into the shadow set. The decay must lie strictly in (0, 1).
func NewEMA(base Optimizer, model Model, decay float64) (*EMA, error) {
	if base == nil {
		return nil, errors.New("optimizer: base optimizer must not be nil")
	}
	if model == nil {
		return nil, errors.New("optimizer: model must not be nil")
	}
	if decay <= 0 || decay >= 1 {
		return nil, fmt.Errorf("%w: got %g", ErrInvalidDecay, decay)
	}

	params := model.Parameters()
	shadow := make([][]float64, len(params))
	for i, p := range params {
		shadow[i] = cloneVec(p)
	}
	return &EMA{base: base, model: model, decay: decay, shadow: shadow}, nil
}

// Decay returns the EMA decay factor.
func (e *EMA) Decay() float64 {
	return e.decay
}

// Shadow returns a deep copy of the shadow parameter groups.
func (e *EMA) Shadow() [][]float64 {
	out := make([][]float64, len(e.shadow))
	for i, s := range e.shadow {
		out[i] = cloneVec(s)
	}
	return out
}

// Step delegates to the base optimizer, then updates every shadow group:
// shadow = decay·shadow + (1−decay)·param. The base step's return values
// pass through unchanged.
func (e *EMA) Step(closure func() float64) (float64, bool) {
	loss, ok := e.base.Step(closure)
	for i, p := range e.model.Parameters() {
		s := e.shadow[i]
		floats.Scale(e.decay, s)
		floats.AddScaled(s, 1-e.decay, p)
	}
	return loss, ok
}

// ZeroGrad delegates to the base optimizer.
func (e *EMA) ZeroGrad() {
	e.base.ZeroGrad()
}

// Swap exchanges the model's parameter storage with the shadow storage,
// element by element. Swap is an involution: calling it twice restores the
// original pairing bit for bit.
func (e *EMA) Swap() {
	for i, p := range e.model.Parameters() {
		s := e.shadow[i]
		for j := range p {
			p[j], s[j] = s[j], p[j]
		}
	}
}

// UseShadow swaps the shadow parameters in and returns a restore function
// that swaps them back out. The restore function is safe to call more than
// once and is intended for defer, so the swap is undone even on an error
// exit. Only one shadow scope may be active at a time.
func (e *EMA) UseShadow() (restore func(), err error) {
	if e.shadowActive {
		return nil, ErrShadowActive
	}
	e.shadowActive = true
	e.Swap()

	released := false
	return func() {
		if released {
			return
		}
		released = true
		e.Swap()
		e.shadowActive = false
	}, nil
}

// EMAState is the serialized form of an EMA wrapper: the base optimizer's
// own state dict and the shadow parameter values.
type EMAState struct {
	Optimizer map[string][]float64 `json:"optimizer"`
	Shadow    [][]float64          `json:"shadow"`
}

// StateDict returns a deep copy of the wrapper's state.
func (e *EMA) StateDict() EMAState {
	return EMAState{Optimizer: e.base.StateDict(), Shadow: e.Shadow()}
}

// LoadStateDict restores both the base optimizer's state and the shadow
// values. The shadow layout must match the model's parameter groups.
func (e *EMA) LoadStateDict(state EMAState) error {
	if len(state.Shadow) != len(e.shadow) {
		return fmt.Errorf("%w: %d shadow groups, want %d", ErrStateMismatch, len(state.Shadow), len(e.shadow))
	}
	for i, s := range state.Shadow {
		if len(s) != len(e.shadow[i]) {
			return fmt.Errorf("%w: shadow group %d has %d values, want %d", ErrStateMismatch, i, len(s), len(e.shadow[i]))
		}
	}
	if err := e.base.LoadStateDict(state.Optimizer); err != nil {
		return err
	}
	for i, s := range state.Shadow {
		copy(e.shadow[i], s)
	}
	return nil
}
