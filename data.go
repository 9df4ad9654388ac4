package diffuse

// TimedSample carries a noised batch through the diffusion process: the data
// itself, the per-item timestep vector, and an optional condition sharing the
// batch axis.
type TimedSample struct {
	X         *Tensor
	T         []float64 // length X.Batch(); integral values for discrete managers
	Condition *Tensor   // nil when unconditional
}

// Model is the prediction network the samplers consult at every reverse
// step. Implementations receive the noised batch with its timestep vector
// and return a tensor shaped like s.X (the predicted noise or score).
type Model interface {
	Forward(s TimedSample) (*Tensor, error)
}

// ModelFunc adapts a plain (x, t, condition) callable to the Model
// interface, for networks that do not natively understand TimedSample.
type ModelFunc func(x *Tensor, t []float64, condition *Tensor) (*Tensor, error)

// Forward implements Model.
func (f ModelFunc) Forward(s TimedSample) (*Tensor, error) {
	return f(s.X, s.T, s.Condition)
}
