// Package optimizer provides the gradient-step machinery the diffusion
// training loop plugs into.
//
// It provides three pieces:
//
//   - [SGD] and [Adam], base optimizers over a model's parameter groups,
//     with JSON-serializable state dicts.
//
//   - [EMA], a wrapper that maintains an exponential moving average shadow
//     of the model parameters after every step, with an atomic swap for
//     evaluating against the averaged weights.
//
// # Usage
//
//	base, err := optimizer.NewAdam(model, optimizer.AdamConfig{})
//	ema, err := optimizer.NewEMA(base, model, 0.999)
//
//	loss, _ := ema.Step(closure)     // base step + shadow update
//
//	restore, err := ema.UseShadow()  // evaluate with averaged weights
//	defer restore()
package optimizer
