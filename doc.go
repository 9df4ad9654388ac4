// Package diffuse implements the mathematical core of denoising diffusion
// generative models.
//
// diffuse provides beta schedules and their derived cumulative statistics,
// three stochastic differential equation formulations of the noising process
// (variance-preserving, sub-variance-preserving, variance-exploding), a
// discrete DDPM manager and an SDE manager for forward noising and reverse
// sampling, and an EMA parameter shadow (in the diffuse/optimizer
// subpackage) for stabilized evaluation.
//
// Basic usage:
//
//	m, err := diffuse.NewDDPM(model, diffuse.DDPMConfig{TimeSteps: 1000})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Training: noise a clean batch and score the prediction network
//	// against the returned target noise.
//	noisy, target, err := m.ForwardDiffusion(x0, nil, nil)
//
//	// Inference: reverse the process starting from pure noise.
//	seed := diffuse.Randn(rng, 4, 3, 32, 32)
//	samples, err := m.Sample(ctx, 4, seed, nil, nil)
package diffuse
