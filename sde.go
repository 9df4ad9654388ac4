package diffuse

import (
	"fmt"
	"math"
)

// Kind tags an SDE variant. Samplers dispatch on the tag rather than on the
// concrete type, so adding a variant is a new tag plus a table entry.
type Kind int

const (
	KindVP    Kind = iota + 1 // Variance-preserving.
	KindSubVP                 // Sub-variance-preserving.
	KindVE                    // Variance-exploding.
)

var kindNames = [...]string{KindVP: "VP", KindSubVP: "SubVP", KindVE: "VE"}

// String returns the short name of the kind ("VP", "SubVP", "VE").
func (k Kind) String() string {
	if k >= KindVP && k <= KindVE {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// SDE is a continuous-time formulation of the noising process. All methods
// are vectorized across the batch: t holds one time value per batch item and
// scalar outputs come back as per-item coefficient slices.
type SDE interface {
	// Kind returns the variant tag used for sampler dispatch.
	Kind() Kind
	// T returns the nominal terminal time (1 for all built-in variants).
	T() float64
	// N returns the number of discretization steps.
	N() int
	// MarginalProb returns the closed-form mean and per-item standard
	// deviation of the forward-noised distribution at time t given clean
	// data x0.
	MarginalProb(x0 *Tensor, t []float64) (*Tensor, []float64)
	// Discretize returns one Euler-Maruyama step: the drift increment f
	// and the per-item diffusion coefficient G.
	Discretize(x *Tensor, t []float64) (*Tensor, []float64)
}

// timestepIndex maps a continuous time to its discrete grid index
// round(t·(N−1)/T), clamped to [0, N).
func timestepIndex(t float64, n int, terminal float64) int {
	k := int(math.Round(t * float64(n-1) / terminal))
	if k < 0 {
		k = 0
	}
	if k >= n {
		k = n - 1
	}
	return k
}

// --- VP ---

// VPSDE is the variance-preserving SDE: dx = −½β(t)x dt + sqrt(β(t)) dw,
// with β(t) ramping linearly from betaMin to betaMax.
type VPSDE struct {
	betaMin, betaMax float64
	n                int
	discreteBetas    []float64
	alphas           []float64
}

// NewVPSDE creates a VP SDE over n discretization steps.
func NewVPSDE(betaMin, betaMax float64, n int) (*VPSDE, error) {
	if err := validateRamp("beta", betaMin, betaMax, n); err != nil {
		return nil, err
	}
	fn := float64(n)
	betas := linspace(betaMin/fn, betaMax/fn, n)
	alphas := make([]float64, n)
	for i, b := range betas {
		alphas[i] = 1 - b
	}
	return &VPSDE{betaMin: betaMin, betaMax: betaMax, n: n, discreteBetas: betas, alphas: alphas}, nil
}

// Kind returns KindVP.
func (s *VPSDE) Kind() Kind { return KindVP }

// T returns the terminal time, 1.
func (s *VPSDE) T() float64 { return 1 }

// N returns the number of discretization steps.
func (s *VPSDE) N() int { return s.n }

// logMeanCoeff returns log of the marginal mean coefficient at time t:
// −¼t²(βmax−βmin) − ½tβmin.
func (s *VPSDE) logMeanCoeff(t float64) float64 {
	return -0.25*t*t*(s.betaMax-s.betaMin) - 0.5*t*s.betaMin
}

// MarginalProb returns mean = e^{logc}·x0 and std = sqrt(1 − e^{2·logc}).
func (s *VPSDE) MarginalProb(x0 *Tensor, t []float64) (*Tensor, []float64) {
	coef := make([]float64, len(t))
	std := make([]float64, len(t))
	for b, tb := range t {
		logc := s.logMeanCoeff(tb)
		coef[b] = math.Exp(logc)
		std[b] = math.Sqrt(1 - math.Exp(2*logc))
	}
	mean := x0.Clone()
	mean.ScaleBatch(coef)
	return mean, std
}

// Discretize returns f = (sqrt(alpha_k) − 1)·x and G = sqrt(beta_k) at the
// grid index nearest to t.
func (s *VPSDE) Discretize(x *Tensor, t []float64) (*Tensor, []float64) {
	coef := make([]float64, len(t))
	g := make([]float64, len(t))
	for b, tb := range t {
		k := timestepIndex(tb, s.n, s.T())
		coef[b] = math.Sqrt(s.alphas[k]) - 1
		g[b] = math.Sqrt(s.discreteBetas[k])
	}
	f := x.Clone()
	f.ScaleBatch(coef)
	return f, g
}

// DiscreteBetas returns a copy of the discrete beta ramp.
func (s *VPSDE) DiscreteBetas() []float64 {
	out := make([]float64, len(s.discreteBetas))
	copy(out, s.discreteBetas)
	return out
}

// --- SubVP ---

// SubVPSDE is the sub-variance-preserving SDE: same drift family as VP with
// diffusion damped by 1 − e^{−2∫β}, giving variance strictly below the VP
// marginal.
type SubVPSDE struct {
	betaMin, betaMax float64
	n                int
}

// NewSubVPSDE creates a sub-VP SDE over n discretization steps.
func NewSubVPSDE(betaMin, betaMax float64, n int) (*SubVPSDE, error) {
	if err := validateRamp("beta", betaMin, betaMax, n); err != nil {
		return nil, err
	}
	return &SubVPSDE{betaMin: betaMin, betaMax: betaMax, n: n}, nil
}

// Kind returns KindSubVP.
func (s *SubVPSDE) Kind() Kind { return KindSubVP }

// T returns the terminal time, 1.
func (s *SubVPSDE) T() float64 { return 1 }

// N returns the number of discretization steps.
func (s *SubVPSDE) N() int { return s.n }

// MarginalProb returns mean = e^{logc}·x0 and std = 1 − e^{2·logc}.
func (s *SubVPSDE) MarginalProb(x0 *Tensor, t []float64) (*Tensor, []float64) {
	coef := make([]float64, len(t))
	std := make([]float64, len(t))
	for b, tb := range t {
		logc := -0.25*tb*tb*(s.betaMax-s.betaMin) - 0.5*tb*s.betaMin
		coef[b] = math.Exp(logc)
		std[b] = 1 - math.Exp(2*logc)
	}
	mean := x0.Clone()
	mean.ScaleBatch(coef)
	return mean, std
}

// Discretize applies one Euler step of size T/N: f = −½β(t)·x·Δt and
// G = sqrt(β(t)·(1 − e^{−2βmin·t − (βmax−βmin)t²})·Δt).
func (s *SubVPSDE) Discretize(x *Tensor, t []float64) (*Tensor, []float64) {
	dt := s.T() / float64(s.n)
	coef := make([]float64, len(t))
	g := make([]float64, len(t))
	for b, tb := range t {
		beta := s.betaMin + tb*(s.betaMax-s.betaMin)
		discount := 1 - math.Exp(-2*s.betaMin*tb-(s.betaMax-s.betaMin)*tb*tb)
		coef[b] = -0.5 * beta * dt
		g[b] = math.Sqrt(beta * discount * dt)
	}
	f := x.Clone()
	f.ScaleBatch(coef)
	return f, g
}

// --- VE ---

// VESDE is the variance-exploding SDE: the data stays unscaled while the
// noise scale grows geometrically from sigmaMin to sigmaMax.
type VESDE struct {
	sigmaMin, sigmaMax float64
	n                  int
	discreteSigmas     []float64
}

// NewVESDE creates a VE SDE over n discretization steps.
func NewVESDE(sigmaMin, sigmaMax float64, n int) (*VESDE, error) {
	if err := validateRamp("sigma", sigmaMin, sigmaMax, n); err != nil {
		return nil, err
	}
	sigmas := make([]float64, n)
	logMin, logMax := math.Log(sigmaMin), math.Log(sigmaMax)
	for i, v := range linspace(logMin, logMax, n) {
		sigmas[i] = math.Exp(v)
	}
	return &VESDE{sigmaMin: sigmaMin, sigmaMax: sigmaMax, n: n, discreteSigmas: sigmas}, nil
}

// Kind returns KindVE.
func (s *VESDE) Kind() Kind { return KindVE }

// T returns the terminal time, 1.
func (s *VESDE) T() float64 { return 1 }

// N returns the number of discretization steps.
func (s *VESDE) N() int { return s.n }

// sigma returns the geometric noise scale at time t.
func (s *VESDE) sigma(t float64) float64 {
	return s.sigmaMin * math.Pow(s.sigmaMax/s.sigmaMin, t)
}

// MarginalProb returns mean = x0 unchanged and std = sigma(t).
func (s *VESDE) MarginalProb(x0 *Tensor, t []float64) (*Tensor, []float64) {
	std := make([]float64, len(t))
	for b, tb := range t {
		std[b] = s.sigma(tb)
	}
	return x0.Clone(), std
}

// Discretize returns f = 0 and G = sqrt(sigma_k² − sigma_{k−1}²), with the
// adjacent sigma taken as 0 at the first grid index.
func (s *VESDE) Discretize(x *Tensor, t []float64) (*Tensor, []float64) {
	g := make([]float64, len(t))
	for b, tb := range t {
		k := timestepIndex(tb, s.n, s.T())
		sigma := s.discreteSigmas[k]
		adjacent := 0.0
		if k > 0 {
			adjacent = s.discreteSigmas[k-1]
		}
		g[b] = math.Sqrt(sigma*sigma - adjacent*adjacent)
	}
	return NewTensor(x.Shape...), g
}

// DiscreteSigmas returns a copy of the geometric sigma grid.
func (s *VESDE) DiscreteSigmas() []float64 {
	out := make([]float64, len(s.discreteSigmas))
	copy(out, s.discreteSigmas)
	return out
}

// validateRamp checks the shared (min, max, N) constructor arguments.
func validateRamp(name string, lo, hi float64, n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: discretization steps %d must be positive", ErrInvalidConfig, n)
	}
	if lo <= 0 {
		return fmt.Errorf("%w: %s min %g must be positive", ErrInvalidConfig, name, lo)
	}
	if hi <= lo {
		return fmt.Errorf("%w: %s max %g must exceed %s min %g", ErrInvalidConfig, name, hi, name, lo)
	}
	return nil
}
