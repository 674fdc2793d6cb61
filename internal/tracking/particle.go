package tracking

import (
	"math"
	"math/rand"
	"sort"
)

// robustSigma is sigma_R from spec.md §4.2 step 5, the robustifying
// constant in the per-pixel reconstruction-error kernel.
const robustSigma = 0.1

// ParticleSet holds the condensation filter's population: one AffineState
// and one normalised confidence per particle (spec.md §4.2). It owns its
// own PRNG so a Config.Seed makes a tracker run reproducible.
type ParticleSet struct {
	Params     []AffineState
	Confidence []float64

	firstFrame bool // true until the first post-init Step call has resampled
	rng        *rand.Rand
	cfg        Config
}

// NewParticleSet seeds N identical particles at init; the first Step call
// tiles est across the population instead of resampling, matching
// spec.md §4.2 step 1 ("first frame after init").
func NewParticleSet(cfg Config, init AffineState, seed int64) *ParticleSet {
	n := cfg.NParticles
	if n < 1 {
		n = 1
	}
	params := make([]AffineState, n)
	conf := make([]float64, n)
	for i := range params {
		params[i] = init.Clone()
		conf[i] = 1.0 / float64(n)
	}
	src := rand.NewSource(seed)
	if seed == 0 {
		src = rand.NewSource(1)
	}
	return &ParticleSet{Params: params, Confidence: conf, firstFrame: true, rng: rand.New(src), cfg: cfg}
}

// StepResult is the outcome of one condensation cycle.
type StepResult struct {
	Estimate   AffineState
	Template   Template  // the warp at Estimate, for batch learning
	Coef       []float64 // U^T (Estimate's warp - mean), nil if the model has zero rank
	Confidence float64   // normalised weight of the MAP particle
}

// Step runs one full condensation cycle: resample, diffuse, warp,
// residualise against model, score, normalize, select MAP (spec.md §4.2
// steps 1-6). It never mutates model.
func (ps *ParticleSet) Step(gray GrayFrame, model Model) (StepResult, error) {
	if ps.firstFrame {
		est := ps.Params[0].Clone()
		for i := range ps.Params {
			ps.Params[i] = est.Clone()
		}
		ps.firstFrame = false
	} else {
		ps.resample()
	}
	ps.diffuse()

	tw := ps.cfg.TemplateSize
	templates := warpMany(gray, ps.Params, tw, tw)

	d := len(templates[0])
	k := model.rank()
	coefs := make([][]float64, len(templates))
	weights := make([]float64, len(templates))
	var total float64

	for i, t := range templates {
		centered := make([]float64, d)
		for j := 0; j < d; j++ {
			mean := 0.0
			if j < len(model.Mean) {
				mean = model.Mean[j]
			}
			centered[j] = t[j] - mean
		}

		var residual []float64
		if k > 0 {
			c := make([]float64, k)
			for col := 0; col < k; col++ {
				sum := 0.0
				for j := 0; j < d; j++ {
					sum += model.Basis.At(j, col) * centered[j]
				}
				c[col] = sum
			}
			coefs[i] = c
			residual = make([]float64, d)
			copy(residual, centered)
			for col := 0; col < k; col++ {
				cv := c[col]
				for j := 0; j < d; j++ {
					residual[j] -= cv * model.Basis.At(j, col)
				}
			}
		} else {
			residual = centered
		}

		e := 0.0
		for _, r := range residual {
			e += (r * r) / (r*r + robustSigma*robustSigma)
		}
		w := math.Exp(-e / ps.cfg.CondensSig)
		weights[i] = w
		total += w
	}

	if total <= 0 || math.IsNaN(total) {
		// Degenerate scoring: fall back to uniform confidence rather than
		// raising (spec.md §4.2 "Edge cases").
		for i := range weights {
			weights[i] = 1.0 / float64(len(weights))
		}
	} else {
		for i := range weights {
			weights[i] /= total
		}
	}
	ps.Confidence = weights

	best := 0
	for i := 1; i < len(weights); i++ {
		if weights[i] > weights[best] {
			best = i
		}
	}

	return StepResult{
		Estimate:   ps.Params[best].Clone(),
		Template:   templates[best],
		Coef:       coefs[best],
		Confidence: weights[best],
	}, nil
}

// resample draws a new population with replacement according to the
// current confidence distribution, via inverse-CDF sampling (the classic
// Condensation resample, Isard & Blake 1998).
func (ps *ParticleSet) resample() {
	n := len(ps.Params)
	cdf := make([]float64, n)
	sum := 0.0
	for i, w := range ps.Confidence {
		sum += w
		cdf[i] = sum
	}
	if sum <= 0 {
		// All confidences underflowed: uniform resampling (spec.md §4.2
		// "Edge cases").
		for i := range cdf {
			cdf[i] = float64(i+1) / float64(n)
		}
	}

	resampled := make([]AffineState, n)
	for i := 0; i < n; i++ {
		u := ps.rng.Float64() * cdf[n-1]
		j := sort.Search(n, func(k int) bool { return cdf[k] >= u })
		if j >= n {
			j = n - 1
		}
		resampled[i] = ps.Params[j].Clone()
	}
	ps.Params = resampled
}

// diffuse adds independent Gaussian noise to each DOF of every particle,
// std dev per DOF taken from Config.AffSig (spec.md §4.2 step 2).
func (ps *ParticleSet) diffuse() {
	sig := ps.cfg.AffSig
	for _, p := range ps.Params {
		for d := 0; d < len(p); d++ {
			var s float64
			if d < len(sig) {
				s = sig[d]
			}
			if s == 0 {
				continue
			}
			p[d] += ps.rng.NormFloat64() * s
		}
		if p.Scale() <= 1e-3 {
			p[dofScale] = 1e-3
		}
		if p.Aspect() <= 1e-3 {
			p[dofAspect] = 1e-3
		}
	}
}
