package tracking

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func flatGray(w, h int, value float64) GrayFrame {
	pix := make([]float64, w*h)
	for i := range pix {
		pix[i] = value
	}
	return GrayFrame{Width: w, Height: h, Pix: pix}
}

func testParticleConfig() Config {
	cfg := DefaultConfig()
	cfg.NParticles = 32
	cfg.TemplateSize = 8
	cfg.Seed = 7
	return cfg
}

func TestParticleSetConfidenceSumsToOne(t *testing.T) {
	cfg := testParticleConfig()
	init := NewAffineState(cfg.DOF(), 16, 16, 1.0, 1.0)
	ps := NewParticleSet(cfg, init, cfg.Seed)

	gray := flatGray(32, 32, 0.5)
	model := ZeroModel(cfg.TemplateDim())

	_, err := ps.Step(gray, model)
	require.NoError(t, err)

	sum := 0.0
	for _, c := range ps.Confidence {
		sum += c
	}
	require.InDelta(t, 1.0, sum, 1e-9)
}

func TestParticleSetMAPIsArgmax(t *testing.T) {
	cfg := testParticleConfig()
	init := NewAffineState(cfg.DOF(), 16, 16, 1.0, 1.0)
	ps := NewParticleSet(cfg, init, cfg.Seed)

	gray := flatGray(32, 32, 0.3)
	model := ZeroModel(cfg.TemplateDim())

	result, err := ps.Step(gray, model)
	require.NoError(t, err)

	best := 0
	for i, c := range ps.Confidence {
		if c > ps.Confidence[best] {
			best = i
		}
	}
	require.Equal(t, ps.Params[best].CX(), result.Estimate.CX())
	require.Equal(t, ps.Params[best].CY(), result.Estimate.CY())
	require.Equal(t, ps.Confidence[best], result.Confidence)
}

func TestParticleSetFirstFrameDoesNotResample(t *testing.T) {
	cfg := testParticleConfig()
	init := NewAffineState(cfg.DOF(), 16, 16, 1.0, 1.0)
	ps := NewParticleSet(cfg, init, cfg.Seed)

	require.True(t, ps.firstFrame)

	gray := flatGray(32, 32, 0.5)
	model := ZeroModel(cfg.TemplateDim())
	_, err := ps.Step(gray, model)
	require.NoError(t, err)

	require.False(t, ps.firstFrame)
}

func TestParticleSetDegenerateWeightsFallBackToUniform(t *testing.T) {
	cfg := testParticleConfig()
	cfg.CondensSig = 1e-12 // drives every weight to underflow
	init := NewAffineState(cfg.DOF(), 16, 16, 1.0, 1.0)
	ps := NewParticleSet(cfg, init, cfg.Seed)

	// A mean of 0.45 sits away from both the in-frame value (0.9) and the
	// zero patch of a particle diffused fully off-frame, so every particle
	// has a large residual and no weight survives.
	gray := flatGray(32, 32, 0.9)
	model := ZeroModel(cfg.TemplateDim())
	for i := range model.Mean {
		model.Mean[i] = 0.45
	}
	_, err := ps.Step(gray, model)
	require.NoError(t, err)

	want := 1.0 / float64(len(ps.Confidence))
	for _, c := range ps.Confidence {
		require.InDelta(t, want, c, 1e-9)
	}
}
