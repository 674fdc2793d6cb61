package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/asgard/fovea/internal/platform/metrics"
)

// Orchestrator is the Tracker Orchestrator state machine from spec.md
// §4.3: it owns the AppearanceModel, ParticleSet and TrackerState
// exclusively, drives frame acquisition, batches observations into the
// model, and publishes TargetReports.
type Orchestrator struct {
	cfg    Config
	frames FrameSource
	sink   TargetSink
	logger *logrus.Logger

	mu sync.Mutex

	state       State
	model       Model
	particles   *ParticleSet
	est         AffineState
	warpedBatch []Template
	lastCoef    []float64
	lastModel   Model // model snapshot at the time lastCoef was computed

	initialBox InitialBox
	haveBox    bool

	// trackingCh is the is_tracking binary event from spec.md §5: Init
	// (and Reset when leaving Tracking) closes the current channel and
	// replaces it with a fresh one, waking a tick loop blocked on it.
	trackingCh chan struct{}

	// sessionID identifies the current Armed/Tracking run for log
	// correlation; regenerated on every Init.
	sessionID uuid.UUID

	stats Stats
}

// NewOrchestrator wires an Orchestrator around its collaborators,
// matching the teacher's New*(cfg, deps..., logger) constructor shape
// (e.g. Valkyrie/internal/actuators.NewMAVLinkController).
func NewOrchestrator(cfg Config, frames FrameSource, sink TargetSink, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	o := &Orchestrator{
		cfg:        cfg,
		frames:     frames,
		sink:       sink,
		logger:     logger,
		state:      Idle,
		model:      ZeroModel(cfg.TemplateDim()),
		trackingCh: make(chan struct{}),
	}
	return o
}

// State returns the current lifecycle phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Stats returns a snapshot of the diagnostics counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// Reset implements spec.md §4.3's reset transition: Idle from any state,
// clears the model to zero-rank, re-zeroes the batch buffer, and
// publishes a single TargetReport=none.
func (o *Orchestrator) Reset(ctx context.Context) {
	o.mu.Lock()
	wasTracking := o.state == Tracking
	o.state = Idle
	o.model = ZeroModel(o.cfg.TemplateDim())
	o.lastModel = Model{}
	o.lastCoef = nil
	o.warpedBatch = nil
	o.particles = nil
	o.est = nil
	o.stats.Resets++
	if wasTracking {
		close(o.trackingCh)
		o.trackingCh = make(chan struct{})
	}
	o.mu.Unlock()

	metrics.Get().Resets.Inc()
	metrics.Get().TrackerState.Set(float64(Idle))
	metrics.Get().BasisRank.Set(0)
	o.logger.WithField("op", "reset").Debug("tracker reset to idle")
	if err := o.sink.UpdateTarget(ctx, TargetReport{}, false); err != nil {
		o.logger.WithError(err).Warn("target sink update failed on reset")
	}
}

// UpdateInitialBox implements spec.md §4.3's update_initial_box: valid
// from Idle or Armed, ignored from Tracking.
func (o *Orchestrator) UpdateInitialBox(size int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == Tracking {
		o.logger.WithError(newStateError("update_initial_box", o.state)).Debug("ignored")
		return
	}
	o.initialBox.Size = size
	o.haveBox = true
}

// Arm moves Idle → Armed, snapshotting the reticle centre so the next
// Init call knows where to seed the tracker. It is a no-op outside Idle.
func (o *Orchestrator) Arm(cx, cy int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Idle {
		return
	}
	o.initialBox.X = cx
	o.initialBox.Y = cy
	if !o.haveBox || o.initialBox.Size <= 0 {
		o.initialBox.Size = o.cfg.TemplateSize
		o.haveBox = true
	}
	o.state = Armed
	metrics.Get().TrackerState.Set(float64(Armed))
}

// Init implements spec.md §4.3's init operation: captures one frame,
// seeds the AppearanceModel's mean from the warped initial box, and
// transitions Armed → Tracking. A missing frame or missing initial box
// is a no-op (spec.md §8 "init before any frame is available").
func (o *Orchestrator) Init(ctx context.Context) {
	o.mu.Lock()
	if o.state != Armed || !o.haveBox {
		o.mu.Unlock()
		o.logger.WithError(newStateError("init", o.state)).Debug("ignored")
		return
	}
	box := o.initialBox
	o.mu.Unlock()

	frame, ok, err := o.frames.Read(ctx)
	if err != nil || !ok {
		o.logger.Debug("init deferred: no frame available yet")
		return
	}
	gray := toGray(frame)

	t := o.cfg.TemplateSize
	scale := float64(box.Size) / float64(t)
	est := NewAffineState(o.cfg.DOF(), float64(box.X), float64(box.Y), scale, 1.0)
	tmpl := warp(gray, est, t, t)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Armed {
		return // raced with a concurrent reset
	}
	o.model = Model{Mean: append([]float64(nil), tmpl...), Basis: nil, EigVal: nil, NSamples: 0, ResEig: 0}
	o.est = est
	o.particles = NewParticleSet(o.cfg, est, o.cfg.Seed)
	o.warpedBatch = nil
	o.lastCoef = nil
	o.lastModel = o.model
	o.state = Tracking
	o.sessionID = uuid.New()
	close(o.trackingCh)
	o.trackingCh = make(chan struct{})
	metrics.Get().TrackerState.Set(float64(Tracking))
	o.logger.WithField("session", o.sessionID).Info("tracker initialised")
}

// SessionID returns the identifier of the current (or most recent)
// tracking run, for correlating logs and overlay events.
func (o *Orchestrator) SessionID() uuid.UUID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// Run is the tick-loop worker from spec.md §5: it blocks while not
// Tracking, and otherwise reads a frame, runs one condensation/SKL cycle
// under the tracker lock, and publishes the result. It returns when ctx
// is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		o.mu.Lock()
		tracking := o.state == Tracking
		wakeCh := o.trackingCh
		o.mu.Unlock()
		if !tracking {
			select {
			case <-ctx.Done():
				return
			case <-wakeCh:
			case <-ticker.C:
			}
			continue
		}

		o.tick(ctx)
	}
}

func (o *Orchestrator) tick(ctx context.Context) {
	frame, ok, err := o.frames.Read(ctx)
	if err != nil {
		o.logger.WithError(err).Debug("frame read error, skipping tick")
		o.mu.Lock()
		o.stats.TicksSkipped++
		o.mu.Unlock()
		metrics.Get().TicksSkipped.Inc()
		return
	}
	if !ok {
		o.mu.Lock()
		o.stats.TicksSkipped++
		o.mu.Unlock()
		metrics.Get().TicksSkipped.Inc()
		return // FrameUnavailable, recovered locally per spec.md §7
	}
	gray := toGray(frame)

	o.mu.Lock()
	if o.state != Tracking {
		o.mu.Unlock()
		return
	}
	model := o.model
	particles := o.particles
	o.mu.Unlock()

	result, err := particles.Step(gray, model)
	if err != nil {
		o.handleNumericError(ctx, "particle.step", err)
		return
	}

	o.mu.Lock()
	if o.state != Tracking {
		// A reset raced in mid-tick; the result is suppressed (spec.md §5).
		o.mu.Unlock()
		return
	}
	o.est = result.Estimate
	o.warpedBatch = append(o.warpedBatch, result.Template)
	bestCoef := result.Coef
	o.stats.TicksRun++
	o.stats.LastTickAt = time.Now()
	metrics.Get().TicksRun.Inc()
	metrics.Get().MaxConfidence.Set(result.Confidence)

	var report TargetReport
	t := float64(o.cfg.TemplateSize)
	report.X = int(result.Estimate.CX())
	report.Y = int(result.Estimate.CY())
	sizeA := result.Estimate.Scale() * t
	sizeB := sizeA * result.Estimate.Aspect()
	if sizeB < sizeA {
		report.Size = int(sizeB)
	} else {
		report.Size = int(sizeA)
	}

	var batch []Template
	if len(o.warpedBatch) >= o.cfg.BatchSize {
		batch = o.warpedBatch
		o.warpedBatch = nil
	}
	prevModel := o.model
	prevCoef := o.lastCoef
	prevCoefModel := o.lastModel
	o.mu.Unlock()

	if batch != nil {
		newModel, newCoef, uerr := o.learnBatch(prevModel, prevCoef, prevCoefModel, batch, bestCoef)
		if uerr != nil {
			o.handleNumericError(ctx, "skl.update", uerr)
			return
		}
		o.mu.Lock()
		if o.state == Tracking {
			o.model = newModel
			o.lastModel = newModel
			o.lastCoef = newCoef
			o.stats.ModelUpdates++
		}
		o.mu.Unlock()
		metrics.Get().ModelUpdates.Inc()
		metrics.Get().BasisRank.Set(float64(newModel.rank()))
	} else {
		o.mu.Lock()
		if o.state == Tracking {
			o.lastCoef = bestCoef
			o.lastModel = prevModel
		}
		o.mu.Unlock()
	}

	o.mu.Lock()
	stillTracking := o.state == Tracking
	o.mu.Unlock()
	if !stillTracking {
		return // a reset raced in during batch learning; suppress the result
	}
	if err := o.sink.UpdateTarget(ctx, report, true); err != nil {
		o.logger.WithError(err).Warn("target sink update failed")
	}
}

// learnBatch implements spec.md §4.2 step 7: reconstruct the prior best
// window from the stored coefficients against the model that was current
// when they were computed, run the SKL update on the accumulated batch,
// then re-project onto the fresh basis. Applies the MAX_BASIS cap.
func (o *Orchestrator) learnBatch(prev Model, prevCoef []float64, prevCoefModel Model, batch []Template, latestCoef []float64) (Model, []float64, error) {
	newModel, err := Update(prev, batch, o.cfg.Forgetting)
	if err != nil {
		return Model{}, nil, err
	}
	newModel, _ = TruncateToMaxBasis(newModel, o.cfg.MaxBasis, o.cfg.Forgetting, nil)

	if prevCoef == nil || prevCoefModel.Basis == nil {
		return newModel, nil, nil
	}

	d := len(newModel.Mean)
	recon := make([]float64, d)
	_, k := prevCoefModel.Basis.Dims()
	for i := 0; i < d; i++ {
		v := prevCoefModel.Mean[i]
		for j := 0; j < k && j < len(prevCoef); j++ {
			v += prevCoefModel.Basis.At(i, j) * prevCoef[j]
		}
		recon[i] = v
	}

	newK := newModel.rank()
	newCoef := make([]float64, newK)
	for j := 0; j < newK; j++ {
		sum := 0.0
		for i := 0; i < d; i++ {
			sum += newModel.Basis.At(i, j) * (recon[i] - newModel.Mean[i])
		}
		newCoef[j] = sum
	}
	return newModel, newCoef, nil
}

// handleNumericError implements spec.md §7's recovery policy for
// NumericError: silent transition to Idle, target=none published.
func (o *Orchestrator) handleNumericError(ctx context.Context, op string, err error) {
	o.logger.WithError(err).WithField("op", op).Warn("numeric error, resetting to idle")
	o.mu.Lock()
	o.stats.NumericErrors++
	o.stats.LastNumericErrAt = time.Now()
	o.mu.Unlock()
	metrics.Get().NumericErrors.Inc()
	o.Reset(ctx)
}
