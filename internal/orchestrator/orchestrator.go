// Package orchestrator holds the hysteretic acceptance state machine. It
// turns per-cycle guard evaluations into a posture: PASS, DERISK, or BLOCK.
//
// Downgrades are fast to protect capital; upgrades are slow to avoid
// premature re-exposure. That asymmetry is intentional.
package orchestrator

import (
	"time"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/repository"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/logger"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/util"
)

// Config tunes the state machine. pkg/config validates the cross-field
// constraints (clean window longer than recovery window, thresholds ordered)
// before this is ever constructed.
type Config struct {
	DwellMinDerisk   int  // soft breach persistence before PASS -> DERISK
	DwellMinRecovery int  // clean cycles before DERISK -> PASS
	BlockCooldown    int  // min cycles in BLOCK before BLOCK -> DERISK
	BlockCleanWindow int  // clean cycles for the BLOCK -> PASS fast path
	AllowFastPath    bool // disable to force BLOCK -> DERISK -> PASS recovery
	// KappaPlusSoftFloor is a floor on acceptance confidence (1 - kappa_plus):
	// confidence under the floor derisks without waiting out the dwell.
	KappaPlusSoftFloor float64
	Guards             []GuardSpec // fixed evaluation order
}

// Orchestrator is the single writer of one stream's AcceptanceState.
type Orchestrator struct {
	cfg     Config
	profile string
	metrics repository.Metrics
	log     *logger.Logger

	posture        models.Posture
	cyclesInState  int
	softDwell      int
	cleanDwell     int
	lastTransition time.Time
	violations     map[Kind]int64
	transitions    map[string]int64
}

// New creates an orchestrator starting in PASS.
func New(cfg Config, profile string, metrics repository.Metrics, log *logger.Logger) *Orchestrator {
	if metrics == nil {
		metrics = repository.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Orchestrator{
		cfg:         cfg,
		profile:     profile,
		metrics:     metrics,
		log:         log,
		posture:     models.PosturePass,
		violations:  make(map[Kind]int64),
		transitions: make(map[string]int64),
	}
}

// Posture returns the current posture without evaluating anything; the
// pipeline uses it when a cycle blows its budget and must return the
// last-known posture flagged stale.
func (o *Orchestrator) Posture() models.Posture { return o.posture }

// Evaluate runs one cycle: checks every guard in its fixed order, then
// applies the transition rules. It returns the evaluations (for the gate and
// for logging) and the resulting posture.
func (o *Orchestrator) Evaluate(in GuardInputs, now time.Time) ([]models.GuardEvaluation, models.Posture) {
	evals := make([]models.GuardEvaluation, 0, len(o.cfg.Guards))
	anySoft, anyHard := false, false
	for _, spec := range o.cfg.Guards {
		ev := spec.Evaluate(in.valueFor(spec.Kind))
		evals = append(evals, ev)
		if ev.BreachedHard {
			anyHard = true
			o.violations[ev.Kind]++
			o.metrics.RecordGuardViolation(o.profile, ev.Kind.String(), "hard")
		} else if ev.BreachedSoft {
			anySoft = true
			o.violations[ev.Kind]++
			o.metrics.RecordGuardViolation(o.profile, ev.Kind.String(), "soft")
		}
	}

	confidence := util.Clip01(1 - in.KappaPlus)
	lowConfidence := confidence < o.cfg.KappaPlusSoftFloor

	o.cyclesInState++
	clean := !anySoft && !anyHard && !lowConfidence

	switch o.posture {
	case models.PosturePass:
		o.stepPass(anySoft, anyHard, lowConfidence, now)
	case models.PostureDerisk:
		o.stepDerisk(anyHard, clean, now)
	case models.PostureBlock:
		o.stepBlock(anyHard, clean, now)
	}

	return evals, o.posture
}

func (o *Orchestrator) stepPass(anySoft, anyHard, lowConfidence bool, now time.Time) {
	// hard breaches downgrade without waiting out any dwell
	if anyHard {
		o.transition(models.PostureDerisk, now)
		return
	}
	if lowConfidence {
		o.transition(models.PostureDerisk, now)
		return
	}
	if anySoft {
		o.softDwell++
		if o.softDwell >= o.cfg.DwellMinDerisk {
			o.transition(models.PostureDerisk, now)
		}
		return
	}
	o.softDwell = 0
}

func (o *Orchestrator) stepDerisk(anyHard, clean bool, now time.Time) {
	// Immediate on hard breach. The one-cycle minimum dwell is inherent:
	// posture changes at most once per Evaluate, so a stream entering DERISK
	// always sits there a full cycle before this can fire.
	if anyHard {
		o.transition(models.PostureBlock, now)
		return
	}
	if clean {
		o.cleanDwell++
		if o.cleanDwell >= o.cfg.DwellMinRecovery {
			o.transition(models.PosturePass, now)
		}
		return
	}
	o.cleanDwell = 0
}

func (o *Orchestrator) stepBlock(anyHard, clean bool, now time.Time) {
	if clean {
		o.cleanDwell++
	} else {
		o.cleanDwell = 0
	}

	// extended clean window: direct BLOCK -> PASS, unless disabled
	if o.cfg.AllowFastPath && o.cleanDwell >= o.cfg.BlockCleanWindow {
		o.transition(models.PosturePass, now)
		return
	}

	// cooldown elapsed and nothing above hard thresholds: step down to DERISK
	if o.cyclesInState >= o.cfg.BlockCooldown && !anyHard {
		o.transition(models.PostureDerisk, now)
	}
}

func (o *Orchestrator) transition(to models.Posture, now time.Time) {
	from := o.posture
	o.posture = to
	o.cyclesInState = 0
	o.softDwell = 0
	o.cleanDwell = 0
	o.lastTransition = now

	key := from.String() + "->" + to.String()
	o.transitions[key]++
	o.metrics.RecordTransition(o.profile, from.String(), to.String())
	o.log.Info("posture transition",
		logger.String("profile", o.profile),
		logger.String("from", from.String()),
		logger.String("to", to.String()),
	)
}

// Violations returns per-guard breach counts since start (or restore).
func (o *Orchestrator) Violations() map[Kind]int64 {
	out := make(map[Kind]int64, len(o.violations))
	for k, v := range o.violations {
		out[k] = v
	}
	return out
}

// Snapshot serializes the acceptance state for persistence.
func (o *Orchestrator) Snapshot() models.AcceptanceSnapshot {
	viol := make(map[string]int64, len(o.violations))
	for k, v := range o.violations {
		viol[k.String()] = v
	}
	trans := make(map[string]int64, len(o.transitions))
	for k, v := range o.transitions {
		trans[k] = v
	}
	return models.AcceptanceSnapshot{
		Posture:           o.posture.String(),
		SoftDwell:         o.softDwell,
		CleanDwell:        o.cleanDwell,
		BlockAge:          o.cyclesInState,
		LastTransition:    o.lastTransition,
		ViolationsByGuard: viol,
		Transitions:       trans,
	}
}

// Restore resumes from a persisted snapshot without replaying observations.
func (o *Orchestrator) Restore(snap models.AcceptanceSnapshot) {
	if p, ok := models.ParsePosture(snap.Posture); ok {
		o.posture = p
	}
	o.softDwell = snap.SoftDwell
	o.cleanDwell = snap.CleanDwell
	o.cyclesInState = snap.BlockAge
	o.lastTransition = snap.LastTransition
	o.violations = make(map[Kind]int64)
	for _, k := range models.GuardKinds() {
		if v, ok := snap.ViolationsByGuard[k.String()]; ok {
			o.violations[k] = v
		}
	}
	o.transitions = make(map[string]int64)
	for k, v := range snap.Transitions {
		o.transitions[k] = v
	}
}

// GuardsFromThresholds builds the fixed ordered guard set.
func GuardsFromThresholds(thresholds map[Kind][2]float64) []GuardSpec {
	specs := make([]GuardSpec, 0, len(thresholds))
	for _, k := range models.GuardKinds() {
		if t, ok := thresholds[k]; ok {
			specs = append(specs, GuardSpec{Kind: k, Soft: t[0], Hard: t[1]})
		}
	}
	return specs
}
