package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
)

func testGuards() []GuardSpec {
	return GuardsFromThresholds(map[Kind][2]float64{
		models.GuardCoverageEMA:        {0.85, 0.75},
		models.GuardCoverageMissStreak: {5, 12},
		models.GuardLatencyP95:         {80, 150},
		models.GuardSurprisalP95:       {3.0, 5.0},
		models.GuardRelIntervalWidth:   {0.08, 0.2},
		models.GuardKappa:              {0.6, 0.85},
		models.GuardKappaPlus:          {0.65, 0.9},
	})
}

func testConfig() Config {
	return Config{
		DwellMinDerisk:     3,
		DwellMinRecovery:   5,
		BlockCooldown:      8,
		BlockCleanWindow:   12,
		AllowFastPath:      true,
		KappaPlusSoftFloor: 0.05,
		Guards:             testGuards(),
	}
}

func cleanInputs() GuardInputs {
	return GuardInputs{
		CoverageEMA:      0.92,
		MissStreak:       0,
		LatencyP95Ms:     20,
		SurprisalP95:     1.0,
		RelIntervalWidth: 0.02,
		Kappa:            0.2,
		KappaPlus:        0.25,
	}
}

func newTestOrchestrator() *Orchestrator {
	return New(testConfig(), "btc-test", nil, nil)
}

func step(o *Orchestrator, in GuardInputs) models.Posture {
	_, p := o.Evaluate(in, time.Now())
	return p
}

func TestStartsInPassAndStaysCleanInPass(t *testing.T) {
	o := newTestOrchestrator()
	assert.Equal(t, models.PosturePass, o.Posture())
	for i := 0; i < 50; i++ {
		assert.Equal(t, models.PosturePass, step(o, cleanInputs()))
	}
}

func TestIsolatedSoftBreachBelowDwellDoesNotDerisk(t *testing.T) {
	o := newTestOrchestrator()
	soft := cleanInputs()
	soft.LatencyP95Ms = 100 // above soft 80, below hard 150

	// dwell_min_derisk is 3; two breach cycles must not transition
	assert.Equal(t, models.PosturePass, step(o, soft))
	assert.Equal(t, models.PosturePass, step(o, soft))
	// breach clears: dwell resets
	assert.Equal(t, models.PosturePass, step(o, cleanInputs()))
	assert.Equal(t, models.PosturePass, step(o, soft))
	assert.Equal(t, models.PosturePass, step(o, soft))
}

func TestPersistentSoftBreachDerisks(t *testing.T) {
	o := newTestOrchestrator()
	soft := cleanInputs()
	soft.CoverageEMA = 0.80 // below soft 0.85, above hard 0.75

	assert.Equal(t, models.PosturePass, step(o, soft))
	assert.Equal(t, models.PosturePass, step(o, soft))
	assert.Equal(t, models.PostureDerisk, step(o, soft))
}

func TestHardBreachReachesBlockWithinOneExtraCycle(t *testing.T) {
	o := newTestOrchestrator()
	hard := cleanInputs()
	hard.LatencyP95Ms = 200 // above hard 150

	assert.Equal(t, models.PostureDerisk, step(o, hard), "hard breach downgrades immediately")
	assert.Equal(t, models.PostureBlock, step(o, hard), "and reaches BLOCK one cycle later")
}

func TestHardBreachFromDeriskBlocksImmediately(t *testing.T) {
	o := newTestOrchestrator()
	soft := cleanInputs()
	soft.CoverageEMA = 0.80
	for i := 0; i < 3; i++ {
		step(o, soft)
	}
	require.Equal(t, models.PostureDerisk, o.Posture())

	hard := cleanInputs()
	hard.SurprisalP95 = 7.0
	assert.Equal(t, models.PostureBlock, step(o, hard))
}

func TestDeriskRecoversAfterDwell(t *testing.T) {
	o := newTestOrchestrator()
	soft := cleanInputs()
	soft.Kappa = 0.7
	for i := 0; i < 3; i++ {
		step(o, soft)
	}
	require.Equal(t, models.PostureDerisk, o.Posture())

	for i := 0; i < 4; i++ {
		assert.Equal(t, models.PostureDerisk, step(o, cleanInputs()))
	}
	assert.Equal(t, models.PosturePass, step(o, cleanInputs()), "recovery after dwell_min_recovery clean cycles")
}

func TestSoftBreachResetsRecoveryDwell(t *testing.T) {
	o := newTestOrchestrator()
	soft := cleanInputs()
	soft.Kappa = 0.7
	for i := 0; i < 3; i++ {
		step(o, soft)
	}
	require.Equal(t, models.PostureDerisk, o.Posture())

	for i := 0; i < 4; i++ {
		step(o, cleanInputs())
	}
	step(o, soft) // dwell reset
	for i := 0; i < 4; i++ {
		assert.Equal(t, models.PostureDerisk, step(o, cleanInputs()))
	}
	assert.Equal(t, models.PosturePass, step(o, cleanInputs()))
}

func blockOrchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	o := New(cfg, "btc-test", nil, nil)
	hard := cleanInputs()
	hard.LatencyP95Ms = 200
	step(o, hard)
	step(o, hard)
	require.Equal(t, models.PostureBlock, o.Posture())
	return o
}

func TestBlockToDeriskAfterCooldown(t *testing.T) {
	o := blockOrchestrator(t, testConfig())

	// still soft-breached: below hard but not clean; fast path never arms
	soft := cleanInputs()
	soft.LatencyP95Ms = 100
	for i := 0; i < 7; i++ {
		assert.Equal(t, models.PostureBlock, step(o, soft))
	}
	assert.Equal(t, models.PostureDerisk, step(o, soft), "cooldown elapsed, metrics below hard")
}

func TestBlockStaysWhileHardBreached(t *testing.T) {
	o := blockOrchestrator(t, testConfig())
	hard := cleanInputs()
	hard.LatencyP95Ms = 300
	for i := 0; i < 30; i++ {
		assert.Equal(t, models.PostureBlock, step(o, hard))
	}
}

// fastPathConfig makes the extended clean window elapse before the cooldown,
// so a fully clean stream is eligible for the direct BLOCK -> PASS exit.
func fastPathConfig() Config {
	cfg := testConfig()
	cfg.BlockCooldown = 20
	cfg.BlockCleanWindow = 12
	return cfg
}

func TestBlockFastPathToPassAfterExtendedCleanWindow(t *testing.T) {
	o := blockOrchestrator(t, fastPathConfig())
	for i := 0; i < 11; i++ {
		assert.Equal(t, models.PostureBlock, step(o, cleanInputs()))
	}
	assert.Equal(t, models.PosturePass, step(o, cleanInputs()))
}

func TestBlockFastPathDisabledForcesTwoStepRecovery(t *testing.T) {
	cfg := fastPathConfig()
	cfg.AllowFastPath = false
	o := blockOrchestrator(t, cfg)

	// the clean window elapses at cycle 12 but the direct exit is off; the
	// stream waits out the full cooldown and steps down to DERISK instead
	for i := 0; i < 19; i++ {
		assert.Equal(t, models.PostureBlock, step(o, cleanInputs()), "cycle %d", i)
	}
	assert.Equal(t, models.PostureDerisk, step(o, cleanInputs()))

	for i := 0; i < 4; i++ {
		assert.Equal(t, models.PostureDerisk, step(o, cleanInputs()))
	}
	assert.Equal(t, models.PosturePass, step(o, cleanInputs()))
}

func TestLowConfidenceDerisksFromPass(t *testing.T) {
	cfg := testConfig()
	cfg.KappaPlusSoftFloor = 0.2
	o := New(cfg, "btc-test", nil, nil)

	in := cleanInputs()
	in.KappaPlus = 0.55 // below kappa_plus soft threshold, confidence 0.45 > floor
	assert.Equal(t, models.PosturePass, step(o, in))

	in.KappaPlus = 0.85 // confidence 0.15 under the floor
	assert.Equal(t, models.PostureDerisk, step(o, in))
}

func TestViolationCountsByGuard(t *testing.T) {
	o := newTestOrchestrator()
	in := cleanInputs()
	in.LatencyP95Ms = 100
	in.Kappa = 0.9
	step(o, in)

	v := o.Violations()
	assert.Equal(t, int64(1), v[models.GuardLatencyP95])
	assert.Equal(t, int64(1), v[models.GuardKappa])
	assert.Zero(t, v[models.GuardCoverageEMA])
}

func TestSnapshotRestoreResumesWithoutReplay(t *testing.T) {
	o := newTestOrchestrator()
	soft := cleanInputs()
	soft.CoverageEMA = 0.80
	step(o, soft)
	step(o, soft) // softDwell = 2, one short of derisking
	snap := o.Snapshot()

	r := newTestOrchestrator()
	r.Restore(snap)
	assert.Equal(t, o.Posture(), r.Posture())

	// both derisk on the very next breach cycle
	assert.Equal(t, step(o, soft), step(r, soft))
	assert.Equal(t, models.PostureDerisk, r.Posture())
	assert.Equal(t, o.Violations(), r.Violations())
}
