package ledger

import (
	"fmt"
	"math"
)

// SpendingPolicy determines the per-test allowance only; the ledger's own
// bookkeeping is what bounds the cumulative total.
type SpendingPolicy interface {
	Name() string
	// Allowance returns the alpha this test may spend. testIndex is 1-based;
	// step is the number of sequential decisions already recorded when the
	// allowance is granted.
	Allowance(totalBudget float64, testIndex, step int) float64
}

// Uniform splits the budget evenly over the expected number of tests.
type Uniform struct {
	ExpectedTests int
}

func (p Uniform) Name() string { return "uniform" }

func (p Uniform) Allowance(totalBudget float64, testIndex, step int) float64 {
	if p.ExpectedTests <= 0 {
		return 0
	}
	return totalBudget / float64(p.ExpectedTests)
}

// AlphaDecreasing shrinks the allowance as the process accumulates
// sequential decisions, so late-armed tests get tighter error budgets.
type AlphaDecreasing struct {
	ExpectedTests int
}

func (p AlphaDecreasing) Name() string { return "alpha_decreasing" }

func (p AlphaDecreasing) Allowance(totalBudget float64, testIndex, step int) float64 {
	if p.ExpectedTests <= 0 {
		return 0
	}
	base := totalBudget / float64(p.ExpectedTests)
	if step < 0 {
		step = 0
	}
	return base / (1 + math.Log1p(float64(step)))
}

// FDRLinear scales the allowance with the test index over the expected test
// count, Benjamini-Hochberg style.
type FDRLinear struct {
	ExpectedTests int
}

func (p FDRLinear) Name() string { return "fdr_linear" }

func (p FDRLinear) Allowance(totalBudget float64, testIndex, step int) float64 {
	if p.ExpectedTests <= 0 {
		return 0
	}
	if testIndex < 1 {
		testIndex = 1
	}
	if testIndex > p.ExpectedTests {
		testIndex = p.ExpectedTests
	}
	return totalBudget * float64(testIndex) / float64(p.ExpectedTests) / float64(p.ExpectedTests)
}

// PolicyFromName builds the named spending policy.
func PolicyFromName(name string, expectedTests int) (SpendingPolicy, error) {
	switch name {
	case "uniform":
		return Uniform{ExpectedTests: expectedTests}, nil
	case "alpha_decreasing":
		return AlphaDecreasing{ExpectedTests: expectedTests}, nil
	case "fdr_linear":
		return FDRLinear{ExpectedTests: expectedTests}, nil
	default:
		return nil, fmt.Errorf("unknown spending policy %q", name)
	}
}
