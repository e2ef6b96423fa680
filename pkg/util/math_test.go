package util

import (
	"math"
	"testing"
)

func TestClipBounds(t *testing.T) {
	if got := Clip(1.5, 0, 1); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
	if got := Clip(-0.2, 0, 1); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	if got := Clip(0.4, 0, 1); got != 0.4 {
		t.Fatalf("expected passthrough, got %v", got)
	}
}

func TestEMAConverges(t *testing.T) {
	v := 0.0
	for i := 0; i < 500; i++ {
		v = EMA(v, 1.0, 0.05)
	}
	if math.Abs(v-1.0) > 1e-6 {
		t.Fatalf("ema did not converge, got %v", v)
	}
}

func TestFinite(t *testing.T) {
	if Finite(math.NaN()) || Finite(math.Inf(1)) {
		t.Fatalf("NaN/Inf must not be finite")
	}
	if !Finite(0) {
		t.Fatalf("zero is finite")
	}
}
