package main

import (
	"math"
	"math/rand"
	"testing"
)

func TestWalkPrice_BoundedAndTickAligned(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	price := 22000.0
	for i := 0; i < 1000; i++ {
		next := walkPrice(rng, price)
		if math.Abs(next-price) > price*0.001+0.05 {
			t.Fatalf("step %d: moved %v -> %v, more than 0.1%%", i, price, next)
		}
		if ticks := next * 20; math.Abs(ticks-math.Round(ticks)) > 1e-6 {
			t.Fatalf("step %d: %v is not a multiple of 0.05", i, next)
		}
		price = next
	}
}

func TestNewInstruments(t *testing.T) {
	got := newInstruments([]string{"NIFTY50", "XYZ"})
	if len(got) != 2 {
		t.Fatalf("expected 2 instruments, got %d", len(got))
	}
	if got[0].Price != 22000 {
		t.Errorf("NIFTY50 start = %v, want 22000", got[0].Price)
	}
	if got[1].Price != 1000 {
		t.Errorf("unknown symbol start = %v, want 1000", got[1].Price)
	}
}
