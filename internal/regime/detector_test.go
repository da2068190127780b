package regime

import "testing"

func trendSnapshot() FeatureSnapshot {
	return FeatureSnapshot{
		TickCount:                50,
		TickDirectionPersistence: 0.9,
		VolatilityRatio:          1.0,
		ATRSlow:                  1.0,
		StdDev:                   1.0,
		RSI:                      68,
		EMASlopeShort:            0.5,
		EMASlopeLong:             0.3,
		TrendStrength:            0.9,
		MeanReversionScore:       0.1,
		SpreadQuality:            0.9,
		LastTickAgeMs:            200,
	}
}

func rangeSnapshot() FeatureSnapshot {
	return FeatureSnapshot{
		TickCount:                50,
		TickDirectionPersistence: 0.3,
		VolatilityRatio:          1.0,
		ATRSlow:                  1.0,
		StdDev:                   1.0,
		RSI:                      50,
		EMASlopeShort:            0.01,
		EMASlopeLong:             -0.01,
		TrendStrength:            0.1,
		MeanReversionScore:       0.9,
		SpreadQuality:            0.9,
		LastTickAgeMs:            200,
	}
}

func TestEvaluateStartsAtUncertainThenClassifiesRange(t *testing.T) {
	d := New(3)
	st := d.Evaluate("A", "R_100", rangeSnapshot())
	if st.Current != Uncertain {
		t.Fatalf("Current = %v, want UNCERTAIN before the first transition completes", st.Current)
	}
	if st.PendingTransition != Range {
		t.Fatalf("PendingTransition = %v, want RANGE", st.PendingTransition)
	}
}

func TestHysteresisRequiresThreeConsecutiveWinsToTransition(t *testing.T) {
	d := New(3)

	// Drive the state to RANGE first (spec.md §8 item 5 starts there).
	for i := 0; i < 3; i++ {
		d.Evaluate("A", "R_100", rangeSnapshot())
	}
	st, ok := d.Get("A", "R_100")
	if !ok || st.Current != Range {
		t.Fatalf("setup: Current = %v, want RANGE", st.Current)
	}

	// Two TREND-top snapshots: still RANGE, with a pending transition.
	d.Evaluate("A", "R_100", trendSnapshot())
	st = d.Evaluate("A", "R_100", trendSnapshot())
	if st.Current != Range {
		t.Fatalf("Current = %v, want RANGE to remain stable after only 2 pending wins", st.Current)
	}
	if st.PendingTransition != Trend {
		t.Fatalf("PendingTransition = %v, want TREND", st.PendingTransition)
	}

	// Third consecutive TREND-top snapshot completes the transition.
	st = d.Evaluate("A", "R_100", trendSnapshot())
	if st.Current != Trend {
		t.Fatalf("Current = %v, want TREND after 3 consecutive wins", st.Current)
	}
	if st.PreviousRegime != Range {
		t.Fatalf("PreviousRegime = %v, want RANGE", st.PreviousRegime)
	}
	if st.StableCycles != 1 {
		t.Fatalf("StableCycles = %d, want 1 immediately after a transition", st.StableCycles)
	}
}

func TestPendingTransitionCancelsIfCurrentWinsAgain(t *testing.T) {
	d := New(3)
	for i := 0; i < 3; i++ {
		d.Evaluate("A", "R_100", rangeSnapshot())
	}

	d.Evaluate("A", "R_100", trendSnapshot())
	// Current (RANGE) wins again: the pending TREND transition must be
	// cancelled, not merely paused.
	st := d.Evaluate("A", "R_100", rangeSnapshot())
	if st.PendingTransition != "" {
		t.Fatalf("PendingTransition = %v, want none after a break", st.PendingTransition)
	}

	// Two TREND wins after the break must not carry over the earlier streak.
	d.Evaluate("A", "R_100", trendSnapshot())
	st = d.Evaluate("A", "R_100", trendSnapshot())
	if st.Current != Range {
		t.Fatalf("Current = %v, want RANGE (the earlier streak must not count)", st.Current)
	}
}

func TestStatesAreIndependentPerAccountAndSymbol(t *testing.T) {
	d := New(3)
	for i := 0; i < 3; i++ {
		d.Evaluate("A", "R_100", rangeSnapshot())
	}
	if _, ok := d.Get("A", "R_50"); ok {
		t.Fatalf("Get() found a state for an untouched symbol")
	}
	if _, ok := d.Get("B", "R_100"); ok {
		t.Fatalf("Get() found a state for an untouched account")
	}
}
