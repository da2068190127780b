package regime

import (
	"testing"
	"time"
)

func TestFeatureBuilderReturnsNeutralBeforeEnoughTicks(t *testing.T) {
	b := NewFeatureBuilder()
	now := time.Now()

	f := b.Observe("acct1:R_100", 100, now)
	if f.TickCount != 1 {
		t.Fatalf("TickCount = %d, want 1", f.TickCount)
	}
	if f.RSI != 50 {
		t.Fatalf("RSI = %v, want neutral 50 on the first tick", f.RSI)
	}
	if f.SpreadQuality != 1 {
		t.Fatalf("SpreadQuality = %v, want 1 (no bid/ask in the feed)", f.SpreadQuality)
	}
}

func TestFeatureBuilderTracksRisingTrendPersistence(t *testing.T) {
	b := NewFeatureBuilder()
	now := time.Now()

	var f FeatureSnapshot
	price := 100.0
	for i := 0; i < 60; i++ {
		price += 1
		f = b.Observe("acct1:R_100", price, now.Add(time.Duration(i)*time.Second))
	}

	if f.TickCount != 60 {
		t.Fatalf("TickCount = %d, want 60", f.TickCount)
	}
	if f.TickDirectionPersistence != 1 {
		t.Fatalf("TickDirectionPersistence = %v, want 1 for a monotonically rising series", f.TickDirectionPersistence)
	}
	if f.EMASlopeShort <= 0 {
		t.Fatalf("EMASlopeShort = %v, want positive for a rising series", f.EMASlopeShort)
	}
}

func TestFeatureBuilderKeysAreIndependent(t *testing.T) {
	b := NewFeatureBuilder()
	now := time.Now()

	b.Observe("acct1:R_100", 100, now)
	b.Observe("acct1:R_100", 101, now.Add(time.Second))
	f := b.Observe("acct2:R_100", 500, now)

	if f.TickCount != 1 {
		t.Fatalf("TickCount = %d, want 1 for a key observed once", f.TickCount)
	}
}

func TestFeatureBuilderReportsTickAge(t *testing.T) {
	b := NewFeatureBuilder()
	now := time.Now()

	b.Observe("acct1:R_100", 100, now)
	f := b.Observe("acct1:R_100", 101, now.Add(250*time.Millisecond))

	if f.LastTickAgeMs != 250 {
		t.Fatalf("LastTickAgeMs = %d, want 250", f.LastTickAgeMs)
	}
}
