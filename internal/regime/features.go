package regime

import (
	"math"
	"sync"
	"time"

	"github.com/markcheno/go-talib"
)

const (
	windowCapacity = 200
	rsiPeriod      = 14
	emaShortPeriod = 9
	emaLongPeriod  = 21
	volShortPeriod = 10
	volLongPeriod  = 50
)

// tickHistory is the rolling mark-price history tracked per (accountId,
// symbol) key.
type tickHistory struct {
	prices   []float64
	lastTick time.Time
}

// FeatureBuilder derives a FeatureSnapshot from the raw mark-to-market tick
// stream settlement already receives, rather than a dedicated market-data
// pipeline — there is no candle/indicator feed anywhere else in this
// system. Indicator math (RSI, EMA, stddev) is delegated to
// markcheno/go-talib, the indicator library the rest of the retrieved
// trading-bot pack reaches for, instead of hand-rolling it here.
type FeatureBuilder struct {
	mu      sync.Mutex
	history map[string]*tickHistory
}

// NewFeatureBuilder creates an empty builder.
func NewFeatureBuilder() *FeatureBuilder {
	return &FeatureBuilder{history: make(map[string]*tickHistory)}
}

// Observe records a new mark price for key (conventionally accountId:symbol,
// matching the Detector's own keying) and returns the FeatureSnapshot the
// regime Detector should score against.
func (b *FeatureBuilder) Observe(key string, price float64, now time.Time) FeatureSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.history[key]
	if !ok {
		h = &tickHistory{lastTick: now}
		b.history[key] = h
	}

	ageMs := now.Sub(h.lastTick).Milliseconds()
	h.lastTick = now

	h.prices = append(h.prices, price)
	if len(h.prices) > windowCapacity {
		h.prices = h.prices[len(h.prices)-windowCapacity:]
	}

	return buildSnapshot(h.prices, ageMs)
}

// buildSnapshot computes indicators over the available price history.
// Indicators that need more samples than are on hand yet are left at a fixed
// value rather than guessed at: RSI 50, and zero for the EMA slopes,
// TrendStrength and the volatility fields. MeanReversionScore is derived as
// 1 - TrendStrength, so from the second tick it reads 1 until TrendStrength
// can be computed.
func buildSnapshot(prices []float64, lastTickAgeMs int64) FeatureSnapshot {
	n := len(prices)
	f := FeatureSnapshot{
		TickCount:     n,
		LastTickAgeMs: lastTickAgeMs,
		// The broker's OpenContractUpdate carries a single mark price, not a
		// bid/ask pair, so spread quality can't be measured here; treat it
		// as always tight and let LastTickAgeMs carry the liquidity signal.
		SpreadQuality: 1,
		RSI:           50,
	}
	if n < 2 {
		return f
	}

	f.TickDirectionPersistence = directionPersistence(prices)

	if n >= rsiPeriod+1 {
		f.RSI = lastValid(talib.Rsi(prices, rsiPeriod))
	}

	if n >= emaLongPeriod+2 {
		emaShort := talib.Ema(prices, emaShortPeriod)
		emaLong := talib.Ema(prices, emaLongPeriod)
		f.EMASlopeShort = slope(emaShort)
		f.EMASlopeLong = slope(emaLong)
		if avg := avgAbs(prices); avg > 0 {
			f.TrendStrength = clamp01(math.Abs(f.EMASlopeShort) / avg * 50)
		}
	}

	if n >= volLongPeriod {
		shortStd := lastValid(talib.StdDev(prices, volShortPeriod, 1))
		longStd := lastValid(talib.StdDev(prices, volLongPeriod, 1))
		f.StdDev = shortStd
		f.ATRSlow = longStd
		if longStd > 0 {
			f.VolatilityRatio = shortStd / longStd
		}
	}

	f.MeanReversionScore = clamp01(1 - f.TrendStrength)
	return f
}

// directionPersistence is the fraction of the last 20 price moves (or fewer,
// early in the window) sharing the most recent move's sign.
func directionPersistence(prices []float64) float64 {
	n := len(prices)
	window := 20
	if n-1 < window {
		window = n - 1
	}
	if window < 1 {
		return 0
	}

	lastSign := sign(prices[n-1] - prices[n-2])
	if lastSign == 0 {
		return 0
	}

	matches := 0
	for i := n - window; i < n; i++ {
		if sign(prices[i]-prices[i-1]) == lastSign {
			matches++
		}
	}
	return float64(matches) / float64(window)
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func lastValid(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

func slope(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	return series[len(series)-1] - series[len(series)-2]
}

func avgAbs(prices []float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range prices {
		sum += math.Abs(p)
	}
	return sum / float64(len(prices))
}
