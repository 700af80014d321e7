// Package signals provides technical indicator calculations
package signals

import "github.com/bobmcallan/yosoku/internal/models"

// Trend classifications
const (
	TrendBullish = "bullish"
	TrendBearish = "bearish"
	TrendNeutral = "neutral"
)

// SMA calculates the Simple Moving Average of the last period closes.
// closes are ordered oldest first. Returns false if there is not enough data.
func SMA(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}

	sum := 0.0
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period), true
}

// SMASeries returns the rolling SMA aligned with closes. Positions before the
// first full window are zero and ok[i] is false there.
func SMASeries(closes []float64, period int) (values []float64, ok []bool) {
	values = make([]float64, len(closes))
	ok = make([]bool, len(closes))
	if period <= 0 {
		return values, ok
	}

	sum := 0.0
	for i, c := range closes {
		sum += c
		if i >= period {
			sum -= closes[i-period]
		}
		if i >= period-1 {
			values[i] = sum / float64(period)
			ok[i] = true
		}
	}
	return values, ok
}

// RSI calculates the Wilder-smoothed Relative Strength Index.
// Requires period+1 closes; returns 50 (neutral) otherwise.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 50
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ClassifyRSI classifies RSI value
func ClassifyRSI(rsi float64) string {
	if rsi >= 70 {
		return "overbought"
	}
	if rsi <= 30 {
		return "oversold"
	}
	return "neutral"
}

// DetermineTrend compares the last close with the shortest and longest valid
// moving averages. Price above both with short > long is bullish, the mirror
// image is bearish, anything else is neutral.
func DetermineTrend(lastClose float64, mas []models.MovingAverage) string {
	var short, long *models.MovingAverage
	for i := range mas {
		if !mas[i].Valid {
			continue
		}
		if short == nil || mas[i].Window < short.Window {
			short = &mas[i]
		}
		if long == nil || mas[i].Window > long.Window {
			long = &mas[i]
		}
	}
	if short == nil || long == nil || short.Window == long.Window {
		return TrendNeutral
	}

	if lastClose > long.Value && short.Value > long.Value {
		return TrendBullish
	}
	if lastClose < long.Value && short.Value < long.Value {
		return TrendBearish
	}
	return TrendNeutral
}

// Compute derives the indicator summary for a series.
// Returns nil for an empty series.
func Compute(series *models.PriceSeries, maWindows []int, rsiPeriod int) *models.Indicators {
	if series.Empty() {
		return nil
	}

	closes := series.Closes()
	last := series.Bars[len(series.Bars)-1]

	ind := &models.Indicators{
		LastClose:  last.Close,
		PeriodHigh: last.High,
		PeriodLow:  last.Low,
		RSIPeriod:  rsiPeriod,
	}

	var volSum int64
	for _, b := range series.Bars {
		if b.High > ind.PeriodHigh {
			ind.PeriodHigh = b.High
		}
		if b.Low > 0 && (ind.PeriodLow == 0 || b.Low < ind.PeriodLow) {
			ind.PeriodLow = b.Low
		}
		volSum += b.Volume
	}
	ind.AvgVolume = volSum / int64(len(series.Bars))

	first := series.Bars[0].Close
	if first != 0 {
		ind.Change = last.Close - first
		ind.ChangePct = ind.Change / first * 100
	}

	for _, w := range maWindows {
		v, ok := SMA(closes, w)
		ind.MovingAverage = append(ind.MovingAverage, models.MovingAverage{Window: w, Value: v, Valid: ok})
	}

	ind.RSI = RSI(closes, rsiPeriod)
	ind.RSISignal = ClassifyRSI(ind.RSI)
	ind.Trend = DetermineTrend(last.Close, ind.MovingAverage)

	return ind
}
