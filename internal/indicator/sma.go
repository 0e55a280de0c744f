package indicator

import "math"

// sma returns the rolling simple moving average of src. While fewer than
// period values exist the raw input value is emitted.
func sma(src []float64, period int) []float64 {
	out := make([]float64, len(src))
	sum := 0.0
	for i, v := range src {
		sum += v
		if i >= period {
			sum -= src[i-period]
		}
		if i+1 >= period {
			out[i] = sum / float64(period)
		} else {
			out[i] = v
		}
	}
	return out
}

// stdDev is the population standard deviation of window around mean.
func stdDev(window []float64, mean float64) float64 {
	if len(window) == 0 {
		return 0
	}
	variance := 0.0
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(window)))
}
