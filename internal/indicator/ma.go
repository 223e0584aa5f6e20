package indicator

import "math"

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA over the last p points; aligned to the input with NaN warm-up.
func SMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	var sum float64
	for i := range x {
		sum += x[i]
		if i < p-1 {
			out[i] = math.NaN()
			continue
		}
		if i >= p {
			sum -= x[i-p]
		}
		out[i] = sum / float64(p)
	}
	return out
}

// EMA with smoothing 2/(p+1), seeded with the SMA of the first p points.
func EMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	return smoothed(x, p, 2.0/float64(p+1))
}

// RMA is Wilder's moving average (smoothing 1/p), seeded with an SMA.
func RMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	return smoothed(x, p, 1.0/float64(p))
}

func smoothed(x []float64, p int, k float64) []float64 {
	out := nanSlice(len(x))
	if len(x) < p {
		return out
	}
	var seed float64
	for i := 0; i < p; i++ {
		seed += x[i]
	}
	out[p-1] = seed / float64(p)
	for i := p; i < len(x); i++ {
		out[i] = (x[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// WMA weights the newest point p and the oldest 1.
func WMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := nanSlice(len(x))
	denom := float64(p*(p+1)) / 2
	for i := p - 1; i < len(x); i++ {
		var sum float64
		for j := 0; j < p; j++ {
			sum += x[i-j] * float64(p-j)
		}
		out[i] = sum / denom
	}
	return out
}

// Highest value over the last p points.
func Highest(x []float64, p int) []float64 {
	return extreme(x, p, func(a, b float64) bool { return a > b })
}

// Lowest value over the last p points.
func Lowest(x []float64, p int) []float64 {
	return extreme(x, p, func(a, b float64) bool { return a < b })
}

func extreme(x []float64, p int, better func(a, b float64) bool) []float64 {
	if p <= 0 {
		return nil
	}
	out := nanSlice(len(x))
	for i := p - 1; i < len(x); i++ {
		v := x[i-p+1]
		for j := i - p + 2; j <= i; j++ {
			if better(x[j], v) {
				v = x[j]
			}
		}
		out[i] = v
	}
	return out
}

// ROC is the percent change against the value p points back.
func ROC(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := nanSlice(len(x))
	for i := p; i < len(x); i++ {
		if x[i-p] == 0 {
			continue
		}
		out[i] = 100 * (x[i] - x[i-p]) / x[i-p]
	}
	return out
}
