package indicator

import "marketdesk/internal/model"

// CPR computes the Central Pivot Range for every candle independently:
//
//	pivot = (H+L+C)/3   bc = (H+L)/2   tc = 2*pivot - bc
//	r1 = 2*pivot - L    r2 = pivot + (H-L)   r3 = H + 2*(pivot-L)
//	s1 = 2*pivot - H    s2 = pivot - (H-L)   s3 = L - 2*(H-pivot)
//
// No warm-up is needed. Values is the pivot series.
func CPR(candles []model.Candle) Result {
	n := len(candles)
	names := []string{"pivot", "bc", "tc", "r1", "r2", "r3", "s1", "s2", "s3"}
	levels := make(map[string][]float64, len(names))
	for _, name := range names {
		levels[name] = make([]float64, n)
	}

	for i, c := range candles {
		pivot := (c.High + c.Low + c.Close) / 3
		bc := (c.High + c.Low) / 2
		rng := c.High - c.Low

		levels["pivot"][i] = pivot
		levels["bc"][i] = bc
		levels["tc"][i] = 2*pivot - bc
		levels["r1"][i] = 2*pivot - c.Low
		levels["r2"][i] = pivot + rng
		levels["r3"][i] = c.High + 2*(pivot-c.Low)
		levels["s1"][i] = 2*pivot - c.High
		levels["s2"][i] = pivot - rng
		levels["s3"][i] = c.Low - 2*(c.High-pivot)
	}

	values := make([]float64, n)
	copy(values, levels["pivot"])
	return Result{Name: string(KindCPR), Values: values, Levels: levels}
}
