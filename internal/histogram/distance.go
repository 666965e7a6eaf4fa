package histogram

import "math"

// MaxDistance is returned for histograms that cannot be compared. It is never
// below any threshold.
const MaxDistance uint64 = math.MaxUint64

// Distance returns the L1 distance between a and b: the sum over every
// channel and bin of |a - b|. Bin counts are promoted to int64 before
// subtracting so the difference never wraps. Histograms with a different
// number of channels get MaxDistance.
func Distance(a, b Histogram) uint64 {
	if len(a) != len(b) {
		return MaxDistance
	}
	var sum uint64
	for c := range a {
		ca, cb := &a[c], &b[c]
		for i := 0; i < Bins; i++ {
			d := int64(ca[i]) - int64(cb[i])
			if d < 0 {
				d = -d
			}
			sum += uint64(d)
		}
	}
	return sum
}
