package policy

// EstimateDistance approximates the Euclidean magnitude of a displacement as
// max(|dx|,|dy|) + min(|dx|,|dy|)/2, integer-only. The worst case error is
// about 11.8% at the 45 degree diagonal. Threshold values in deployed
// configurations are tuned against this exact formula, so it must not be
// swapped for a true distance.
func EstimateDistance(dx, dy int) int {
	ax := abs(dx)
	ay := abs(dy)
	if ax < ay {
		ax, ay = ay, ax
	}
	return ax + ay/2
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
