package board

// PositionGap is the spacing between neighbours after an append or a renumber.
const PositionGap int64 = 1000

// NextPosition returns the append position after the current maximum.
func NextPosition(max int64, hasAny bool) int64 {
	if !hasAny {
		return PositionGap
	}
	return max + PositionGap
}

// PositionBetween picks an integer strictly between before and after. A nil
// before means the head of the column (0), a nil after means the tail. The
// second result is false when no integer fits and the column needs a renumber.
func PositionBetween(before, after *int64) (int64, bool) {
	switch {
	case before == nil && after == nil:
		return PositionGap, true
	case after == nil:
		return *before + PositionGap, true
	}

	var lo int64
	if before != nil {
		lo = *before
	}
	hi := *after
	if hi-lo < 2 {
		return 0, false
	}
	return lo + (hi-lo)/2, true
}
