package runtime

// CoreAffinity steers an actor towards the performance or efficiency lane
// of the worker pool.
type CoreAffinity int32

const (
	AffinityNone CoreAffinity = iota
	PreferPerformance
	PreferEfficiency
	OnlyPerformance
	OnlyEfficiency
)

func (c CoreAffinity) String() string {
	switch c {
	case PreferPerformance:
		return "preferPerformance"
	case PreferEfficiency:
		return "preferEfficiency"
	case OnlyPerformance:
		return "onlyPerformance"
	case OnlyEfficiency:
		return "onlyEfficiency"
	default:
		return "none"
	}
}

// Lane partitions the worker pool.
type Lane int

const (
	PerformanceLane Lane = iota
	EfficiencyLane
)

// lanePreference returns the lane an affinity asks for, whether the request
// is strict, and whether any lane will do.
func (c CoreAffinity) lanePreference() (lane Lane, strict bool, anyLane bool) {
	switch c {
	case PreferPerformance:
		return PerformanceLane, false, false
	case PreferEfficiency:
		return EfficiencyLane, false, false
	case OnlyPerformance:
		return PerformanceLane, true, false
	case OnlyEfficiency:
		return EfficiencyLane, true, false
	default:
		return PerformanceLane, false, true
	}
}
