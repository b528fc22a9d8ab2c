package filterseq

import "sort"

// Shot is the step active for one shot of the schedule
type Shot struct {
	Step

	// Iteration is the 1-based index of this shot within its step
	Iteration int
}

// Schedule is the flat cyclic expansion of a snapshot.  It is read only.
type Schedule struct {
	steps []Step

	// ends[i] is the index one past the last shot of steps[i],
	// i.e. the cumulative repeat count through step i
	ends []int
}

// ExpandToSchedule builds the schedule for a snapshot
func ExpandToSchedule(steps []Step) Schedule {
	s := Schedule{
		steps: make([]Step, len(steps)),
		ends:  make([]int, len(steps)),
	}
	copy(s.steps, steps)
	total := 0
	for i, st := range s.steps {
		total += st.Repeat
		s.ends[i] = total
	}
	return s
}

// ShotsPerCycle is the number of shots in one pass through the sequence
func (s Schedule) ShotsPerCycle() int {
	if len(s.ends) == 0 {
		return 0
	}
	return s.ends[len(s.ends)-1]
}

// Steps returns the number of steps in the schedule
func (s Schedule) Steps() int {
	return len(s.steps)
}

// StepAt returns the step active for shot i, taken modulo ShotsPerCycle.
// Negative i count backwards from the end of the cycle.
func (s Schedule) StepAt(i int) Shot {
	n := s.ShotsPerCycle()
	if n == 0 {
		return Shot{}
	}
	i %= n
	if i < 0 {
		i += n
	}
	idx := sort.SearchInts(s.ends, i+1)
	begin := 0
	if idx > 0 {
		begin = s.ends[idx-1]
	}
	return Shot{Step: s.steps[idx], Iteration: i - begin + 1}
}

// CompletesCycles returns true if frames is a whole number of cycles
func (s Schedule) CompletesCycles(frames int) bool {
	n := s.ShotsPerCycle()
	return n > 0 && frames%n == 0
}
