package internal

// StepNavigator is a cursor over recipe steps clamped to [0, total-1].
type StepNavigator struct {
	index int
	total int
}

// NewStepNavigator creates a navigator at index, clamped to the step range.
func NewStepNavigator(total, index int) *StepNavigator {
	n := &StepNavigator{total: total}
	n.GoTo(index)
	return n
}

func (n *StepNavigator) Index() int { return n.index }
func (n *StepNavigator) Total() int { return n.total }

// Number is the 1-based step number.
func (n *StepNavigator) Number() int { return n.index + 1 }

func (n *StepNavigator) AtFirst() bool { return n.index == 0 }

func (n *StepNavigator) AtLast() bool { return n.total == 0 || n.index == n.total-1 }

// Advance moves forward one step and reports whether the index changed.
func (n *StepNavigator) Advance() bool {
	if n.AtLast() {
		return false
	}
	n.index++
	return true
}

// Retreat moves back one step and reports whether the index changed.
func (n *StepNavigator) Retreat() bool {
	if n.index == 0 {
		return false
	}
	n.index--
	return true
}

// GoTo jumps to i, clamped to the valid range.
func (n *StepNavigator) GoTo(i int) bool {
	if i > n.total-1 {
		i = n.total - 1
	}
	if i < 0 {
		i = 0
	}
	changed := i != n.index
	n.index = i
	return changed
}
