package defrag

// PassContext tracks the budget of the current defragmentation pass across multiple relocations
type PassContext struct {
	// MaxPassElements is the maximum number of elements to relocate in each pass. Zero means
	// unlimited. There is no guarantee that this many elements will actually be relocated in a
	// given pass, based on how easy it is to find additional relocations that fit the budget.
	MaxPassElements int
	// MaxPassMoves is the maximum number of relocations to perform in each pass. Zero means
	// unlimited.
	MaxPassMoves int
	// Stats contains statistics for the current pass
	Stats Stats

	ignoredAllocs int
}

const maxAllocsToIgnore = 16

func (p *PassContext) checkCounters(elements int) counterStatus {
	// Ignore allocation if it would exceed the element budget
	if p.MaxPassElements > 0 && p.Stats.ElementsMoved+elements > p.MaxPassElements {
		p.ignoredAllocs++
		if p.ignoredAllocs < maxAllocsToIgnore {
			return counterIgnore
		}
		return counterEnd
	}

	p.ignoredAllocs = 0
	return counterPass
}

// incrementCounters records a collected move and returns true if the pass budget is now spent
func (p *PassContext) incrementCounters(elements int) bool {
	p.Stats.ElementsMoved += elements
	p.Stats.AllocationsMoved++

	if p.MaxPassMoves > 0 && p.Stats.AllocationsMoved >= p.MaxPassMoves {
		return true
	}

	return p.MaxPassElements > 0 && p.Stats.ElementsMoved >= p.MaxPassElements
}
