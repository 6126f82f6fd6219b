package pipeline

// State is the lifecycle position of one ingest batch.
type State string

const (
	StateFetching    State = "fetching"
	StateNormalizing State = "normalizing"
	StateResolving   State = "resolving"
	StateAnalyzing   State = "analyzing"
	StateDeduping    State = "deduping"
	StateCommitting  State = "committing"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

var stateOrder = map[State]int{
	StateFetching:    0,
	StateNormalizing: 1,
	StateResolving:   2,
	StateAnalyzing:   3,
	StateDeduping:    4,
	StateCommitting:  5,
	StateDone:        6,
}

// CanTransition reports whether a batch may move between two states.
// Live states advance one step at a time and may always fail. A commit
// that lost a write race re-enters resolving for its one retry.
func CanTransition(from, to State) bool {
	if to == StateFailed {
		return from != StateDone && from != StateFailed
	}
	if from == StateCommitting && to == StateResolving {
		return true
	}
	fromIdx, ok := stateOrder[from]
	if !ok {
		return false
	}
	toIdx, ok := stateOrder[to]
	if !ok {
		return false
	}
	return toIdx == fromIdx+1
}

// Terminal reports whether no further transition is possible.
func Terminal(state State) bool {
	return state == StateDone || state == StateFailed
}
