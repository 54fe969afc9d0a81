package export

// ItemState is the position of one source in the export pipeline.
type ItemState string

const (
	StatePending   ItemState = "pending"
	StateExtracted ItemState = "extracted"
	StateResolved  ItemState = "resolved"
	StatePersisted ItemState = "persisted"
	StateNamed     ItemState = "named"
	StateExported  ItemState = "exported"
	StateRecorded  ItemState = "recorded"
	StateFailed    ItemState = "failed"
	StateSkipped   ItemState = "skipped"
)

// Terminal reports whether no further transition is possible.
func (s ItemState) Terminal() bool {
	return s == StateRecorded || s == StateFailed || s == StateSkipped
}

var transitions = map[ItemState][]ItemState{
	StatePending:   {StateExtracted, StateSkipped},
	StateExtracted: {StateResolved},
	StateResolved:  {StatePersisted, StateNamed},
	StatePersisted: {StateNamed},
	StateNamed:     {StateExported},
	StateExported:  {StateRecorded},
}

// CanTransition reports whether from -> to is a legal step. Any non-terminal
// state may fail.
func CanTransition(from, to ItemState) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
