package scratchpad

// transitionSpec names, for one state, its normal forward transitions,
// recovery (backward) transitions, permitted skip targets, and whether the
// state itself is required (cannot be skipped over).
type transitionSpec struct {
	Forward  []ProjectState
	Recovery []ProjectState
	SkipTo   []ProjectState
	Required bool
}

// transitionTable is the project lifecycle state machine. prd_drafting and
// pr_review are required at minimum; others may be skipped.
var transitionTable = map[ProjectState]transitionSpec{
	StateCollecting: {
		Forward: []ProjectState{StateClarifying, StatePRDDrafting},
		SkipTo:  []ProjectState{StatePRDDrafting},
	},
	StateClarifying: {
		Forward:  []ProjectState{StatePRDDrafting},
		Recovery: []ProjectState{StateCollecting},
	},
	StatePRDDrafting: {
		Forward:  []ProjectState{StatePRDApproved},
		Recovery: []ProjectState{StateClarifying, StateCollecting},
		Required: true,
	},
	StatePRDApproved: {
		Forward: []ProjectState{StateSRSDrafting, StateSDSDrafting, StateIssuesCreating},
		SkipTo:  []ProjectState{StateSDSDrafting, StateIssuesCreating},
	},
	StateSRSDrafting: {
		Forward:  []ProjectState{StateSRSApproved},
		Recovery: []ProjectState{StatePRDApproved},
	},
	StateSRSApproved: {
		Forward: []ProjectState{StateSDSDrafting, StateIssuesCreating},
		SkipTo:  []ProjectState{StateIssuesCreating},
	},
	StateSDSDrafting: {
		Forward:  []ProjectState{StateSDSApproved},
		Recovery: []ProjectState{StateSRSApproved, StatePRDApproved},
	},
	StateSDSApproved: {
		Forward: []ProjectState{StateIssuesCreating},
	},
	StateIssuesCreating: {
		Forward:  []ProjectState{StateIssuesCreated},
		Recovery: []ProjectState{StateSDSApproved},
	},
	StateIssuesCreated: {
		Forward: []ProjectState{StateImplementing},
	},
	StateImplementing: {
		Forward:  []ProjectState{StatePRReview},
		Recovery: []ProjectState{StateIssuesCreated},
	},
	StatePRReview: {
		Forward:  []ProjectState{StateMerged, StateImplementing},
		Recovery: []ProjectState{StateImplementing},
		Required: true,
	},
	StateMerged:    {},
	StateCancelled: {},
}

// validTransition reports whether moving from -> to is permitted by the
// declared forward/recovery/skip edges, or is an admin override (which is
// validated by the caller separately; admin may force any transition).
func validTransition(from, to ProjectState, trigger TransitionTrigger) bool {
	if trigger == TriggerAdmin {
		return true
	}
	spec, ok := transitionTable[from]
	if !ok {
		return false
	}
	switch trigger {
	case TriggerRecovery:
		return containsState(spec.Recovery, to)
	case TriggerSkip:
		return containsState(spec.SkipTo, to)
	default:
		return containsState(spec.Forward, to)
	}
}

// requiredStatesBetween returns the required states strictly between from
// and to (exclusive) along the forward chain, used to reject a skip that
// jumps over a required stage (REQUIRED_SKIP).
func requiredStatesBetween(from, to ProjectState) []ProjectState {
	order := []ProjectState{
		StateCollecting, StateClarifying, StatePRDDrafting, StatePRDApproved,
		StateSRSDrafting, StateSRSApproved, StateSDSDrafting, StateSDSApproved,
		StateIssuesCreating, StateIssuesCreated, StateImplementing, StatePRReview,
		StateMerged,
	}
	fromIdx, toIdx := indexOf(order, from), indexOf(order, to)
	if fromIdx < 0 || toIdx < 0 || toIdx <= fromIdx {
		return nil
	}
	var required []ProjectState
	for _, s := range order[fromIdx+1 : toIdx] {
		if spec, ok := transitionTable[s]; ok && spec.Required {
			required = append(required, s)
		}
	}
	return required
}

func indexOf(states []ProjectState, target ProjectState) int {
	for i, s := range states {
		if s == target {
			return i
		}
	}
	return -1
}

func containsState(states []ProjectState, target ProjectState) bool {
	for _, s := range states {
		if s == target {
			return true
		}
	}
	return false
}
