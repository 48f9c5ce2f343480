package engine

import "fmt"

// State is the phase a run is in.
type State string

const (
	StateIdle                State = "Idle"
	StateDeduplicating       State = "Deduplicating"
	StateNormalizing         State = "Normalizing"
	StateReconcilingUnits    State = "ReconcilingUnits"
	StateReconcilingChapters State = "ReconcilingChapters"
	StateReconcilingTopics   State = "ReconcilingTopics"
	StateRegeneratingLessons State = "RegeneratingLessons"
	StateDone                State = "Done"
	StateFailed              State = "Failed"
)

// transitions lists the legal successors of each state. Failed is reachable
// from every non-terminal state and is handled separately.
var transitions = map[State][]State{
	StateIdle:                {StateDeduplicating, StateNormalizing},
	StateDeduplicating:       {StateNormalizing, StateDone},
	StateNormalizing:         {StateReconcilingUnits},
	StateReconcilingUnits:    {StateReconcilingChapters},
	StateReconcilingChapters: {StateReconcilingTopics},
	StateReconcilingTopics:   {StateRegeneratingLessons},
	StateRegeneratingLessons: {StateDone},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// machine tracks the current state and every state visited.
type machine struct {
	current State
	history []State
}

func newMachine() *machine {
	return &machine{current: StateIdle, history: []State{StateIdle}}
}

func (m *machine) to(next State) error {
	if m.current.Terminal() {
		return fmt.Errorf("invalid transition %s -> %s: run already finished", m.current, next)
	}
	if next != StateFailed && !allowed(m.current, next) {
		return fmt.Errorf("invalid transition %s -> %s", m.current, next)
	}
	m.current = next
	m.history = append(m.history, next)
	return nil
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
