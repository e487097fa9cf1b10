package agent

import "sync"

// TurnState is the conversation's floor-holding state. Exactly one state is
// active at a time.
type TurnState string

const (
	// TurnStateIdle means no session is established.
	TurnStateIdle TurnState = "idle"
	// TurnStateListening means the user holds the floor.
	TurnStateListening TurnState = "listening"
	// TurnStateThinking means a response was requested but no audio has
	// started playing yet.
	TurnStateThinking TurnState = "thinking"
	// TurnStateSpeaking means assistant audio is audibly playing.
	TurnStateSpeaking TurnState = "speaking"
)

// turnManager serializes turn transitions. Callbacks run while the
// transition lock is held, so the exit-speaking callback fires exactly once
// per maximal speaking run even under concurrent transitions.
type turnManager struct {
	mu    sync.Mutex
	state TurnState

	onChange       func(previous, next TurnState)
	onExitSpeaking func()
}

func newTurnManager() *turnManager {
	return &turnManager{state: TurnStateIdle}
}

func (t *turnManager) Current() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Set transitions to next and fires callbacks. Setting the current state
// again is a no-op.
func (t *turnManager) Set(next TurnState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	previous := t.state
	if previous == next {
		return
	}
	t.state = next

	if previous == TurnStateSpeaking && t.onExitSpeaking != nil {
		t.onExitSpeaking()
	}
	if t.onChange != nil {
		t.onChange(previous, next)
	}
}

// SetIf transitions to next only when the current state is expected. Reports
// whether the transition happened.
func (t *turnManager) SetIf(expected, next TurnState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != expected || expected == next {
		return false
	}
	previous := t.state
	t.state = next

	if previous == TurnStateSpeaking && t.onExitSpeaking != nil {
		t.onExitSpeaking()
	}
	if t.onChange != nil {
		t.onChange(previous, next)
	}
	return true
}
