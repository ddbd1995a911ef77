package agent

import (
	"fmt"

	"github.com/xenking/kart-assistant/internal/conversation"
)

// State is a step of a turn.
type State uint8

const (
	StateAwaitingModel State = iota + 1
	StateExecutingOperations
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "AwaitingModel"
	case StateExecutingOperations:
		return "ExecutingOperations"
	case StateDone:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Next returns the state following s given the last message of the
// history.
func Next(s State, last conversation.Message) State {
	switch s {
	case StateAwaitingModel:
		if last.RequestsTools() {
			return StateExecutingOperations
		}
		return StateDone
	case StateExecutingOperations:
		return StateAwaitingModel
	default:
		return StateDone
	}
}
