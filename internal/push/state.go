package push

import "fmt"

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	default:
		return "InvalidState"
	}
}

func (s State) validateTransitionTo(next State) error {
	switch s {
	case StateDisconnected:
		switch next {
		case StateConnecting, StateDisconnected:
			return nil
		}
	case StateConnecting:
		switch next {
		// Connecting to Reconnecting is a failed dial that will be retried.
		case StateConnected, StateReconnecting, StateDisconnected:
			return nil
		}
	case StateConnected:
		switch next {
		case StateReconnecting, StateDisconnected:
			return nil
		}
	case StateReconnecting:
		switch next {
		case StateConnecting, StateDisconnected:
			return nil
		}
	}

	return fmt.Errorf("invalid state transition from %v to %v", s, next)
}
