package session

import "fmt"

// State is the lifecycle position of a session.
type State uint32

const (
	StateAwaitingHello State = iota
	StateEstablished
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}
