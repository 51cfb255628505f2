package consumer

// State is the position of a Supervisor in its connection lifecycle.
type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribing
	Consuming
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribing:
		return "subscribing"
	case Consuming:
		return "consuming"
	default:
		return "unknown"
	}
}
