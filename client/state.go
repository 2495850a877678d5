package client

// State is the phase of the link to the streaming server.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateDeviceBound
	StatePaused
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateDeviceBound:
		return "device_bound"
	case StatePaused:
		return "paused"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

func (s State) in(states ...State) bool {
	for _, st := range states {
		if s == st {
			return true
		}
	}
	return false
}
