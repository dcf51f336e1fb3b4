package circuitbreaker

type State int

const (
	// StateClosed - normal operation, calls pass through
	StateClosed State = iota

	// StateOpen - circuit is open, calls fail immediately
	StateOpen

	// StateHalfOpen - probing whether the store recovered
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
