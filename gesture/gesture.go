package gesture

// Kind is what the user did with the talk control.
type Kind int

const (
	Down Kind = iota
	Up
	// Cancel ends a gesture that the local handler never saw released,
	// e.g. a pointer dragged off the control or a touch cancelled by the OS.
	Cancel
)

func (k Kind) String() string {
	switch k {
	case Down:
		return "down"
	case Up:
		return "up"
	case Cancel:
		return "cancel"
	default:
		return "unknown"
	}
}

type Source string

const (
	Mouse  Source = "mouse"
	Touch  Source = "touch"
	Key    Source = "key"
	Global Source = "global"
)

type Event struct {
	Kind   Kind
	Source Source
}

// IsStop reports whether the event should end an active capture.
func (e Event) IsStop() bool {
	return e.Kind == Up || e.Kind == Cancel
}

type Input interface {
	Register() error
	Unregister()
	Events() <-chan Event
}
