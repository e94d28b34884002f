package service

// State is the lifecycle state of a single service node.
type State int

const (
	Unstarted State = iota
	Starting
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "Unstarted"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	}
	return "Unknown"
}
