package job

import "fmt"

var transitions = map[Status][]Status{
	StatusPreparing:  {StatusWaiting},
	StatusWaiting:    {StatusProcessing, StatusRejected},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusRejected},
}

// CanTransition reports whether from -> to is an edge of the state graph.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
