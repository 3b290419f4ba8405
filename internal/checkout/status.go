package checkout

type Status string

const (
	StatusIdle       Status = "idle"
	StatusSubmitting Status = "submitting"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether the last submission has finished.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// CanTransitionTo lists the edges of the submission state machine. A
// finished submission goes back to idle on the next cart edit, and a failed
// one may be retried directly.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusIdle:
		return next == StatusSubmitting
	case StatusSubmitting:
		return next == StatusSucceeded || next == StatusFailed
	case StatusSucceeded:
		return next == StatusIdle || next == StatusSubmitting
	case StatusFailed:
		return next == StatusIdle || next == StatusSubmitting
	default:
		return false
	}
}

func (s Status) String() string {
	return string(s)
}
