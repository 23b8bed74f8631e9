package training

// StopState models the lifecycle of a stop request as an explicit state
// machine instead of an ad-hoc boolean. Any collaborator (typically an
// early-stopping callback) can request a stop; the epoch loop consumes the
// request at its next done check and either honors it or, when a minimum
// duration floor has not been met, defers it and keeps training.
type StopState int

const (
	// StopStateRunning means no stop has been requested.
	StopStateRunning StopState = iota

	// StopStateRequested means a collaborator asked for termination; the
	// request has not been evaluated against the duration floors yet.
	StopStateRequested

	// StopStateDeferred means a request was observed before the minimum
	// epoch/step floors were met; it was cleared and training continues.
	StopStateDeferred

	// StopStateStopped means a request was honored and the loop is
	// terminating.
	StopStateStopped
)

func (s StopState) String() string {
	switch s {
	case StopStateRunning:
		return "running"
	case StopStateRequested:
		return "stop_requested"
	case StopStateDeferred:
		return "stop_deferred"
	case StopStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
