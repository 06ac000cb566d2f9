package domain

// Outcome tags what a single execution did to its task.
type Outcome string

const (
	OutcomeCalledAndDestroyed Outcome = "called_and_destroyed"
	OutcomeCalledAndExpired   Outcome = "called_and_expired"
	OutcomeWillBeCalledAgain  Outcome = "will_be_called_in_future_again"
	OutcomeCalled             Outcome = "called"

	OutcomeRetryPending     Outcome = "retry_pending"
	OutcomeProblem          Outcome = "problem"
	OutcomeArgumentMismatch Outcome = "argument_mismatch"
	OutcomeMissing          Outcome = "missing"
)

// Succeeded reports whether the handler returned without error.
func (o Outcome) Succeeded() bool {
	switch o {
	case OutcomeCalledAndDestroyed, OutcomeCalledAndExpired, OutcomeWillBeCalledAgain, OutcomeCalled:
		return true
	}
	return false
}

// Event labels delivered to the error reporter.
const (
	EventRepeatedlyFailed    = "repeatedly failed"
	EventExpiredBeforeRun    = "failed to run before expired"
	EventCallFailed          = "error calling pickled function"
	EventMissingWhenExecuted = "expired function was eventually called"
)

var eventMessages = map[string]string{
	EventRepeatedlyFailed:    "repeatedly timed out, given up!",
	EventExpiredBeforeRun:    "call later function failed to run within allotted time!",
	EventCallFailed:          "error calling task handler, or problem with polling",
	EventMissingWhenExecuted: "expired yet called",
}

// EventMessage returns the operator-facing text for an event label.
func EventMessage(label string) string {
	if msg, ok := eventMessages[label]; ok {
		return msg
	}
	return label
}
