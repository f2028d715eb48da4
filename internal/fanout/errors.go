package fanout

import "fmt"

// Step identifies which fan-out write failed.
type Step string

const (
	StepOutgoing Step = "outgoing"
	StepIncoming Step = "incoming"
	StepSummary  Step = "summary"
)

// WriteFailed reports a failed fan-out step. It wraps the store error so
// callers can errors.Is/As through it.
type WriteFailed struct {
	Step Step
	Err  error
}

func (e *WriteFailed) Error() string {
	return fmt.Sprintf("%s write failed: %v", e.Step, e.Err)
}

func (e *WriteFailed) Unwrap() error { return e.Err }
