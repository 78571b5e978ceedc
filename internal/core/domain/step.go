package domain

// Step identifies the pipeline step an ErrorNode was produced by.
type Step string

const (
	StepRequest        Step = "request"
	StepValidate       Step = "validate"
	StepParse          Step = "parse"
	StepPersistAttempt Step = "persist/attempt"
	StepPersistError   Step = "persist/error"
	StepUnexpected     Step = "unexpected"
)

// Retryable reports whether failures of this step are eligible for retry.
// Unexpected faults terminate the call immediately.
func (s Step) Retryable() bool {
	switch s {
	case StepRequest, StepValidate, StepParse, StepPersistAttempt, StepPersistError:
		return true
	default:
		return false
	}
}

// StepError attaches the failing step to an error.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return string(e.Step) + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}
