package domain

import "time"

// Attempt records one try of a logical call that reached the request step.
type Attempt struct {
	ID        string `json:"id"         db:"id"`
	CallID    string `json:"call_id"    db:"call_id"`
	ServiceID string `json:"service_id" db:"service_id"`
	Ordinal   int    `json:"ordinal"    db:"ordinal"`

	// SuccessCount is 1 once the attempt completed successfully.
	// PriorErrors is the number of failed attempts before this one.
	SuccessCount int `json:"success_count" db:"success_count"`
	PriorErrors  int `json:"prior_errors"  db:"prior_errors"`

	// Result holds the raw transport result until the parse step replaces
	// it with the parsed value.
	Result any `json:"result" db:"-"`

	StartedAt  time.Time `json:"started_at"  db:"started_at"`
	FinishedAt time.Time `json:"finished_at" db:"finished_at"`
}

// Duration returns how long the attempt took.
func (a Attempt) Duration() time.Duration {
	if a.FinishedAt.IsZero() {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}
