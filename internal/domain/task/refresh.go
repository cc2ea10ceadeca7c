package task

import "time"

const (
	RefreshTaskType      = "RefreshTask"
	RefreshRetryTaskType = "RefreshRetryTask"
)

// RefreshTask asks a worker to re-resolve the reference value of a proposal,
// typically after the host application saved it.
type RefreshTask struct {
	ProposalID  int64     `json:"proposal_id"`
	RequestedAt time.Time `json:"requested_at"`
}

func (t *RefreshTask) TaskType() string {
	return RefreshTaskType
}

func (t *RefreshTask) TaskValue() ([]byte, error) {
	return DefaultTaskValue(t)
}

// RefreshRetryTask carries a refresh that failed on a rate limit or network
// failure.
type RefreshRetryTask struct {
	ProposalID int64  `json:"proposal_id"`
	RetryCount int    `json:"retry_count"`
	Error      string `json:"error"` // Error message from the last failure
}

func (t *RefreshRetryTask) TaskType() string {
	return RefreshRetryTaskType
}

func (t *RefreshRetryTask) TaskValue() ([]byte, error) {
	return DefaultTaskValue(t)
}
