package submission

import (
	"encoding/json"
	"time"
)

// StatusView is what an owner sees when polling a submission.
type StatusView struct {
	SubmissionID string          `json:"submissionId"`
	Status       Status          `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
	Analysis     json.RawMessage `json:"analysis,omitempty"`
	Error        json.RawMessage `json:"error,omitempty"`
}

// NewStatusView exposes the analysis result as analysis for COMPLETED and as
// error for FAILED submissions.
func NewStatusView(s Submission) StatusView {
	v := StatusView{
		SubmissionID: s.ID,
		Status:       s.Status,
		CreatedAt:    s.CreatedAt,
	}
	switch s.Status {
	case StatusCompleted:
		v.Analysis = s.AnalysisResult
	case StatusFailed:
		v.Error = s.AnalysisResult
	case StatusReceived, StatusProcessing:
	}
	return v
}
