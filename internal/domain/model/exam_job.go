package model

import "sturdy-study/internal/domain"

type JobStatus string

const (
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusError    JobStatus = "error"
)

// IsTerminal reports whether no further status change is expected.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s == JobStatusError
}

// ExamJob is one server-side exam generation task as reported by the service.
type ExamJob struct {
	ID          string    `json:"job_id"`
	Status      JobStatus `json:"status"`
	DownloadURL string    `json:"download_url,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Err returns a DomainError when the service reported the job as failed.
func (j *ExamJob) Err() error {
	if j == nil || j.Status != JobStatusError {
		return nil
	}
	msg := j.Error
	if msg == "" {
		msg = "An error occurred during exam generation"
	}
	return &domain.DomainError{Op: "exam " + j.ID, Message: msg}
}

// ExamRequest asks the service to generate a PDF exam for an identity.
type ExamRequest struct {
	Identity      string `json:"user_id"`
	QuestionCount int    `json:"num_questions"`
}

const (
	MinExamQuestions     = 1
	MaxExamQuestions     = 50
	DefaultExamQuestions = 20
)

// Validate checks the request locally before anything is sent.
func (r ExamRequest) Validate() error {
	if r.Identity == "" {
		return domain.NewValidationError("identity", "must not be empty")
	}
	if r.QuestionCount < MinExamQuestions || r.QuestionCount > MaxExamQuestions {
		return domain.NewValidationError("question_count", "Number of questions must be between 1 and 50")
	}
	return nil
}
