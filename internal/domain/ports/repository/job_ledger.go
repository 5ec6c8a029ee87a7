package repository

import (
	"context"

	"sturdy-study/internal/domain/model"
)

// JobLedger remembers the last exam job observed for an identity.
type JobLedger interface {
	Record(ctx context.Context, identity string, job *model.ExamJob) error
	// Last returns domain.ErrNotFound when nothing was recorded.
	Last(ctx context.Context, identity string) (*model.ExamJob, error)
	Forget(ctx context.Context, identity string) error
}
