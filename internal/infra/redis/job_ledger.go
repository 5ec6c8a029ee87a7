package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sturdy-study/internal/domain/model"
	"sturdy-study/internal/domain/ports/repository"
)

var _ repository.JobLedger = (*JobLedger)(nil)

// JobLedger keeps the last terminal exam job per identity.
type JobLedger struct {
	client RedisClient
	ttl    time.Duration
}

func NewJobLedger(client RedisClient, ttl time.Duration) *JobLedger {
	return &JobLedger{client: client, ttl: ttl}
}

func (l *JobLedger) key(identity string) string {
	return fmt.Sprintf("exam_job:%s", identity)
}

func (l *JobLedger) Record(ctx context.Context, identity string, job *model.ExamJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return l.client.Set(ctx, l.key(identity), data, l.ttl)
}

func (l *JobLedger) Last(ctx context.Context, identity string) (*model.ExamJob, error) {
	data, err := l.client.Get(ctx, l.key(identity))
	if err != nil {
		return nil, err
	}
	var job model.ExamJob
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("decode exam job: %w", err)
	}
	return &job, nil
}

func (l *JobLedger) Forget(ctx context.Context, identity string) error {
	return l.client.Del(ctx, l.key(identity))
}
