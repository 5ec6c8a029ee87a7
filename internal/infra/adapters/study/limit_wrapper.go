package study

import (
	"context"
	"io"

	"sturdy-study/internal/domain/model"
	"sturdy-study/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.StudyService = (*limitedStudy)(nil)

// limitedStudy caps the number of in-flight calls to the study backend.
// Waiting for a slot honours ctx cancellation.
type limitedStudy struct {
	inner adapter.StudyService
	sem   chan struct{}
}

func NewLimitedStudyService(inner adapter.StudyService, maxConcurrent int) adapter.StudyService {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedStudy{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedStudy) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitedStudy) release() { <-l.sem }

func (l *limitedStudy) StartExam(ctx context.Context, req model.ExamRequest) (*model.ExamJob, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.StartExam(ctx, req)
}

func (l *limitedStudy) ExamStatus(ctx context.Context, jobID string) (*model.ExamJob, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.ExamStatus(ctx, jobID)
}

func (l *limitedStudy) GuidedChat(ctx context.Context, req adapter.GuidedChatRequest) (string, error) {
	if err := l.acquire(ctx); err != nil {
		return "", err
	}
	defer l.release()
	return l.inner.GuidedChat(ctx, req)
}

func (l *limitedStudy) Chat(ctx context.Context, req adapter.ChatRequest) (*model.ChatReply, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.Chat(ctx, req)
}

func (l *limitedStudy) FindProblems(ctx context.Context, identity, topic string) (string, error) {
	if err := l.acquire(ctx); err != nil {
		return "", err
	}
	defer l.release()
	return l.inner.FindProblems(ctx, identity, topic)
}

func (l *limitedStudy) PrioritizeTopics(ctx context.Context, identity string) (string, error) {
	if err := l.acquire(ctx); err != nil {
		return "", err
	}
	defer l.release()
	return l.inner.PrioritizeTopics(ctx, identity)
}

func (l *limitedStudy) GenerateMap(ctx context.Context, identity string) (string, error) {
	if err := l.acquire(ctx); err != nil {
		return "", err
	}
	defer l.release()
	return l.inner.GenerateMap(ctx, identity)
}

func (l *limitedStudy) ProcessYouTube(ctx context.Context, identity, url string) (*model.UploadResult, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.ProcessYouTube(ctx, identity, url)
}

func (l *limitedStudy) Upload(ctx context.Context, identity string, kind model.UploadKind, filename string, r io.Reader) (*model.UploadResult, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.Upload(ctx, identity, kind, filename, r)
}
