package study

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"sturdy-study/internal/domain"
	"sturdy-study/internal/domain/model"
	"sturdy-study/internal/domain/ports/adapter"

	"github.com/oklog/ulid/v2"
)

var _ adapter.StudyService = (*NoopStudyService)(nil)

// NoopStudyService is an in-process stand-in for the study backend, used with -dev.
// Exam jobs report running for PollsToComplete status calls, then complete.
type NoopStudyService struct {
	Latency         time.Duration
	PollsToComplete int

	mu      sync.Mutex
	entropy io.Reader
	jobs    map[string]int // job id -> remaining running polls
}

func NewNoopStudyService() *NoopStudyService {
	return &NoopStudyService{
		Latency:         100 * time.Millisecond,
		PollsToComplete: 2,
		entropy:         ulid.Monotonic(rand.Reader, 0),
		jobs:            make(map[string]int),
	}
}

func (n *NoopStudyService) wait(ctx context.Context) error {
	if n.Latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(n.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *NoopStudyService) StartExam(ctx context.Context, req model.ExamRequest) (*model.ExamJob, error) {
	if err := n.wait(ctx); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), n.entropy).String()
	n.jobs[id] = n.PollsToComplete
	return &model.ExamJob{ID: id, Status: model.JobStatusRunning}, nil
}

func (n *NoopStudyService) ExamStatus(ctx context.Context, jobID string) (*model.ExamJob, error) {
	if err := n.wait(ctx); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	left, ok := n.jobs[jobID]
	if !ok {
		return nil, &domain.TransportError{Op: "exam status", StatusCode: 404, Detail: "Job not found"}
	}
	if left > 0 {
		n.jobs[jobID] = left - 1
		return &model.ExamJob{ID: jobID, Status: model.JobStatusRunning}, nil
	}
	return &model.ExamJob{
		ID:          jobID,
		Status:      model.JobStatusComplete,
		DownloadURL: fmt.Sprintf("/downloads/exam_%s.pdf", strings.ToLower(jobID)),
	}, nil
}

func (n *NoopStudyService) GuidedChat(ctx context.Context, req adapter.GuidedChatRequest) (string, error) {
	if err := n.wait(ctx); err != nil {
		return "", err
	}
	if len(req.History) == 0 {
		return fmt.Sprintf("Let's explore %s together. What do you already know about it?", req.Topic), nil
	}
	return fmt.Sprintf("Good. You said %q. Can you say why that holds for %s?", req.Question, req.Topic), nil
}

func (n *NoopStudyService) Chat(ctx context.Context, req adapter.ChatRequest) (*model.ChatReply, error) {
	if err := n.wait(ctx); err != nil {
		return nil, err
	}
	reply := &model.ChatReply{Identity: req.Identity, Question: req.Question}
	if strings.Contains(strings.ToLower(req.Question), "quiz") {
		reply.Quiz = `Here is your quiz: {"questions":[{"question_text":"What is 2+2?","options":["3","4","5"],"correct_answer":"4"}]}`
	} else {
		reply.Answer = "This is a noop answer for: " + req.Question
	}
	return reply, nil
}

func (n *NoopStudyService) FindProblems(ctx context.Context, identity, topic string) (string, error) {
	if err := n.wait(ctx); err != nil {
		return "", err
	}
	return "1. Practice problem about " + topic, nil
}

func (n *NoopStudyService) PrioritizeTopics(ctx context.Context, identity string) (string, error) {
	if err := n.wait(ctx); err != nil {
		return "", err
	}
	return "1. Fundamentals\n2. Applications", nil
}

func (n *NoopStudyService) GenerateMap(ctx context.Context, identity string) (string, error) {
	if err := n.wait(ctx); err != nil {
		return "", err
	}
	return `digraph G { "Fundamentals" -> "Applications"; }`, nil
}

func (n *NoopStudyService) ProcessYouTube(ctx context.Context, identity, url string) (*model.UploadResult, error) {
	if err := n.wait(ctx); err != nil {
		return nil, err
	}
	return &model.UploadResult{Filename: url, Message: "Video processed (noop).", DocumentsAdded: 1}, nil
}

func (n *NoopStudyService) Upload(ctx context.Context, identity string, kind model.UploadKind, filename string, r io.Reader) (*model.UploadResult, error) {
	if err := n.wait(ctx); err != nil {
		return nil, err
	}
	size, err := io.Copy(io.Discard, r)
	if err != nil {
		return nil, err
	}
	return &model.UploadResult{
		Filename:       filename,
		Message:        fmt.Sprintf("Received %d bytes (noop).", size),
		DocumentsAdded: 1,
	}, nil
}
