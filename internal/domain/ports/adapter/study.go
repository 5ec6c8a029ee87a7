package adapter

import (
	"context"
	"io"

	"sturdy-study/internal/domain/model"
)

// GuidedChatRequest carries the full transcript; the endpoint keeps no memory.
type GuidedChatRequest struct {
	Identity string               `json:"user_id"`
	Topic    string               `json:"topic"`
	History  []model.HistoryEntry `json:"chat_history"`
	Question string               `json:"user_question"`
}

type ChatRequest struct {
	Question string `json:"question"`
	Identity string `json:"user_id"`
}

// StudyService is the port for the remote study backend.
// Implementations return *domain.TransportError for network and non-2xx failures.
type StudyService interface {
	// StartExam submits a background exam job; the returned job is usually running.
	StartExam(ctx context.Context, req model.ExamRequest) (*model.ExamJob, error)
	// ExamStatus is idempotent and safe to repeat.
	ExamStatus(ctx context.Context, jobID string) (*model.ExamJob, error)

	// GuidedChat returns only the tutor's reply text.
	GuidedChat(ctx context.Context, req GuidedChatRequest) (string, error)
	Chat(ctx context.Context, req ChatRequest) (*model.ChatReply, error)

	FindProblems(ctx context.Context, identity, topic string) (string, error)
	PrioritizeTopics(ctx context.Context, identity string) (string, error)
	GenerateMap(ctx context.Context, identity string) (string, error)

	ProcessYouTube(ctx context.Context, identity, url string) (*model.UploadResult, error)
	Upload(ctx context.Context, identity string, kind model.UploadKind, filename string, r io.Reader) (*model.UploadResult, error)
}
