package usecase

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"sturdy-study/internal/domain"
	"sturdy-study/internal/domain/model"
	"sturdy-study/internal/domain/ports/adapter"
	"sturdy-study/internal/domain/ports/repository"
)

// fakeStudy is a programmable StudyService. Unset hooks return zero values.
type fakeStudy struct {
	startExam  func(ctx context.Context, req model.ExamRequest) (*model.ExamJob, error)
	examStatus func(ctx context.Context, jobID string) (*model.ExamJob, error)
	guided     func(ctx context.Context, req adapter.GuidedChatRequest) (string, error)
	chat       func(ctx context.Context, req adapter.ChatRequest) (*model.ChatReply, error)

	startCalls  atomic.Int32
	statusCalls atomic.Int32
	guidedCalls atomic.Int32
	chatCalls   atomic.Int32

	inFlight   atomic.Int32
	peakStatus atomic.Int32

	mu         sync.Mutex
	guidedReqs []adapter.GuidedChatRequest
}

var _ adapter.StudyService = (*fakeStudy)(nil)

func (f *fakeStudy) StartExam(ctx context.Context, req model.ExamRequest) (*model.ExamJob, error) {
	f.startCalls.Add(1)
	if f.startExam == nil {
		return &model.ExamJob{ID: "job-1", Status: model.JobStatusRunning}, nil
	}
	return f.startExam(ctx, req)
}

func (f *fakeStudy) ExamStatus(ctx context.Context, jobID string) (*model.ExamJob, error) {
	f.statusCalls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peakStatus.Load()
		if n <= p || f.peakStatus.CompareAndSwap(p, n) {
			break
		}
	}
	if f.examStatus == nil {
		return &model.ExamJob{ID: jobID, Status: model.JobStatusRunning}, nil
	}
	return f.examStatus(ctx, jobID)
}

func (f *fakeStudy) GuidedChat(ctx context.Context, req adapter.GuidedChatRequest) (string, error) {
	f.guidedCalls.Add(1)
	f.mu.Lock()
	f.guidedReqs = append(f.guidedReqs, req)
	f.mu.Unlock()
	if f.guided == nil {
		return "ok", nil
	}
	return f.guided(ctx, req)
}

func (f *fakeStudy) lastGuided() adapter.GuidedChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.guidedReqs) == 0 {
		return adapter.GuidedChatRequest{}
	}
	return f.guidedReqs[len(f.guidedReqs)-1]
}

func (f *fakeStudy) Chat(ctx context.Context, req adapter.ChatRequest) (*model.ChatReply, error) {
	f.chatCalls.Add(1)
	if f.chat == nil {
		return &model.ChatReply{Answer: "ok"}, nil
	}
	return f.chat(ctx, req)
}

func (f *fakeStudy) FindProblems(ctx context.Context, identity, topic string) (string, error) {
	return "", nil
}

func (f *fakeStudy) PrioritizeTopics(ctx context.Context, identity string) (string, error) {
	return "", nil
}

func (f *fakeStudy) GenerateMap(ctx context.Context, identity string) (string, error) {
	return "", nil
}

func (f *fakeStudy) ProcessYouTube(ctx context.Context, identity, url string) (*model.UploadResult, error) {
	return &model.UploadResult{}, nil
}

func (f *fakeStudy) Upload(ctx context.Context, identity string, kind model.UploadKind, filename string, r io.Reader) (*model.UploadResult, error) {
	return &model.UploadResult{}, nil
}

// memLedger is an in-memory JobLedger.
type memLedger struct {
	mu   sync.Mutex
	jobs map[string]model.ExamJob
}

var _ repository.JobLedger = (*memLedger)(nil)

func newMemLedger() *memLedger { return &memLedger{jobs: make(map[string]model.ExamJob)} }

func (m *memLedger) Record(ctx context.Context, identity string, job *model.ExamJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[identity] = *job
	return nil
}

func (m *memLedger) Last(ctx context.Context, identity string) (*model.ExamJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[identity]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &j, nil
}

func (m *memLedger) Forget(ctx context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, identity)
	return nil
}

// memTranscripts is an in-memory TranscriptStore.
type memTranscripts struct {
	mu       sync.Mutex
	sessions map[string]repository.SavedSession
	deletes  int
}

var _ repository.TranscriptStore = (*memTranscripts)(nil)

func newMemTranscripts() *memTranscripts {
	return &memTranscripts{sessions: make(map[string]repository.SavedSession)}
}

func (m *memTranscripts) Save(ctx context.Context, identity string, s *repository.SavedSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := repository.SavedSession{Topic: s.Topic, Turns: append([]model.Turn(nil), s.Turns...)}
	m.sessions[identity] = cp
	return nil
}

func (m *memTranscripts) Load(ctx context.Context, identity string) (*repository.SavedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[identity]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (m *memTranscripts) Delete(ctx context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.sessions, identity)
	return nil
}

func (m *memTranscripts) has(identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[identity]
	return ok
}
