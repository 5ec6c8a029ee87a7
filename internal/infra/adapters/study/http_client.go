// File: internal/infra/adapters/study/http_client.go
package study

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sturdy-study/internal/domain"
	"sturdy-study/internal/domain/model"
	"sturdy-study/internal/domain/ports/adapter"
	"sturdy-study/internal/infra/logging"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var _ adapter.StudyService = (*HTTPStudyService)(nil)

// HTTPStudyService implements adapter.StudyService against the study REST API.
type HTTPStudyService struct {
	baseURL string
	client  *http.Client
	log     *zerolog.Logger
}

// NewHTTPStudyService builds a client for baseURL (e.g. http://localhost:8000/v1/study).
// timeout 0 leaves requests bounded only by the caller's context.
func NewHTTPStudyService(baseURL string, timeout time.Duration, logger *zerolog.Logger) (*HTTPStudyService, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	l := logger.With().Str("component", "StudyHTTP").Logger()
	return &HTTPStudyService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     &l,
	}, nil
}

func (s *HTTPStudyService) endpoint(path string) string { return s.baseURL + path }

func (s *HTTPStudyService) StartExam(ctx context.Context, req model.ExamRequest) (*model.ExamJob, error) {
	var job model.ExamJob
	if err := s.postJSON(ctx, "start exam", "/generate-test", req, &job); err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, &domain.TransportError{Op: "start exam", Detail: "response carried no job_id"}
	}
	return &job, nil
}

func (s *HTTPStudyService) ExamStatus(ctx context.Context, jobID string) (*model.ExamJob, error) {
	var job model.ExamJob
	path := "/generate-test/status/" + url.PathEscape(jobID)
	if err := s.do(ctx, "exam status", http.MethodGet, path, nil, "", &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *HTTPStudyService) GuidedChat(ctx context.Context, req adapter.GuidedChatRequest) (string, error) {
	if req.History == nil {
		req.History = []model.HistoryEntry{}
	}
	var out struct {
		AIMessage string `json:"ai_message"`
	}
	if err := s.postJSON(ctx, "guided chat", "/guided-chat", req, &out); err != nil {
		return "", err
	}
	return out.AIMessage, nil
}

func (s *HTTPStudyService) Chat(ctx context.Context, req adapter.ChatRequest) (*model.ChatReply, error) {
	var out model.ChatReply
	if err := s.postJSON(ctx, "chat", "/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *HTTPStudyService) FindProblems(ctx context.Context, identity, topic string) (string, error) {
	var out struct {
		Results string `json:"results"`
	}
	in := map[string]string{"user_id": identity, "topic": topic}
	if err := s.postJSON(ctx, "find problems", "/find-problems", in, &out); err != nil {
		return "", err
	}
	return out.Results, nil
}

func (s *HTTPStudyService) PrioritizeTopics(ctx context.Context, identity string) (string, error) {
	var out struct {
		TopicsList string `json:"topics_list"`
	}
	if err := s.postJSON(ctx, "prioritize", "/prioritize", map[string]string{"user_id": identity}, &out); err != nil {
		return "", err
	}
	return out.TopicsList, nil
}

func (s *HTTPStudyService) GenerateMap(ctx context.Context, identity string) (string, error) {
	var out struct {
		DotString string `json:"dot_string"`
	}
	if err := s.postJSON(ctx, "generate map", "/generate-map", map[string]string{"user_id": identity}, &out); err != nil {
		return "", err
	}
	return out.DotString, nil
}

func (s *HTTPStudyService) ProcessYouTube(ctx context.Context, identity, videoURL string) (*model.UploadResult, error) {
	var out model.UploadResult
	in := map[string]string{"user_id": identity, "url": videoURL}
	if err := s.postJSON(ctx, "process youtube", "/process-youtube", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upload streams a PDF or audio file as multipart/form-data.
func (s *HTTPStudyService) Upload(ctx context.Context, identity string, kind model.UploadKind, filename string, r io.Reader) (*model.UploadResult, error) {
	path := "/upload"
	if kind == model.UploadAudio {
		path = "/upload-audio"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("user_id", identity); err != nil {
		return nil, err
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var out model.UploadResult
	if err := s.do(ctx, "upload", http.MethodPost, path, &body, mw.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *HTTPStudyService) postJSON(ctx context.Context, op, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}
	return s.do(ctx, op, http.MethodPost, path, bytes.NewReader(b), "application/json", out)
}

func (s *HTTPStudyService) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, s.endpoint(path), body)
	if err != nil {
		return &domain.TransportError{Op: op, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	rid := logging.TraceID(ctx)
	if rid == "" {
		rid = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", rid)

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Debug().Err(err).Str("op", op).Str("request_id", rid).Msg("request failed")
		return &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	s.log.Debug().
		Str("op", op).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("request_id", rid).
		Dur("duration", time.Since(start)).
		Msg("study_request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &domain.TransportError{Op: op, StatusCode: resp.StatusCode, Detail: errorDetail(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return &domain.TransportError{Op: op, StatusCode: resp.StatusCode, Detail: "empty response body"}
		}
		return &domain.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorDetail extracts FastAPI's {"detail": ...} message, falling back to the raw body.
func errorDetail(raw []byte) string {
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Detail) > 0 {
		var s string
		if json.Unmarshal(env.Detail, &s) == nil {
			return s
		}
		return string(env.Detail)
	}
	return strings.TrimSpace(string(raw))
}
