package study_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"sturdy-study/internal/domain"
	"sturdy-study/internal/domain/model"
	"sturdy-study/internal/domain/ports/adapter"
	"sturdy-study/internal/infra/adapters/study"
)

func newClient(t *testing.T, h http.HandlerFunc) *study.HTTPStudyService {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := study.NewHTTPStudyService(srv.URL+"/v1/study", 5*time.Second, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestStartExamAndStatus(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/study/generate-test":
			var in map[string]any
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				t.Errorf("decode body: %v", err)
			}
			if in["user_id"] != "ana_calc101" || in["num_questions"] != float64(20) {
				t.Errorf("unexpected body %v", in)
			}
			if r.Header.Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID")
			}
			_, _ = w.Write([]byte(`{"job_id":"j1","status":"running","download_url":null,"error":null}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/study/generate-test/status/j1":
			_, _ = w.Write([]byte(`{"job_id":"j1","status":"complete","download_url":"/x.pdf","error":null}`))
		default:
			http.NotFound(w, r)
		}
	})

	ctx := context.Background()
	job, err := c.StartExam(ctx, model.ExamRequest{Identity: "ana_calc101", QuestionCount: 20})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if job.ID != "j1" || job.Status != model.JobStatusRunning {
		t.Fatalf("job = %+v", job)
	}

	job, err = c.ExamStatus(ctx, "j1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if job.Status != model.JobStatusComplete || job.DownloadURL != "/x.pdf" {
		t.Fatalf("job = %+v", job)
	}
}

func TestNon2xxIsTransportErrorWithDetail(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Job not found"}`))
	})

	_, err := c.ExamStatus(context.Background(), "missing")
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	var te *domain.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %T", err)
	}
	if te.StatusCode != http.StatusNotFound || te.Detail != "Job not found" {
		t.Fatalf("transport error = %+v", te)
	}
}

func TestNetworkFailureIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	c, err := study.NewHTTPStudyService(base, time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.GuidedChat(context.Background(), adapter.GuidedChatRequest{Identity: "u1", Topic: "Calculus"})
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestGuidedChatSendsEmptyHistoryArray(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(raw), `"chat_history":[]`) {
			t.Errorf("bootstrap must send an empty array, got %s", raw)
		}
		if !strings.Contains(string(raw), `"user_question":"I want to learn about Calculus"`) {
			t.Errorf("unexpected question in %s", raw)
		}
		_, _ = w.Write([]byte(`{"ai_message":"What do you know about limits?"}`))
	})

	reply, err := c.GuidedChat(context.Background(), adapter.GuidedChatRequest{
		Identity: "u1",
		Topic:    "Calculus",
		Question: model.BootstrapUtterance("Calculus"),
	})
	if err != nil {
		t.Fatalf("guided chat: %v", err)
	}
	if reply != "What do you know about limits?" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestUploadIsMultipart(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/study/upload-audio" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if r.FormValue("user_id") != "u1" {
			t.Errorf("user_id = %q", r.FormValue("user_id"))
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		_ = json.NewEncoder(w).Encode(model.UploadResult{Filename: hdr.Filename, Message: string(b), DocumentsAdded: 3})
	})

	res, err := c.Upload(context.Background(), "u1", model.UploadAudio, "lecture.mp3", strings.NewReader("bytes"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Filename != "lecture.mp3" || res.Message != "bytes" || res.DocumentsAdded != 3 {
		t.Fatalf("result = %+v", res)
	}
}

func TestLimitedStudyServiceBoundsConcurrency(t *testing.T) {
	var inFlight, peak int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		_, _ = w.Write([]byte(`{"results":"ok"}`))
	})
	limited := study.NewLimitedStudyService(c, 1)

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			if _, err := limited.FindProblems(context.Background(), "u1", "limits"); err != nil {
				t.Errorf("find problems: %v", err)
			}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	if p := atomic.LoadInt32(&peak); p != 1 {
		t.Fatalf("peak in-flight = %d, want 1", p)
	}
}
