package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sturdy-study/internal/domain"
	"sturdy-study/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInterval = 10 * time.Millisecond

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestJobPollerCompletesAndStopsPolling(t *testing.T) {
	var n atomic.Int32
	svc := &fakeStudy{
		examStatus: func(ctx context.Context, id string) (*model.ExamJob, error) {
			if n.Add(1) < 3 {
				return &model.ExamJob{ID: id, Status: model.JobStatusRunning}, nil
			}
			return &model.ExamJob{ID: id, Status: model.JobStatusComplete, DownloadURL: "/x.pdf"}, nil
		},
	}
	ledger := newMemLedger()
	p := NewJobPoller(svc, ledger, testInterval, nil)
	p.OnIdentityChanged("ana_calc101")

	job, err := p.Start(context.Background(), model.ExamRequest{QuestionCount: 20})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, model.JobStatusRunning, job.Status)

	snap, err := p.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, PollerComplete, snap.State)
	require.NotNil(t, snap.Job)
	assert.Equal(t, "/x.pdf", snap.Job.DownloadURL)
	assert.NoError(t, snap.Err)

	time.Sleep(5 * testInterval)
	assert.Equal(t, int32(3), svc.statusCalls.Load(), "no fetch after a terminal status")

	last, err := p.LastJob(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusComplete, last.Status)
}

func TestJobPollerRejectsInvalidCountWithoutSubmitting(t *testing.T) {
	svc := &fakeStudy{}
	p := NewJobPoller(svc, nil, testInterval, nil)
	p.OnIdentityChanged("ana_calc101")

	for _, count := range []int{0, -1, 51} {
		_, err := p.Start(context.Background(), model.ExamRequest{QuestionCount: count})
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrValidation), "count %d", count)
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "Number of questions must be between 1 and 50", ve.Reason)
	}
	assert.Equal(t, int32(0), svc.startCalls.Load())
	assert.Equal(t, PollerIdle, p.Snapshot().State)
}

func TestJobPollerRequiresIdentity(t *testing.T) {
	svc := &fakeStudy{}
	p := NewJobPoller(svc, nil, testInterval, nil)

	_, err := p.Start(context.Background(), model.ExamRequest{QuestionCount: 5})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, int32(0), svc.startCalls.Load())
}

func TestJobPollerResetStopsFetching(t *testing.T) {
	svc := &fakeStudy{}
	p := NewJobPoller(svc, nil, testInterval, nil)
	p.OnIdentityChanged("u1")

	_, err := p.Start(context.Background(), model.ExamRequest{QuestionCount: 3})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return svc.statusCalls.Load() >= 2 }, time.Second, time.Millisecond)

	p.Reset()
	calls := svc.statusCalls.Load()
	time.Sleep(5 * testInterval)
	assert.Equal(t, calls, svc.statusCalls.Load())

	snap := p.Snapshot()
	assert.Equal(t, PollerIdle, snap.State)
	assert.Nil(t, snap.Job)
	assert.NoError(t, snap.Err)

	// idempotent
	p.Reset()
	p.Stop()
	assert.Equal(t, PollerIdle, p.Snapshot().State)
}

func TestJobPollerNeverOverlapsFetches(t *testing.T) {
	var n atomic.Int32
	svc := &fakeStudy{
		examStatus: func(ctx context.Context, id string) (*model.ExamJob, error) {
			time.Sleep(3 * testInterval)
			if n.Add(1) < 4 {
				return &model.ExamJob{ID: id, Status: model.JobStatusRunning}, nil
			}
			return &model.ExamJob{ID: id, Status: model.JobStatusComplete}, nil
		},
	}
	p := NewJobPoller(svc, nil, testInterval, nil)
	p.OnIdentityChanged("u1")

	_, err := p.Start(context.Background(), model.ExamRequest{QuestionCount: 3})
	require.NoError(t, err)
	snap, err := p.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, PollerComplete, snap.State)
	assert.Equal(t, int32(1), svc.peakStatus.Load())
}

func TestJobPollerTransportErrorEndsInError(t *testing.T) {
	svc := &fakeStudy{
		examStatus: func(ctx context.Context, id string) (*model.ExamJob, error) {
			return nil, &domain.TransportError{Op: "exam status", StatusCode: 502}
		},
	}
	p := NewJobPoller(svc, nil, testInterval, nil)
	p.OnIdentityChanged("u1")

	_, err := p.Start(context.Background(), model.ExamRequest{QuestionCount: 3})
	require.NoError(t, err)

	snap, err := p.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, PollerError, snap.State)
	assert.ErrorIs(t, snap.Err, domain.ErrTransport)
	require.NotNil(t, snap.Job)
	assert.Equal(t, "job-1", snap.Job.ID)

	time.Sleep(3 * testInterval)
	assert.Equal(t, int32(1), svc.statusCalls.Load())
}

func TestJobPollerServiceReportedError(t *testing.T) {
	svc := &fakeStudy{
		examStatus: func(ctx context.Context, id string) (*model.ExamJob, error) {
			return &model.ExamJob{ID: id, Status: model.JobStatusError, Error: "No documents indexed"}, nil
		},
	}
	p := NewJobPoller(svc, nil, testInterval, nil)
	p.OnIdentityChanged("u1")

	_, err := p.Start(context.Background(), model.ExamRequest{QuestionCount: 3})
	require.NoError(t, err)
	snap, err := p.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, PollerError, snap.State)
	assert.ErrorIs(t, snap.Err, domain.ErrDomain)
	assert.Equal(t, "No documents indexed", domain.Describe(snap.Err, ""))
}

func TestJobPollerSubmitFailure(t *testing.T) {
	svc := &fakeStudy{
		startExam: func(ctx context.Context, req model.ExamRequest) (*model.ExamJob, error) {
			return nil, &domain.TransportError{Op: "start exam", StatusCode: 500, Detail: "boom"}
		},
	}
	p := NewJobPoller(svc, nil, testInterval, nil)
	p.OnIdentityChanged("u1")

	_, err := p.Start(context.Background(), model.ExamRequest{QuestionCount: 3})
	require.ErrorIs(t, err, domain.ErrTransport)

	snap := p.Snapshot()
	assert.Equal(t, PollerError, snap.State)
	assert.Nil(t, snap.Job)
	assert.Equal(t, int32(0), svc.statusCalls.Load())
}

func TestJobPollerTerminalOnSubmitSkipsPolling(t *testing.T) {
	svc := &fakeStudy{
		startExam: func(ctx context.Context, req model.ExamRequest) (*model.ExamJob, error) {
			return &model.ExamJob{ID: "j9", Status: model.JobStatusComplete, DownloadURL: "/cached.pdf"}, nil
		},
	}
	p := NewJobPoller(svc, nil, testInterval, nil)
	p.OnIdentityChanged("u1")

	job, err := p.Start(context.Background(), model.ExamRequest{QuestionCount: 3})
	require.NoError(t, err)
	assert.Equal(t, "/cached.pdf", job.DownloadURL)
	assert.Equal(t, PollerComplete, p.Snapshot().State)

	time.Sleep(3 * testInterval)
	assert.Equal(t, int32(0), svc.statusCalls.Load())
}

func TestJobPollerDiscardsReplyAfterReset(t *testing.T) {
	entered := make(chan struct{}, 1)
	svc := &fakeStudy{
		examStatus: func(ctx context.Context, id string) (*model.ExamJob, error) {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return &model.ExamJob{ID: id, Status: model.JobStatusComplete, DownloadURL: "/late.pdf"}, nil
		},
	}
	p := NewJobPoller(svc, nil, testInterval, nil)
	p.OnIdentityChanged("u1")

	_, err := p.Start(context.Background(), model.ExamRequest{QuestionCount: 3})
	require.NoError(t, err)
	<-entered

	p.Reset()
	snap := p.Snapshot()
	assert.Equal(t, PollerIdle, snap.State)
	assert.Nil(t, snap.Job)
}

func TestJobPollerRestartReplacesPreviousJob(t *testing.T) {
	var ids atomic.Int32
	svc := &fakeStudy{
		startExam: func(ctx context.Context, req model.ExamRequest) (*model.ExamJob, error) {
			if ids.Add(1) == 1 {
				return &model.ExamJob{ID: "first", Status: model.JobStatusRunning}, nil
			}
			return &model.ExamJob{ID: "second", Status: model.JobStatusRunning}, nil
		},
		examStatus: func(ctx context.Context, id string) (*model.ExamJob, error) {
			if id == "second" {
				return &model.ExamJob{ID: id, Status: model.JobStatusComplete, DownloadURL: "/second.pdf"}, nil
			}
			return &model.ExamJob{ID: id, Status: model.JobStatusRunning}, nil
		},
	}
	p := NewJobPoller(svc, nil, testInterval, nil)
	p.OnIdentityChanged("u1")

	_, err := p.Start(context.Background(), model.ExamRequest{QuestionCount: 3})
	require.NoError(t, err)
	_, err = p.Start(context.Background(), model.ExamRequest{QuestionCount: 3})
	require.NoError(t, err)

	snap, err := p.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, PollerComplete, snap.State)
	assert.Equal(t, "second", snap.Job.ID)
}

func TestJobPollerIdentityChangeResets(t *testing.T) {
	svc := &fakeStudy{}
	p := NewJobPoller(svc, nil, testInterval, nil)
	p.OnIdentityChanged("u1")

	_, err := p.Start(context.Background(), model.ExamRequest{QuestionCount: 3})
	require.NoError(t, err)

	p.OnIdentityChanged("u2")
	snap := p.Snapshot()
	assert.Equal(t, "u2", snap.Identity)
	assert.Equal(t, PollerIdle, snap.State)
	assert.Nil(t, snap.Job)

	calls := svc.statusCalls.Load()
	time.Sleep(3 * testInterval)
	assert.Equal(t, calls, svc.statusCalls.Load())
}

func TestJobPollerSubscribeSeesTransitions(t *testing.T) {
	svc := &fakeStudy{
		examStatus: func(ctx context.Context, id string) (*model.ExamJob, error) {
			return &model.ExamJob{ID: id, Status: model.JobStatusComplete}, nil
		},
	}
	p := NewJobPoller(svc, nil, testInterval, nil)
	p.OnIdentityChanged("u1")
	ch, unsubscribe := p.Subscribe()
	defer unsubscribe()

	_, err := p.Start(context.Background(), model.ExamRequest{QuestionCount: 3})
	require.NoError(t, err)

	timeout := time.After(time.Second)
	for {
		select {
		case snap := <-ch:
			if snap.State == PollerComplete {
				return
			}
		case <-timeout:
			t.Fatal("never saw complete")
		}
	}
}

func TestJobPollerCloseClosesSubscribers(t *testing.T) {
	p := NewJobPoller(&fakeStudy{}, nil, testInterval, nil)
	ch, _ := p.Subscribe()
	p.Close()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestValidPollerTransition(t *testing.T) {
	cases := []struct {
		from, to PollerState
		ok       bool
	}{
		{PollerIdle, PollerRunning, true},
		{PollerIdle, PollerComplete, false},
		{PollerRunning, PollerComplete, true},
		{PollerRunning, PollerError, true},
		{PollerComplete, PollerError, false},
		{PollerComplete, PollerRunning, true},
		{PollerError, PollerIdle, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, validPollerTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestJobPollerEmptySubmitResponseIsTransportError(t *testing.T) {
	svc := &fakeStudy{
		startExam: func(ctx context.Context, req model.ExamRequest) (*model.ExamJob, error) { return nil, nil },
	}
	p := NewJobPoller(svc, nil, testInterval, nil)
	p.OnIdentityChanged("u1")

	_, err := p.Start(context.Background(), model.ExamRequest{QuestionCount: 5})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransport))
	snap := p.Snapshot()
	assert.Equal(t, PollerError, snap.State)
	assert.Contains(t, snap.Err.Error(), "empty response")
	assert.Equal(t, int32(0), svc.statusCalls.Load())
}

func TestJobPollerWaitsIntervalAfterSlowFetch(t *testing.T) {
	const interval = 30 * time.Millisecond
	var mu sync.Mutex
	var starts, ends []time.Time
	svc := &fakeStudy{
		examStatus: func(ctx context.Context, id string) (*model.ExamJob, error) {
			mu.Lock()
			starts = append(starts, time.Now())
			n := len(starts)
			mu.Unlock()
			time.Sleep(2 * interval)
			mu.Lock()
			ends = append(ends, time.Now())
			mu.Unlock()
			if n >= 3 {
				return &model.ExamJob{ID: id, Status: model.JobStatusComplete}, nil
			}
			return &model.ExamJob{ID: id, Status: model.JobStatusRunning}, nil
		},
	}
	p := NewJobPoller(svc, nil, interval, nil)
	p.OnIdentityChanged("u1")
	_, err := p.Start(context.Background(), model.ExamRequest{QuestionCount: 5})
	require.NoError(t, err)
	_, err = p.Wait(waitCtx(t))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 3)
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(ends[i-1])
		assert.GreaterOrEqual(t, gap, interval-5*time.Millisecond, "gap before fetch %d", i+1)
	}
}

func TestJobPollerForgetLastJob(t *testing.T) {
	ledger := newMemLedger()
	svc := &fakeStudy{
		startExam: func(ctx context.Context, req model.ExamRequest) (*model.ExamJob, error) {
			return &model.ExamJob{ID: "job-9", Status: model.JobStatusComplete}, nil
		},
	}
	p := NewJobPoller(svc, ledger, testInterval, nil)
	p.OnIdentityChanged("u1")
	_, err := p.Start(context.Background(), model.ExamRequest{QuestionCount: 5})
	require.NoError(t, err)

	require.NoError(t, p.ForgetLastJob(context.Background()))
	_, err = p.LastJob(context.Background())
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	p.OnIdentityChanged("")
	assert.True(t, errors.Is(p.ForgetLastJob(context.Background()), domain.ErrNoIdentity))
}
