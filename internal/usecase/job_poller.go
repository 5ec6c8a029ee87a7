// File: internal/usecase/job_poller.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sturdy-study/internal/domain"
	"sturdy-study/internal/domain/model"
	"sturdy-study/internal/domain/ports/adapter"
	"sturdy-study/internal/domain/ports/repository"
	"sturdy-study/internal/infra/logging"
	"sturdy-study/internal/infra/metrics"

	"github.com/rs/zerolog"
)

type PollerState string

const (
	PollerIdle     PollerState = "idle"
	PollerRunning  PollerState = "running"
	PollerComplete PollerState = "complete"
	PollerError    PollerState = "error"
)

func (s PollerState) IsTerminal() bool { return s == PollerComplete || s == PollerError }

// validPollerTransition enforces Idle -> Running -> {Complete, Error}.
// Terminal states re-enter Running only through Start; any state may reset to Idle.
func validPollerTransition(from, to PollerState) bool {
	if to == PollerIdle {
		return true
	}
	switch from {
	case PollerIdle:
		return to == PollerRunning
	case PollerRunning:
		return to == PollerRunning || to == PollerComplete || to == PollerError
	case PollerComplete, PollerError:
		return to == PollerRunning
	default:
		return false
	}
}

// PollerSnapshot is an immutable view of the poller at one transition.
type PollerSnapshot struct {
	Identity string
	State    PollerState
	Job      *model.ExamJob
	Err      error
}

// JobPoller drives one exam job from submission to a terminal status by
// polling the service at a fixed interval. At most one loop is live at a time.
type JobPoller struct {
	svc      adapter.StudyService
	ledger   repository.JobLedger
	interval time.Duration
	log      *zerolog.Logger

	mu       sync.Mutex
	identity string
	state    PollerState
	job      *model.ExamJob
	err      error
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}
	changed  chan struct{} // closed and replaced on every transition
	subs     map[int]chan PollerSnapshot
	nextSub  int
	writes   storeWrites
}

// NewJobPoller builds an idle poller. ledger may be nil.
func NewJobPoller(svc adapter.StudyService, ledger repository.JobLedger, interval time.Duration, logger *zerolog.Logger) *JobPoller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	l := logger.With().Str("component", "JobPoller").Logger()
	return &JobPoller{
		svc:      svc,
		ledger:   ledger,
		interval: interval,
		log:      &l,
		state:    PollerIdle,
		changed:  make(chan struct{}),
		subs:     make(map[int]chan PollerSnapshot),
	}
}

// Start validates req, submits it and begins polling. An empty req.Identity
// takes the poller's current identity. Any previous job is discarded first.
func (p *JobPoller) Start(ctx context.Context, req model.ExamRequest) (*model.ExamJob, error) {
	if req.Identity == "" {
		req.Identity = p.Identity()
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p.Reset()

	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.transitionLocked(PollerRunning, nil, nil)
	p.mu.Unlock()

	log := logging.With(logging.WithIdentity(ctx, req.Identity), p.log)
	log.Info().Int("questions", req.QuestionCount).Msg("submitting exam job")

	job, err := p.svc.StartExam(ctx, req)
	if err == nil && job == nil {
		err = &domain.TransportError{Op: "start exam", Detail: "empty response"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		log.Debug().Msg("discarding submit response for superseded job")
		return nil, domain.ErrSuperseded
	}
	if err != nil {
		log.Error().Err(err).Msg("exam submit failed")
		p.transitionLocked(PollerError, nil, fmt.Errorf("start exam: %w", err))
		metrics.IncExamJob(string(model.JobStatusError))
		return nil, err
	}

	job = cloneJob(job)
	if job.Status == "" {
		job.Status = model.JobStatusRunning
	}
	if job.Status.IsTerminal() {
		p.finishLocked(ctx, req.Identity, job)
		return cloneJob(job), job.Err()
	}

	p.transitionLocked(PollerRunning, job, nil)
	loopCtx, cancel := context.WithCancel(logging.WithJobID(logging.WithIdentity(context.Background(), req.Identity), job.ID))
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	go p.loop(loopCtx, gen, req.Identity, job.ID, done)

	log.Info().Str("job_id", job.ID).Msg("exam job accepted, polling")
	return cloneJob(job), nil
}

// loop polls once immediately, then waits one interval after each fetch
// returns before the next, so fetches never overlap. The timer is released
// on every exit path.
func (p *JobPoller) loop(ctx context.Context, gen uint64, identity, jobID string, done chan struct{}) {
	timer := time.NewTimer(p.interval)
	defer func() {
		timer.Stop()
		close(done)
	}()

	for {
		if stop := p.poll(ctx, gen, identity, jobID); stop {
			return
		}
		timer.Reset(p.interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// poll performs one status fetch and applies it. It reports whether the loop should stop.
func (p *JobPoller) poll(ctx context.Context, gen uint64, identity, jobID string) bool {
	job, err := p.svc.ExamStatus(ctx, jobID)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gen != gen || ctx.Err() != nil {
		metrics.IncExamPoll("stale")
		return true
	}
	log := logging.With(ctx, p.log)

	if err != nil {
		log.Error().Err(err).Msg("exam status fetch failed; job marked as error")
		metrics.IncExamPoll("transport_error")
		metrics.IncExamJob(string(model.JobStatusError))
		p.transitionLocked(PollerError, p.job, fmt.Errorf("check exam status: %w", err))
		p.releaseLocked()
		return true
	}

	if job == nil {
		log.Warn().Msg("empty status response ignored")
		metrics.IncExamPoll("stale")
		return false
	}
	job = cloneJob(job)
	if job.ID == "" {
		job.ID = jobID
	}
	if job.ID != jobID {
		log.Warn().Str("got_job_id", job.ID).Msg("status response for another job ignored")
		metrics.IncExamPoll("stale")
		return false
	}
	metrics.IncExamPoll(string(job.Status))

	if !job.Status.IsTerminal() {
		p.transitionLocked(PollerRunning, job, nil)
		return false
	}
	p.finishLocked(ctx, identity, job)
	p.releaseLocked()
	return true
}

// finishLocked applies a terminal job and schedules its ledger write. Caller holds p.mu.
func (p *JobPoller) finishLocked(ctx context.Context, identity string, job *model.ExamJob) {
	state := PollerComplete
	if job.Status == model.JobStatusError {
		state = PollerError
	}
	p.transitionLocked(state, job, job.Err())
	metrics.IncExamJob(string(job.Status))
	logging.With(ctx, p.log).Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("exam job finished")

	if p.ledger == nil {
		return
	}
	recorded := cloneJob(job)
	p.writes.goLocked(identity, func() {
		rctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := p.ledger.Record(rctx, identity, recorded); err != nil {
			p.log.Warn().Err(err).Str("job_id", recorded.ID).Msg("could not record exam job")
		}
	})
}

// releaseLocked drops the loop handles once the loop decided to exit on its own.
func (p *JobPoller) releaseLocked() {
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = nil
	p.done = nil
}

// transitionLocked applies a state change and notifies waiters. Caller holds p.mu.
func (p *JobPoller) transitionLocked(to PollerState, job *model.ExamJob, err error) {
	if !validPollerTransition(p.state, to) {
		p.log.Error().Str("from", string(p.state)).Str("to", string(to)).Msg("invalid poller transition ignored")
		return
	}
	p.state = to
	p.job = job
	p.err = err

	close(p.changed)
	p.changed = make(chan struct{})

	snap := p.snapshotLocked()
	for _, ch := range p.subs {
		select {
		case ch <- snap:
		default:
			// slow subscriber; Snapshot still reflects the latest state
		}
	}
}

// Reset cancels any live loop, waits for it to exit and returns to Idle.
// Safe to call at any time, any number of times.
func (p *JobPoller) Reset() {
	p.mu.Lock()
	p.gen++
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	if p.state != PollerIdle {
		p.transitionLocked(PollerIdle, nil, nil)
	}
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Stop is Reset under the name view callers use for the cancel button.
func (p *JobPoller) Stop() { p.Reset() }

// Close tears the poller down: the loop is stopped, pending ledger writes
// finish and subscriber channels are closed.
func (p *JobPoller) Close() {
	p.Reset()
	p.writes.flush()
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		close(ch)
		delete(p.subs, id)
	}
}

// OnIdentityChanged discards the job of the previous identity.
func (p *JobPoller) OnIdentityChanged(identity string) {
	p.Reset()
	p.mu.Lock()
	p.identity = identity
	p.mu.Unlock()
}

func (p *JobPoller) Identity() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identity
}

func (p *JobPoller) Snapshot() PollerSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *JobPoller) snapshotLocked() PollerSnapshot {
	return PollerSnapshot{Identity: p.identity, State: p.state, Job: cloneJob(p.job), Err: p.err}
}

// Subscribe returns a channel receiving a snapshot on every transition and a
// function that unsubscribes.
func (p *JobPoller) Subscribe() (<-chan PollerSnapshot, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	ch := make(chan PollerSnapshot, 16)
	p.subs[id] = ch
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
	}
}

// Wait blocks until the poller is no longer Running and returns the snapshot.
func (p *JobPoller) Wait(ctx context.Context) (PollerSnapshot, error) {
	for {
		p.mu.Lock()
		if p.state != PollerRunning {
			snap := p.snapshotLocked()
			p.mu.Unlock()
			return snap, nil
		}
		changed := p.changed
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return p.Snapshot(), ctx.Err()
		case <-changed:
		}
	}
}

// LastJob returns the job recorded for the current identity, if a ledger is configured.
func (p *JobPoller) LastJob(ctx context.Context) (*model.ExamJob, error) {
	if p.ledger == nil {
		return nil, domain.ErrNotFound
	}
	identity := p.Identity()
	if identity == "" {
		return nil, domain.ErrNoIdentity
	}
	p.writes.flush()
	job, err := p.ledger.Last(ctx, identity)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load last exam job: %w", err)
	}
	return job, err
}

// ForgetLastJob removes the job recorded for the current identity.
func (p *JobPoller) ForgetLastJob(ctx context.Context) error {
	if p.ledger == nil {
		return nil
	}
	identity := p.Identity()
	if identity == "" {
		return domain.ErrNoIdentity
	}
	p.writes.flush()
	if err := p.ledger.Forget(ctx, identity); err != nil {
		return fmt.Errorf("forget exam job: %w", err)
	}
	return nil
}

func cloneJob(j *model.ExamJob) *model.ExamJob {
	if j == nil {
		return nil
	}
	cp := *j
	return &cp
}
