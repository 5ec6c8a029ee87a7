// File: internal/usecase/session_controller.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

type SessionState string

const (
	SessionNoTopic            SessionState = "no_topic"
	SessionAwaitingFirstReply SessionState = "awaiting_first_reply"
	SessionActive             SessionState = "active"
	SessionAwaitingReply      SessionState = "awaiting_reply"
)

// SessionSnapshot is a copy of the controller state; mutating it has no effect.
type SessionSnapshot struct {
	Identity   string
	Topic      string
	State      SessionState
	Pending    bool
	Transcript []model.Turn
}

// SessionController runs a guided tutoring session on one topic. The full
// transcript is replayed to the service on every exchange, at most one
// exchange is in flight, and replies for a session that ended meanwhile are dropped.
type SessionController struct {
	svc   adapter.StudyService
	store repository.TranscriptStore
	log   *zerolog.Logger

	mu         sync.Mutex
	identity   string
	topic      string
	state      SessionState
	transcript *model.Transcript
	gen        uint64
	devLog     bool
	writes     storeWrites
}

// NewSessionController returns a controller with no topic. store may be nil.
func NewSessionController(svc adapter.StudyService, store repository.TranscriptStore, logger *zerolog.Logger) *SessionController {
	if logger == nil {
		logger = logging.Nop()
	}
	l := logger.With().Str("component", "SessionController").Logger()
	return &SessionController{
		svc:        svc,
		store:      store,
		log:        &l,
		state:      SessionNoTopic,
		transcript: model.NewTranscript(),
	}
}

// SetDevLogging makes debug logs carry learner text unredacted.
func (c *SessionController) SetDevLogging(dev bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devLog = dev
}

func (c *SessionController) pendingLocked() bool {
	return c.state == SessionAwaitingFirstReply || c.state == SessionAwaitingReply
}

// Begin opens a session on topic. A session that is already active is
// replaced. The first assistant reply becomes the whole transcript.
func (c *SessionController) Begin(ctx context.Context, topic string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return domain.NewValidationError("topic", "Please enter a topic to study")
	}

	c.mu.Lock()
	if c.identity == "" {
		c.mu.Unlock()
		return domain.NewValidationError("identity", "must not be empty")
	}
	if c.pendingLocked() {
		c.mu.Unlock()
		return domain.ErrExchangeInFlight
	}
	if c.topic != "" {
		c.clearLocked()
	}
	c.gen++
	gen, identity := c.gen, c.identity
	c.state = SessionAwaitingFirstReply
	c.mu.Unlock()

	ctx = logging.WithIdentity(ctx, identity)
	log := logging.With(ctx, c.log)
	log.Info().Str("topic", topic).Msg("starting guided session")
	defer logging.TraceDuration(log, "SessionController.Begin")()

	start := time.Now()
	reply, err := c.svc.GuidedChat(ctx, adapter.GuidedChatRequest{
		Identity: identity,
		Topic:    topic,
		History:  []model.HistoryEntry{},
		Question: model.BootstrapUtterance(topic),
	})
	metrics.ObserveExchange("guided_bootstrap", time.Since(start).Milliseconds(), err == nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.identity != identity {
		log.Debug().Msg("discarding reply for superseded session")
		return domain.ErrSuperseded
	}
	if err != nil {
		c.state = SessionNoTopic
		log.Error().Err(err).Msg("guided session failed to start")
		return fmt.Errorf("begin session: %w", err)
	}

	c.topic = topic
	c.transcript = model.NewTranscript()
	c.transcript.Append(model.SpeakerAssistant, reply)
	c.state = SessionActive
	c.persistLocked()
	return nil
}

// Submit sends one learner utterance. It reports whether an exchange was
// issued; empty text, a pending exchange, a missing identity or topic make it
// a no-op. A failed exchange is recorded as an error turn and also returned.
func (c *SessionController) Submit(ctx context.Context, text string) (bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, nil
	}

	c.mu.Lock()
	if c.pendingLocked() || c.identity == "" || c.topic == "" {
		c.mu.Unlock()
		return false, nil
	}
	history := c.transcript.History()
	c.transcript.Append(model.SpeakerUser, text)
	c.state = SessionAwaitingReply
	gen, identity, topic, devLog := c.gen, c.identity, c.topic, c.devLog
	c.mu.Unlock()

	ctx = logging.WithIdentity(ctx, identity)
	log := logging.With(ctx, c.log)
	log.Debug().Int("history", len(history)).Str("text", logging.Redact(text, devLog)).Msg("guided exchange")
	defer logging.TraceDuration(log, "SessionController.Submit")()

	start := time.Now()
	reply, err := c.svc.GuidedChat(ctx, adapter.GuidedChatRequest{
		Identity: identity,
		Topic:    topic,
		History:  history,
		Question: text,
	})
	metrics.ObserveExchange("guided_turn", time.Since(start).Milliseconds(), err == nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.identity != identity {
		log.Debug().Msg("discarding reply for superseded session")
		return true, domain.ErrSuperseded
	}
	c.state = SessionActive
	if err != nil {
		log.Warn().Err(err).Msg("guided exchange failed")
		c.transcript.Append(model.SpeakerAssistant, model.ErrorTurnText(domain.Describe(err, "")))
		c.persistLocked()
		return true, fmt.Errorf("guided exchange: %w", err)
	}
	c.transcript.Append(model.SpeakerAssistant, reply)
	c.persistLocked()
	return true, nil
}

// End closes the session. Any in-flight reply is dropped when it arrives.
func (c *SessionController) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

// clearLocked drops the session; the stored copy is deleted in the background.
func (c *SessionController) clearLocked() {
	c.gen++
	hadTopic := c.topic != ""
	c.topic = ""
	c.transcript = model.NewTranscript()
	c.state = SessionNoTopic
	if !hadTopic || c.store == nil || c.identity == "" {
		return
	}
	identity := c.identity
	c.writes.goLocked(identity, func() {
		sctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := c.store.Delete(sctx, identity); err != nil {
			c.log.Warn().Err(err).Msg("could not delete stored session")
		}
	})
}

// OnIdentityChanged ends the session of the previous identity without
// touching what was stored for it.
func (c *SessionController) OnIdentityChanged(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.identity = identity
	c.topic = ""
	c.transcript = model.NewTranscript()
	c.state = SessionNoTopic
}

// Resume restores the stored session for the current identity. It reports
// false when nothing was stored.
func (c *SessionController) Resume(ctx context.Context) (bool, error) {
	if c.store == nil {
		return false, nil
	}
	c.mu.Lock()
	identity := c.identity
	if identity == "" {
		c.mu.Unlock()
		return false, domain.ErrNoIdentity
	}
	if c.pendingLocked() {
		c.mu.Unlock()
		return false, domain.ErrExchangeInFlight
	}
	gen := c.gen
	c.mu.Unlock()

	c.writes.flush()
	saved, err := c.store.Load(ctx, identity)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.identity != identity {
		return false, domain.ErrSuperseded
	}
	if saved.Topic == "" || len(saved.Turns) == 0 {
		return false, nil
	}
	c.topic = saved.Topic
	c.transcript = model.NewTranscript(saved.Turns...)
	c.state = SessionActive
	c.log.Info().Str("topic", saved.Topic).Int("turns", len(saved.Turns)).Msg("guided session resumed")
	return true, nil
}

// persistLocked copies the session and saves it in the background.
func (c *SessionController) persistLocked() {
	if c.store == nil {
		return
	}
	identity := c.identity
	saved := &repository.SavedSession{Topic: c.topic, Turns: c.transcript.Turns()}
	c.writes.goLocked(identity, func() {
		sctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := c.store.Save(sctx, identity, saved); err != nil {
			c.log.Warn().Err(err).Msg("could not store session")
		}
	})
}

// Flush waits for background store writes to finish.
func (c *SessionController) Flush() { c.writes.flush() }

func (c *SessionController) Snapshot() SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SessionSnapshot{
		Identity:   c.identity,
		Topic:      c.topic,
		State:      c.state,
		Pending:    c.pendingLocked(),
		Transcript: c.transcript.Turns(),
	}
}
