// File: internal/usecase/chat_controller.go
package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sturdy-study/internal/domain"
	"sturdy-study/internal/domain/model"
	"sturdy-study/internal/domain/ports/adapter"
	"sturdy-study/internal/infra/logging"
	"sturdy-study/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// ChatController keeps the local log of the free-form course chat. The
// backend answers one question at a time, so history is never sent.
type ChatController struct {
	svc adapter.StudyService
	log *zerolog.Logger

	mu       sync.Mutex
	identity string
	messages []model.ChatMessage
	pending  bool
	gen      uint64
}

func NewChatController(svc adapter.StudyService, logger *zerolog.Logger) *ChatController {
	if logger == nil {
		logger = logging.Nop()
	}
	l := logger.With().Str("component", "ChatController").Logger()
	return &ChatController{svc: svc, log: &l}
}

// Ask sends question and appends the reply. Same no-op rules as a guided submit.
func (c *ChatController) Ask(ctx context.Context, question string) (bool, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return false, nil
	}

	c.mu.Lock()
	if c.pending || c.identity == "" {
		c.mu.Unlock()
		return false, nil
	}
	c.messages = append(c.messages, model.ChatMessage{Speaker: model.SpeakerUser, Content: question})
	c.pending = true
	gen, identity := c.gen, c.identity
	c.mu.Unlock()

	ctx = logging.WithIdentity(ctx, identity)
	defer logging.TraceDuration(logging.With(ctx, c.log), "ChatController.Ask")()
	start := time.Now()
	reply, err := c.svc.Chat(ctx, adapter.ChatRequest{Question: question, Identity: identity})
	metrics.ObserveExchange("chat", time.Since(start).Milliseconds(), err == nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.identity != identity {
		return true, domain.ErrSuperseded
	}
	c.pending = false
	if err != nil {
		logging.With(ctx, c.log).Warn().Err(err).Msg("chat exchange failed")
		c.messages = append(c.messages, model.ChatMessage{
			Speaker: model.SpeakerAssistant,
			Content: model.ErrorTurnText(domain.Describe(err, "")),
		})
		return true, fmt.Errorf("chat: %w", err)
	}
	c.messages = append(c.messages, replyMessage(reply))
	return true, nil
}

// replyMessage prefers a quiz over an answer. A quiz that does not decode is
// shown as its raw text.
func replyMessage(r *model.ChatReply) model.ChatMessage {
	msg := model.ChatMessage{Speaker: model.SpeakerAssistant}
	switch {
	case r != nil && r.Quiz != "":
		msg.Content = r.Quiz
		if q, ok := DecodeQuiz(r.Quiz); ok {
			msg.Quiz = q
		}
	case r != nil && r.Answer != "":
		msg.Content = r.Answer
	default:
		msg.Content = model.NoReplyText
	}
	return msg
}

func (c *ChatController) Messages() []model.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *ChatController) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Clear drops the local log and any in-flight reply.
func (c *ChatController) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.messages = nil
	c.pending = false
}

func (c *ChatController) OnIdentityChanged(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.identity = identity
	c.messages = nil
	c.pending = false
}
