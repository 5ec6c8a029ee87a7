package model

import (
	"fmt"
	"strings"
	"time"
)

type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one utterance within a guided session transcript.
type Turn struct {
	Speaker   Speaker   `json:"role"`
	Text      string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Transcript is append-only. Callers receive copies via Turns.
type Transcript struct {
	turns []Turn
}

func NewTranscript(turns ...Turn) *Transcript {
	t := &Transcript{turns: make([]Turn, 0, 8)}
	t.turns = append(t.turns, turns...)
	return t
}

func (t *Transcript) Append(speaker Speaker, text string) Turn {
	turn := Turn{Speaker: speaker, Text: text, Timestamp: time.Now()}
	t.turns = append(t.turns, turn)
	return turn
}

func (t *Transcript) Len() int { return len(t.turns) }

// Turns returns a copy so the backing slice is never mutated by callers.
func (t *Transcript) Turns() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

func (t *Transcript) Last() (Turn, bool) {
	if len(t.turns) == 0 {
		return Turn{}, false
	}
	return t.turns[len(t.turns)-1], true
}

// HistoryEntry is the wire form of a turn replayed to the guided-chat endpoint.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History converts the transcript to the replay format, oldest first.
func (t *Transcript) History() []HistoryEntry {
	out := make([]HistoryEntry, 0, len(t.turns))
	for _, turn := range t.turns {
		out = append(out, HistoryEntry{Role: string(turn.Speaker), Content: turn.Text})
	}
	return out
}

// BootstrapUtterance is the synthetic opening line sent when a session begins.
func BootstrapUtterance(topic string) string {
	return fmt.Sprintf("I want to learn about %s", topic)
}

// ErrorTurnText formats a failed exchange as an assistant turn.
func ErrorTurnText(description string) string {
	if strings.TrimSpace(description) == "" {
		description = "Failed to get response"
	}
	return "Error: " + description
}
