package repository

import (
	"context"

	"sturdy-study/internal/domain/model"
)

// SavedSession is a guided session snapshot stored under an identity key.
type SavedSession struct {
	Topic string       `json:"topic"`
	Turns []model.Turn `json:"turns"`
}

// TranscriptStore persists the active guided session per identity.
type TranscriptStore interface {
	Save(ctx context.Context, identity string, s *SavedSession) error
	// Load returns domain.ErrNotFound when no session is stored.
	Load(ctx context.Context, identity string) (*SavedSession, error)
	Delete(ctx context.Context, identity string) error
}
