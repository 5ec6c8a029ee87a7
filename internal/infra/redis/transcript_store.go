package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sturdy-study/internal/domain/ports/repository"
)

var _ repository.TranscriptStore = (*TranscriptStore)(nil)

// Cipher seals stored transcripts. security.EncryptionService implements it.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// TranscriptStore keeps the active guided session per identity. Every save
// refreshes the TTL. With a nil cipher payloads are stored as plain JSON.
type TranscriptStore struct {
	client RedisClient
	cipher Cipher
	ttl    time.Duration
}

func NewTranscriptStore(client RedisClient, cipher Cipher, ttl time.Duration) *TranscriptStore {
	return &TranscriptStore{client: client, cipher: cipher, ttl: ttl}
}

func (s *TranscriptStore) key(identity string) string {
	return "guided_session:" + identity
}

func (s *TranscriptStore) Save(ctx context.Context, identity string, session *repository.SavedSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	payload := string(data)
	if s.cipher != nil {
		if payload, err = s.cipher.Encrypt(payload); err != nil {
			return fmt.Errorf("seal session: %w", err)
		}
	}
	return s.client.Set(ctx, s.key(identity), payload, s.ttl)
}

func (s *TranscriptStore) Load(ctx context.Context, identity string) (*repository.SavedSession, error) {
	payload, err := s.client.Get(ctx, s.key(identity))
	if err != nil {
		return nil, err
	}
	if s.cipher != nil {
		if payload, err = s.cipher.Decrypt(payload); err != nil {
			return nil, fmt.Errorf("open session: %w", err)
		}
	}
	var session repository.SavedSession
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func (s *TranscriptStore) Delete(ctx context.Context, identity string) error {
	return s.client.Del(ctx, s.key(identity))
}
