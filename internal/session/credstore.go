package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/castbridge/castbridge/internal/store"
)

// ErrSessionNotFound is returned when no session exists for a chat.
var ErrSessionNotFound = errors.New("session not found")

// CredentialStore persists sessions in the key-value store under
// session:{chatID}. It is a thin codec layer; the store accepts
// last-writer-wins races because the remote signer service, not this
// cache, is authoritative.
type CredentialStore struct {
	kv store.KV
}

// NewCredentialStore creates a credential store over the given KV.
func NewCredentialStore(kv store.KV) *CredentialStore {
	return &CredentialStore{kv: kv}
}

func sessionKey(chatID int64) string {
	return "session:" + strconv.FormatInt(chatID, 10)
}

// Save creates or updates a session.
func (c *CredentialStore) Save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := c.kv.Set(ctx, sessionKey(sess.ChatID), data, 0); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load retrieves the session for a chat.
// Returns ErrSessionNotFound if the chat has no session.
func (c *CredentialStore) Load(ctx context.Context, chatID int64) (*Session, error) {
	data, err := c.kv.Get(ctx, sessionKey(chatID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if sess.SignerState == "" {
		sess.SignerState = StateNone
	}
	return &sess, nil
}

// UpdateSignerState loads, mutates and saves the cached signer state.
// Missing sessions are ignored: a sweep may observe a session that was
// reset concurrently.
func (c *CredentialStore) UpdateSignerState(ctx context.Context, chatID int64, state SignerState) error {
	sess, err := c.Load(ctx, chatID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	sess.SignerState = state
	return c.Save(ctx, sess)
}

// List returns all stored sessions.
func (c *CredentialStore) List(ctx context.Context) ([]*Session, error) {
	keys, err := c.kv.Keys(ctx, "session:*")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]*Session, 0, len(keys))
	for _, key := range keys {
		data, err := c.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		sessions = append(sessions, &sess)
	}
	return sessions, nil
}

// Delete removes a session.
func (c *CredentialStore) Delete(ctx context.Context, chatID int64) error {
	return c.kv.Del(ctx, sessionKey(chatID))
}
