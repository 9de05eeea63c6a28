package signer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/castbridge/castbridge/internal/neynar"
	"github.com/castbridge/castbridge/internal/session"
)

// ErrNoSigner is returned when an operation needs a signer the session
// doesn't have.
var ErrNoSigner = errors.New("session has no signer")

// signedKeyDeadline is how long a registered key request stays valid.
const signedKeyDeadline = 24 * time.Hour

// Config configures a Manager.
type Config struct {
	// AppFID is the developer FID sponsoring signed keys.
	AppFID uint64
	// AppSignature is the pre-generated EIP-712 key-request signature.
	AppSignature string
	// PollInterval is the delay between approval checks.
	PollInterval time.Duration
	// PollMaxAttempts bounds the background checks per signer.
	PollMaxAttempts int
	// Clock defaults to the wall clock.
	Clock Clock
}

// Manager drives a delegated signer from creation through external
// approval to usable or revoked state. The remote service is the source
// of truth; the session only caches the last observed state, and
// concurrent manual checks and background polls are idempotent
// (last writer wins on the cache).
type Manager struct {
	api   neynar.API
	creds *session.CredentialStore
	cfg   Config
	clock Clock
	wg    sync.WaitGroup
}

// NewManager creates a signer lifecycle manager.
func NewManager(api neynar.API, creds *session.CredentialStore, cfg Config) *Manager {
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock()
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.PollMaxAttempts == 0 {
		cfg.PollMaxAttempts = 10
	}
	return &Manager{api: api, creds: creds, cfg: cfg, clock: clock}
}

// EnsureSigner creates and registers a fresh delegated signer for the
// chat, persisting the session in generated state. On remote failure the
// session is left untouched so the user can simply retry.
func (m *Manager) EnsureSigner(ctx context.Context, chatID int64, fid uint64) (*session.Session, string, error) {
	created, err := m.api.CreateSigner(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("create signer: %w", err)
	}

	deadline := m.clock.Now().Add(signedKeyDeadline).Unix()
	registered, err := m.api.RegisterSignedKey(ctx, created.SignerUUID, m.cfg.AppFID, deadline, m.cfg.AppSignature)
	if err != nil {
		return nil, "", fmt.Errorf("register signed key: %w", err)
	}

	sess := &session.Session{
		ChatID:      chatID,
		FID:         fid,
		SignerUUID:  registered.SignerUUID,
		SignerState: session.StateGenerated,
	}
	if err := m.creds.Save(ctx, sess); err != nil {
		return nil, "", err
	}
	return sess, registered.ApprovalURL, nil
}

// CheckApproval reads the remote signer state for a chat and persists any
// observed transition before returning it. Safe to call from the manual
// status command while a background poll is in flight.
func (m *Manager) CheckApproval(ctx context.Context, chatID int64) (session.SignerState, error) {
	sess, err := m.creds.Load(ctx, chatID)
	if err != nil {
		return session.StateNone, err
	}
	if sess.SignerUUID == "" {
		return session.StateNone, ErrNoSigner
	}

	remote, err := m.api.LookupSigner(ctx, sess.SignerUUID)
	if err != nil {
		return sess.SignerState, fmt.Errorf("lookup signer: %w", err)
	}

	state := mapStatus(remote.Status)
	if state != sess.SignerState {
		if err := m.creds.UpdateSignerState(ctx, chatID, state); err != nil {
			return state, err
		}
	}
	return state, nil
}

// ApprovalURL re-reads the remote signer and returns its approval URL,
// persisting the freshly observed state along the way. An empty URL with
// approved state means no approval is needed.
func (m *Manager) ApprovalURL(ctx context.Context, chatID int64) (string, session.SignerState, error) {
	sess, err := m.creds.Load(ctx, chatID)
	if err != nil {
		return "", session.StateNone, err
	}
	if sess.SignerUUID == "" {
		return "", session.StateNone, ErrNoSigner
	}

	remote, err := m.api.LookupSigner(ctx, sess.SignerUUID)
	if err != nil {
		return "", sess.SignerState, fmt.Errorf("lookup signer: %w", err)
	}

	state := mapStatus(remote.Status)
	if state != sess.SignerState {
		if err := m.creds.UpdateSignerState(ctx, chatID, state); err != nil {
			return "", state, err
		}
	}
	return remote.ApprovalURL, state, nil
}

// Reset marks the current signer revoked and immediately issues a fresh
// generated one. Revoked is transient: the session re-enters generated
// before Reset returns.
func (m *Manager) Reset(ctx context.Context, chatID int64) (*session.Session, string, error) {
	sess, err := m.creds.Load(ctx, chatID)
	if err != nil {
		return nil, "", err
	}
	if sess.SignerUUID != "" {
		if err := m.creds.UpdateSignerState(ctx, chatID, session.StateRevoked); err != nil {
			return nil, "", err
		}
	}
	return m.EnsureSigner(ctx, chatID, sess.FID)
}

// PollResult is delivered once per StartPolling call.
type PollResult struct {
	// State is the terminal state observed, or empty when Exhausted.
	State session.SignerState
	// Exhausted is true when the attempt budget ran out without the
	// signer reaching a terminal state.
	Exhausted bool
}

// StartPolling schedules the bounded approval check sequence for a chat:
// at most PollMaxAttempts checks at PollInterval. Each observed change is
// persisted before the terminal decision. Poll errors are logged and
// swallowed; they never break the schedule. The sequence self-cancels on
// approval or revocation and reports once via done.
func (m *Manager) StartPolling(ctx context.Context, chatID int64, done func(PollResult)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		for attempt := 1; attempt <= m.cfg.PollMaxAttempts; attempt++ {
			select {
			case <-ctx.Done():
				return
			case <-m.clock.After(m.cfg.PollInterval):
			}

			state, err := m.CheckApproval(ctx, chatID)
			if err != nil {
				log.Printf("approval poll attempt %d for chat %d: %v", attempt, chatID, err)
				continue
			}
			if state == session.StateApproved || state == session.StateRevoked {
				done(PollResult{State: state})
				return
			}
		}
		done(PollResult{Exhausted: true})
	}()
}

// SweepAll reconciles every stored session's cached signer state against
// the remote service. Sessions are checked concurrently with a small
// limit so a sweep never starves inbound handling.
func (m *Manager) SweepAll(ctx context.Context) error {
	sessions, err := m.creds.List(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, sess := range sessions {
		if sess.SignerUUID == "" {
			continue
		}
		chatID := sess.ChatID
		g.Go(func() error {
			if _, err := m.CheckApproval(ctx, chatID); err != nil {
				log.Printf("signer sweep for chat %d: %v", chatID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Wait blocks until all in-flight poll sequences have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func mapStatus(status string) session.SignerState {
	switch status {
	case "generated":
		return session.StateGenerated
	case "pending_approval":
		return session.StatePendingApproval
	case "approved":
		return session.StateApproved
	case "revoked":
		return session.StateRevoked
	default:
		return session.StateNone
	}
}
