package session

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/castbridge/castbridge/internal/store"
)

func setupStore(t *testing.T) *CredentialStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv := store.NewRedisKVFromClient(client, "test:")
	t.Cleanup(func() { _ = kv.Close() })

	return NewCredentialStore(kv)
}

func TestCredentialStore_SaveAndLoad(t *testing.T) {
	cs := setupStore(t)
	ctx := context.Background()

	sess := &Session{
		ChatID:      12345,
		FID:         3621,
		SignerUUID:  "sig-uuid-1",
		SignerState: StateGenerated,
	}
	if err := cs.Save(ctx, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := cs.Load(ctx, 12345)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.FID != 3621 {
		t.Errorf("FID mismatch: got %d", loaded.FID)
	}
	if loaded.SignerState != StateGenerated {
		t.Errorf("SignerState mismatch: got %s", loaded.SignerState)
	}
}

func TestCredentialStore_Load_NotFound(t *testing.T) {
	cs := setupStore(t)

	_, err := cs.Load(context.Background(), 99)
	if err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestCredentialStore_UpdateSignerState(t *testing.T) {
	cs := setupStore(t)
	ctx := context.Background()

	sess := &Session{ChatID: 1, FID: 7, SignerUUID: "u", SignerState: StatePendingApproval}
	if err := cs.Save(ctx, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := cs.UpdateSignerState(ctx, 1, StateApproved); err != nil {
		t.Fatalf("UpdateSignerState failed: %v", err)
	}

	loaded, err := cs.Load(ctx, 1)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.SignerState != StateApproved {
		t.Errorf("expected approved, got %s", loaded.SignerState)
	}

	// Missing session is not an error
	if err := cs.UpdateSignerState(ctx, 404, StateRevoked); err != nil {
		t.Errorf("UpdateSignerState for missing session failed: %v", err)
	}
}

func TestCredentialStore_List(t *testing.T) {
	cs := setupStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if err := cs.Save(ctx, &Session{ChatID: i, FID: uint64(i * 10), SignerState: StateNone}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	sessions, err := cs.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sessions) != 3 {
		t.Errorf("expected 3 sessions, got %d", len(sessions))
	}
}

func TestSession_CanPublish(t *testing.T) {
	cases := []struct {
		name string
		sess *Session
		want bool
	}{
		{"nil", nil, false},
		{"no signer", &Session{ChatID: 1, SignerState: StateApproved}, false},
		{"pending", &Session{ChatID: 1, SignerUUID: "u", SignerState: StatePendingApproval}, false},
		{"revoked", &Session{ChatID: 1, SignerUUID: "u", SignerState: StateRevoked}, false},
		{"approved", &Session{ChatID: 1, SignerUUID: "u", SignerState: StateApproved}, true},
	}
	for _, tc := range cases {
		if got := tc.sess.CanPublish(); got != tc.want {
			t.Errorf("%s: CanPublish = %v, want %v", tc.name, got, tc.want)
		}
	}
}
