package bot

import (
	"context"
	"errors"
	"strconv"

	"github.com/castbridge/castbridge/internal/store"
)

// replyMarkers tracks which cast a chat is currently replying to. A
// marker set by a reply button must be visible to the very next free-text
// message from the same chat; the store write completes before the
// button handler returns, and updates within one chat are serialized.
type replyMarkers struct {
	kv store.KV
}

func markerKey(chatID int64) string {
	return "replying_to:" + strconv.FormatInt(chatID, 10)
}

// Set marks the chat as replying to the given cast hash.
func (r *replyMarkers) Set(ctx context.Context, chatID int64, castHash string) error {
	return r.kv.Set(ctx, markerKey(chatID), []byte(castHash), 0)
}

// Get returns the pending target hash, or "" when none is pending.
func (r *replyMarkers) Get(ctx context.Context, chatID int64) (string, error) {
	data, err := r.kv.Get(ctx, markerKey(chatID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// Clear removes the pending marker. Cleared unconditionally after the
// first free-text message, whether or not the publish succeeded, and on
// command interruption.
func (r *replyMarkers) Clear(ctx context.Context, chatID int64) error {
	return r.kv.Del(ctx, markerKey(chatID))
}
