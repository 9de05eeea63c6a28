package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castbridge/castbridge/internal/cursor"
	"github.com/castbridge/castbridge/internal/neynar"
	"github.com/castbridge/castbridge/internal/session"
	"github.com/castbridge/castbridge/internal/signer"
	"github.com/castbridge/castbridge/internal/store"
	"github.com/castbridge/castbridge/internal/telegram"
)

type botFixture struct {
	bot    *Bot
	sender *fakeSender
	api    *fakeAPI
	creds  *session.CredentialStore
	reg    *cursor.Registry
	kv     store.KV
}

func newBotFixture(t *testing.T) *botFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv := store.NewRedisKVFromClient(client, "test:")
	t.Cleanup(func() { _ = kv.Close() })

	sender := &fakeSender{}
	api := &fakeAPI{}
	creds := session.NewCredentialStore(kv)
	signers := signer.NewManager(api, creds, signer.Config{
		AppFID:          99,
		AppSignature:    "0xsig",
		PollInterval:    time.Millisecond,
		PollMaxAttempts: 1,
	})

	reg := cursor.NewRegistry(kv, time.Hour)
	b := New(Deps{
		Sender:   sender,
		KV:       kv,
		Creds:    creds,
		Signers:  signers,
		Registry: reg,
		API:      api,
	})
	return &botFixture{bot: b, sender: sender, api: api, creds: creds, reg: reg, kv: kv}
}

func (f *botFixture) approveSession(t *testing.T, chatID int64, fid uint64) {
	t.Helper()
	require.NoError(t, f.creds.Save(context.Background(), &session.Session{
		ChatID:      chatID,
		FID:         fid,
		SignerUUID:  "signer-1",
		SignerState: session.StateApproved,
	}))
}

func messageUpdate(chatID int64, text string) *telegram.Update {
	return &telegram.Update{Message: &telegram.Message{Chat: telegram.Chat{ID: chatID}, Text: text}}
}

func callbackUpdate(chatID int64, data string) *telegram.Update {
	return &telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID:      "cb-1",
		Data:    data,
		Message: &telegram.Message{Chat: telegram.Chat{ID: chatID}},
	}}
}

// loadMorePayload finds the callback payload of the most recent
// load-more button the bot sent.
func loadMorePayload(t *testing.T, sender *fakeSender) string {
	t.Helper()
	sender.mu.Lock()
	defer sender.mu.Unlock()
	for i := len(sender.Messages) - 1; i >= 0; i-- {
		opts := sender.Messages[i].Opts
		if opts == nil || len(opts.Keyboard) == 0 {
			continue
		}
		data := opts.Keyboard[0][0].CallbackData
		if strings.HasPrefix(data, actionLoadMore+":") || strings.HasPrefix(data, actionNotif+":") {
			return data
		}
	}
	t.Fatal("no load-more button was sent")
	return ""
}

func TestFeedPagination_RoundTrip(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	f.approveSession(t, 7, 42)

	f.api.FeedResp = &neynar.FeedResponse{
		Casts: []neynar.Cast{{Hash: "0xaaa", Author: neynar.Author{Username: "alice"}, Text: "hello"}},
		Next:  neynar.Next{Cursor: strings.Repeat("opaque-cursor/", 20)},
	}

	f.bot.HandleUpdate(ctx, messageUpdate(7, "/feed"))
	require.Equal(t, []string{""}, f.api.FeedCalls)

	payload := loadMorePayload(t, f.sender)
	assert.LessOrEqual(t, len(payload), 64)

	// Pressing the button replays the query from the stored cursor.
	f.bot.HandleUpdate(ctx, callbackUpdate(7, payload))
	require.Len(t, f.api.FeedCalls, 2)
	assert.Equal(t, strings.Repeat("opaque-cursor/", 20), f.api.FeedCalls[1])
}

func TestFeedPagination_TokenIsSingleUse(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	f.approveSession(t, 7, 42)

	f.api.FeedResp = &neynar.FeedResponse{
		Casts: []neynar.Cast{{Hash: "0xaaa", Author: neynar.Author{Username: "alice"}, Text: "hi"}},
		Next:  neynar.Next{Cursor: "page-2"},
	}

	f.bot.HandleUpdate(ctx, messageUpdate(7, "/feed"))
	payload := loadMorePayload(t, f.sender)

	f.bot.HandleUpdate(ctx, callbackUpdate(7, payload))
	require.Len(t, f.api.FeedCalls, 2)

	// The same token again is stale: no further remote call, distinct message.
	f.bot.HandleUpdate(ctx, callbackUpdate(7, payload))
	assert.Len(t, f.api.FeedCalls, 2)
	assert.Contains(t, f.sender.lastMessage(), "expired")
}

func TestStaleToken_NoRemoteCall(t *testing.T) {
	f := newBotFixture(t)
	f.approveSession(t, 7, 42)

	f.bot.HandleUpdate(context.Background(), callbackUpdate(7, "load_more:00000000-0000-0000-0000-000000000000"))

	assert.Empty(t, f.api.FeedCalls)
	assert.Contains(t, f.sender.lastMessage(), "expired")
}

func TestNotificationPagination_FilterTravelsWithToken(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	f.approveSession(t, 7, 42)

	f.api.NotifResp = &neynar.NotificationsResponse{
		Notifications: []neynar.Notification{{Type: "likes", Cast: &neynar.Cast{Hash: "0xbbb"}}},
		Next:          neynar.Next{Cursor: "notif-page-2"},
	}

	f.bot.HandleUpdate(ctx, messageUpdate(7, "/notifications likes recasts"))
	require.Len(t, f.api.NotifCalls, 1)
	assert.Equal(t, []string{"likes", "recasts"}, f.api.NotifCalls[0])

	f.bot.HandleUpdate(ctx, callbackUpdate(7, loadMorePayload(t, f.sender)))
	require.Len(t, f.api.NotifCalls, 2)
	assert.Equal(t, []string{"likes", "recasts"}, f.api.NotifCalls[1])
	assert.Equal(t, "notif-page-2", f.api.NotifCursors[1])
}

func TestReaction_RejectedWithoutApprovedSigner(t *testing.T) {
	f := newBotFixture(t)
	require.NoError(t, f.creds.Save(context.Background(), &session.Session{
		ChatID:      7,
		FID:         42,
		SignerUUID:  "signer-1",
		SignerState: session.StatePendingApproval,
	}))

	f.bot.HandleUpdate(context.Background(), callbackUpdate(7, "like:0xaaa"))

	assert.Empty(t, f.api.Reactions)
	require.NotEmpty(t, f.sender.Callbacks)
	assert.Equal(t, needSignerMsg, f.sender.Callbacks[len(f.sender.Callbacks)-1])
}

func TestReaction_Publishes(t *testing.T) {
	f := newBotFixture(t)
	f.approveSession(t, 7, 42)

	f.bot.HandleUpdate(context.Background(), callbackUpdate(7, "recast:0xaaa"))

	require.Len(t, f.api.Reactions, 1)
	assert.Equal(t, neynar.PublishReactionRequest{
		SignerUUID:   "signer-1",
		ReactionType: "recast",
		Target:       "0xaaa",
	}, f.api.Reactions[0])
}

func TestReplyFlow_PublishesOnceAndClearsMarker(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	f.approveSession(t, 7, 42)

	// Button press marks the pending reply without touching the remote.
	f.bot.HandleUpdate(ctx, callbackUpdate(7, "reply:0xparent"))
	assert.Empty(t, f.api.PublishedCasts)

	target, err := f.bot.markers.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "0xparent", target)

	// The next free text publishes exactly once, threaded to the parent.
	f.bot.HandleUpdate(ctx, messageUpdate(7, "hi"))
	require.Len(t, f.api.PublishedCasts, 1)
	assert.Equal(t, "0xparent", f.api.PublishedCasts[0].Parent)
	assert.Equal(t, "hi", f.api.PublishedCasts[0].Text)

	target, err = f.bot.markers.Get(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, target)

	// A second message is no longer a reply.
	f.bot.HandleUpdate(ctx, messageUpdate(7, "hello again"))
	assert.Len(t, f.api.PublishedCasts, 1)
}

func TestRun_SameChatBatchHandledInOrder(t *testing.T) {
	f := newBotFixture(t)
	f.approveSession(t, 7, 42)

	// A reply-button press and its follow-up text arriving in one
	// getUpdates batch must be handled in that order: the marker written
	// by the first update decides how the second is interpreted.
	f.bot.source = &fakeSource{batches: [][]telegram.Update{{
		{UpdateID: 1, CallbackQuery: &telegram.CallbackQuery{
			ID:      "cb-1",
			Data:    "reply:0xparent",
			Message: &telegram.Message{Chat: telegram.Chat{ID: 7}},
		}},
		{UpdateID: 2, Message: &telegram.Message{Chat: telegram.Chat{ID: 7}, Text: "hi"}},
	}}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.bot.Run(ctx) }()

	require.Eventually(t, func() bool {
		f.api.mu.Lock()
		defer f.api.mu.Unlock()
		return len(f.api.PublishedCasts) == 1
	}, 5*time.Second, 5*time.Millisecond, "follow-up text was not published as the reply")

	cancel()
	<-done

	assert.Equal(t, "0xparent", f.api.PublishedCasts[0].Parent)
	assert.Equal(t, "hi", f.api.PublishedCasts[0].Text)

	target, err := f.bot.markers.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, target, "marker must not outlive the follow-up text")
}

func TestReplyFlow_MarkerClearedOnPublishFailure(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	f.approveSession(t, 7, 42)
	f.api.PublishErr = errors.New("remote down")

	f.bot.HandleUpdate(ctx, callbackUpdate(7, "reply:0xparent"))
	f.bot.HandleUpdate(ctx, messageUpdate(7, "hi"))

	target, err := f.bot.markers.Get(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, target)
	assert.Contains(t, f.sender.lastMessage(), "went wrong")
}

func TestCommandInterruptsPendingReply(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	f.approveSession(t, 7, 42)

	f.bot.HandleUpdate(ctx, callbackUpdate(7, "reply:0xparent"))
	f.bot.HandleUpdate(ctx, messageUpdate(7, "/feed"))

	target, err := f.bot.markers.Get(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, target)

	// Follow-up text is no longer treated as the reply body.
	f.bot.HandleUpdate(ctx, messageUpdate(7, "not a reply"))
	assert.Empty(t, f.api.PublishedCasts)
	assert.Contains(t, f.sender.lastMessage(), "valid FID")
}

func TestFeed_EmptyPageIsTerminal(t *testing.T) {
	f := newBotFixture(t)
	f.approveSession(t, 7, 42)

	f.bot.HandleUpdate(context.Background(), messageUpdate(7, "/feed"))

	assert.Equal(t, "No casts found in your feed.", f.sender.lastMessage())
}

func TestFeed_PhotoFailureFallsBackToText(t *testing.T) {
	f := newBotFixture(t)
	f.approveSession(t, 7, 42)
	f.sender.photoErr = errors.New("wrong file identifier")

	f.api.FeedResp = &neynar.FeedResponse{
		Casts: []neynar.Cast{{
			Hash:   "0xaaa",
			Author: neynar.Author{Username: "alice", PfpURL: "https://pfp/alice.png"},
			Text:   "gm",
		}},
	}

	f.bot.HandleUpdate(context.Background(), messageUpdate(7, "/feed"))

	assert.Empty(t, f.sender.Photos)
	found := false
	f.sender.mu.Lock()
	for _, m := range f.sender.Messages {
		if strings.Contains(m.Text, "gm") {
			found = true
		}
	}
	f.sender.mu.Unlock()
	assert.True(t, found, "cast body not delivered as text")
}

func TestFeed_RequiresLinkedFID(t *testing.T) {
	f := newBotFixture(t)

	f.bot.HandleUpdate(context.Background(), messageUpdate(7, "/feed"))

	assert.Empty(t, f.api.FeedCalls)
	assert.Contains(t, f.sender.lastMessage(), "/start")
}

func TestCast_PublishesAndRecords(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	f.approveSession(t, 7, 42)

	f.bot.HandleUpdate(ctx, messageUpdate(7, "/cast Hello Farcaster!"))

	require.Len(t, f.api.PublishedCasts, 1)
	assert.Equal(t, "Hello Farcaster!", f.api.PublishedCasts[0].Text)
	assert.Empty(t, f.api.PublishedCasts[0].Parent)

	// The published hash is remembered for /replies.
	_, err := f.kv.Get(ctx, castRecordKey(7, "0xnew"))
	assert.NoError(t, err)
}

func TestChannelCast_RequiresChannelAndText(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	f.approveSession(t, 7, 42)

	f.bot.HandleUpdate(ctx, messageUpdate(7, "/channel_cast art"))
	assert.Empty(t, f.api.PublishedCasts)

	f.bot.HandleUpdate(ctx, messageUpdate(7, "/channel_cast art my artwork"))
	require.Len(t, f.api.PublishedCasts, 1)
	assert.Equal(t, "art", f.api.PublishedCasts[0].ChannelID)
	assert.Equal(t, "my artwork", f.api.PublishedCasts[0].Text)
}

func TestLinkFID_StartsSignerSetup(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	f.bot.HandleUpdate(ctx, messageUpdate(7, "42"))

	sess, err := f.creds.Load(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), sess.FID)
	assert.Equal(t, "fresh-uuid", sess.SignerUUID)
	assert.Equal(t, session.StateGenerated, sess.SignerState)

	// The approval link was forwarded to the chat.
	found := false
	f.sender.mu.Lock()
	for _, m := range f.sender.Messages {
		if strings.Contains(m.Text, "warpcast") {
			found = true
		}
	}
	f.sender.mu.Unlock()
	assert.True(t, found, "approval URL not sent")
	f.bot.signers.Wait()
}

func TestLinkFID_LookupFailureKeepsExistingSigner(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	f.approveSession(t, 7, 42)
	// LookupResp unset: the remote status check fails.

	f.bot.HandleUpdate(ctx, messageUpdate(7, "99"))

	sess, err := f.creds.Load(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "signer-1", sess.SignerUUID, "existing signer must survive a failed lookup")
	assert.Equal(t, session.StateApproved, sess.SignerState)
	assert.Equal(t, uint64(42), sess.FID)
	assert.Contains(t, f.sender.lastMessage(), "went wrong")
}

func TestLinkFID_ApprovedSignerUpdatesFIDOnly(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	f.approveSession(t, 7, 42)
	f.api.LookupResp = &neynar.Signer{SignerUUID: "signer-1", Status: "approved"}

	f.bot.HandleUpdate(ctx, messageUpdate(7, "99"))

	sess, err := f.creds.Load(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "signer-1", sess.SignerUUID)
	assert.Equal(t, uint64(99), sess.FID)
	assert.Contains(t, f.sender.lastMessage(), "Updated your FID")
}

func TestContinue_KindMismatchPreservesToken(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	f.approveSession(t, 7, 42)

	token, err := f.reg.Issue(ctx, "opaque-cursor", cursor.Context{FID: 42, Kind: cursor.KindNotifications})
	require.NoError(t, err)

	f.bot.HandleUpdate(ctx, callbackUpdate(7, "load_more:"+token))

	assert.Empty(t, f.api.FeedCalls)
	assert.Empty(t, f.api.NotifCalls)

	// The token is still good for a correctly routed press.
	opaque, qctx, err := f.reg.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "opaque-cursor", opaque)
	assert.Equal(t, cursor.KindNotifications, qctx.Kind)
}

func TestFreeText_InvalidFIDHint(t *testing.T) {
	f := newBotFixture(t)

	f.bot.HandleUpdate(context.Background(), messageUpdate(7, "not a number"))

	assert.Contains(t, f.sender.lastMessage(), "valid FID")
}

func TestCallback_UnknownActionAnswered(t *testing.T) {
	f := newBotFixture(t)

	f.bot.HandleUpdate(context.Background(), callbackUpdate(7, "bogus:0xaaa"))

	require.NotEmpty(t, f.sender.Callbacks)
	assert.Contains(t, f.sender.Callbacks[0], "recognize")
}
