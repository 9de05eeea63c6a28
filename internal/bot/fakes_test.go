package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/castbridge/castbridge/internal/neynar"
	"github.com/castbridge/castbridge/internal/telegram"
)

// sentMessage records one outbound send.
type sentMessage struct {
	ChatID int64
	Text   string
	Opts   *telegram.SendOptions
}

// fakeSender records everything sent to the transport.
type fakeSender struct {
	mu        sync.Mutex
	Messages  []sentMessage
	Photos    []sentMessage
	Callbacks []string
	photoErr  error
}

func (f *fakeSender) SendMessage(ctx context.Context, chatID int64, text string, opts *telegram.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages = append(f.Messages, sentMessage{ChatID: chatID, Text: text, Opts: opts})
	return nil
}

func (f *fakeSender) SendPhoto(ctx context.Context, chatID int64, photoURL, caption string, opts *telegram.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.photoErr != nil {
		return f.photoErr
	}
	f.Photos = append(f.Photos, sentMessage{ChatID: chatID, Text: caption, Opts: opts})
	return nil
}

func (f *fakeSender) AnswerCallback(ctx context.Context, callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Callbacks = append(f.Callbacks, text)
	return nil
}

func (f *fakeSender) lastMessage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Messages) == 0 {
		return ""
	}
	return f.Messages[len(f.Messages)-1].Text
}

// fakeSource serves scripted getUpdates batches, then blocks until the
// poll context is cancelled.
type fakeSource struct {
	mu      sync.Mutex
	batches [][]telegram.Update
}

func (s *fakeSource) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error) {
	s.mu.Lock()
	if len(s.batches) > 0 {
		batch := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		return batch, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

// fakeAPI records remote calls and serves canned pages.
type fakeAPI struct {
	mu sync.Mutex

	FeedResp  *neynar.FeedResponse
	NotifResp *neynar.NotificationsResponse
	ConvResp  *neynar.ConversationResponse

	FeedCalls      []string // cursors, in order
	NotifCalls     [][]string
	NotifCursors   []string
	Reactions      []neynar.PublishReactionRequest
	PublishedCasts []neynar.PublishCastRequest

	PublishErr  error
	ReactionErr error
	LookupResp  *neynar.Signer
}

func (f *fakeAPI) Feed(ctx context.Context, fid uint64, cursor string) (*neynar.FeedResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FeedCalls = append(f.FeedCalls, cursor)
	if f.FeedResp == nil {
		return &neynar.FeedResponse{}, nil
	}
	return f.FeedResp, nil
}

func (f *fakeAPI) Notifications(ctx context.Context, fid uint64, cursor string, types []string) (*neynar.NotificationsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.NotifCalls = append(f.NotifCalls, types)
	f.NotifCursors = append(f.NotifCursors, cursor)
	if f.NotifResp == nil {
		return &neynar.NotificationsResponse{}, nil
	}
	return f.NotifResp, nil
}

func (f *fakeAPI) Conversation(ctx context.Context, hash string) (*neynar.ConversationResponse, error) {
	if f.ConvResp == nil {
		return &neynar.ConversationResponse{}, nil
	}
	return f.ConvResp, nil
}

func (f *fakeAPI) CreateSigner(ctx context.Context) (*neynar.Signer, error) {
	return &neynar.Signer{SignerUUID: "fresh-uuid", Status: "generated"}, nil
}

func (f *fakeAPI) RegisterSignedKey(ctx context.Context, signerUUID string, appFID uint64, deadline int64, signature string) (*neynar.Signer, error) {
	return &neynar.Signer{
		SignerUUID:  signerUUID,
		Status:      "generated",
		ApprovalURL: "https://warpcast/approve/" + signerUUID,
	}, nil
}

func (f *fakeAPI) LookupSigner(ctx context.Context, signerUUID string) (*neynar.Signer, error) {
	if f.LookupResp == nil {
		return nil, errors.New("no lookup response configured")
	}
	return f.LookupResp, nil
}

func (f *fakeAPI) PublishCast(ctx context.Context, req neynar.PublishCastRequest) (*neynar.PublishCastResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PublishedCasts = append(f.PublishedCasts, req)
	if f.PublishErr != nil {
		return nil, f.PublishErr
	}
	return &neynar.PublishCastResponse{Success: true, Cast: neynar.Cast{Hash: "0xnew"}}, nil
}

func (f *fakeAPI) PublishReaction(ctx context.Context, req neynar.PublishReactionRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReactionErr != nil {
		return f.ReactionErr
	}
	f.Reactions = append(f.Reactions, req)
	return nil
}
