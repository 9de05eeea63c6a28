package bot

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/castbridge/castbridge/internal/cursor"
	"github.com/castbridge/castbridge/internal/feed"
	"github.com/castbridge/castbridge/internal/neynar"
	"github.com/castbridge/castbridge/internal/session"
	"github.com/castbridge/castbridge/internal/signer"
	"github.com/castbridge/castbridge/internal/store"
	"github.com/castbridge/castbridge/internal/telegram"
	"github.com/castbridge/castbridge/pkg/observability"
)

// UpdateSource produces inbound chat updates. *telegram.Client satisfies
// it; tests feed updates directly.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

// Bot wires the transport to the command handlers and the action router.
// Updates for the same chat are processed to completion in arrival order:
// Run feeds each chat's updates through a FIFO queue drained by a single
// goroutine, so a marker written by one update is visible to the next.
// Different chats run concurrently. The key-value store is the only state
// shared between them.
type Bot struct {
	source  UpdateSource
	sender  telegram.Sender
	kv      store.KV
	creds   *session.CredentialStore
	signers *signer.Manager
	feeds   *feed.FeedPaginator
	notifs  *feed.NotificationPaginator
	api     neynar.API
	router  *Router
	markers *replyMarkers

	runCtx     context.Context
	chatLocks  sync.Map // int64 -> *sync.Mutex
	chatQueues sync.Map // int64 -> *chatQueue
	wg         sync.WaitGroup
}

// chatQueue is one chat's pending updates plus whether a drainer goroutine
// is currently running for it.
type chatQueue struct {
	mu      sync.Mutex
	pending []*telegram.Update
	running bool
}

// Deps carries the collaborators a Bot needs.
type Deps struct {
	Source   UpdateSource
	Sender   telegram.Sender
	KV       store.KV
	Creds    *session.CredentialStore
	Signers  *signer.Manager
	Registry *cursor.Registry
	API      neynar.API
}

// New creates a Bot.
func New(deps Deps) *Bot {
	feeds := feed.NewFeedPaginator(deps.API, deps.Registry)
	notifs := feed.NewNotificationPaginator(deps.API, deps.Registry)
	markers := &replyMarkers{kv: deps.KV}

	b := &Bot{
		source:  deps.Source,
		sender:  deps.Sender,
		kv:      deps.KV,
		creds:   deps.Creds,
		signers: deps.Signers,
		feeds:   feeds,
		notifs:  notifs,
		api:     deps.API,
		markers: markers,
		runCtx:  context.Background(),
	}
	b.router = NewRouter(deps.Creds, deps.Registry, feeds, notifs, deps.API, deps.Sender, markers)
	return b
}

// Run long-polls for updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.runCtx = ctx

	var offset int64
	for {
		select {
		case <-ctx.Done():
			b.wg.Wait()
			b.signers.Wait()
			return ctx.Err()
		default:
		}

		updates, err := b.source.GetUpdates(ctx, offset, 30*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Printf("get updates: %v", err)
			time.Sleep(3 * time.Second)
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			update := u
			b.enqueue(ctx, &update)
		}
	}
}

// enqueue appends an update to its chat's queue and starts a drainer for
// that chat if none is running. A mutex alone gives exclusion but not
// ordering; the single drainer per chat is what keeps a batch's updates
// in arrival order.
func (b *Bot) enqueue(ctx context.Context, u *telegram.Update) {
	chatID := chatOf(u)
	if chatID == 0 {
		return
	}

	qAny, _ := b.chatQueues.LoadOrStore(chatID, &chatQueue{})
	q := qAny.(*chatQueue)

	q.mu.Lock()
	q.pending = append(q.pending, u)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				q.running = false
				q.mu.Unlock()
				return
			}
			next := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()

			b.handleUpdate(ctx, next)
		}
	}()
}

// chatOf extracts the chat an update belongs to, 0 if none.
func chatOf(u *telegram.Update) int64 {
	switch {
	case u.Message != nil:
		return u.Message.Chat.ID
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil:
		return u.CallbackQuery.Message.Chat.ID
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		return u.CallbackQuery.From.ID
	}
	return 0
}

// HandleUpdate processes one update to completion, serialized per chat.
// Exported for tests; Run reaches it through the per-chat queues.
func (b *Bot) HandleUpdate(ctx context.Context, u *telegram.Update) {
	b.handleUpdate(ctx, u)
}

func (b *Bot) handleUpdate(ctx context.Context, u *telegram.Update) {
	chatID := chatOf(u)
	if chatID == 0 {
		return
	}

	lockAny, _ := b.chatLocks.LoadOrStore(chatID, &sync.Mutex{})
	lock := lockAny.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	kind := "message"
	if u.CallbackQuery != nil {
		kind = "callback"
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic handling %s for chat %d: %v", kind, chatID, r)
			_ = b.sender.SendMessage(ctx, chatID, genericErrMsg, nil)
		}
		observability.RecordUpdateHandling(kind, time.Since(start))
	}()

	var err error
	switch {
	case u.CallbackQuery != nil:
		err = b.router.HandleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.Text != "":
		err = b.handleMessage(ctx, u.Message)
	}
	if err != nil {
		log.Printf("handling %s for chat %d: %v", kind, chatID, err)
		_ = b.sender.SendMessage(ctx, chatID, genericErrMsg, nil)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) error {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	if strings.HasPrefix(text, "/") {
		return b.handleCommand(ctx, chatID, text)
	}
	return b.handleFreeText(ctx, chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, chatID int64, text string) error {
	name, args, _ := strings.Cut(text, " ")
	name = strings.TrimPrefix(name, "/")
	// Strip the @botname suffix used in group chats.
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}
	args = strings.TrimSpace(args)

	// Any command interrupts a pending reply.
	if err := b.markers.Clear(ctx, chatID); err != nil {
		log.Printf("clear reply marker for chat %d: %v", chatID, err)
	}

	observability.RecordCommand(name)

	switch name {
	case "start":
		return b.handleStart(ctx, chatID)
	case "feed":
		return b.handleFeed(ctx, chatID)
	case "notifications":
		return b.handleNotifications(ctx, chatID, args)
	case "cast":
		return b.handleCast(ctx, chatID, args)
	case "channel_cast":
		return b.handleChannelCast(ctx, chatID, args)
	case "replies":
		return b.handleReplies(ctx, chatID)
	case "check_approval":
		return b.handleCheckApproval(ctx, chatID)
	case "approval_link":
		return b.handleApprovalLink(ctx, chatID)
	case "signers":
		return b.handleSigners(ctx, chatID)
	case "reset_signer":
		return b.handleResetSigner(ctx, chatID)
	default:
		return b.sender.SendMessage(ctx, chatID, "Unknown command. Try /start, /feed or /notifications.", nil)
	}
}

// handleFreeText handles non-command messages: a pending reply publishes
// to its marked cast, a bare number links a FID, anything else gets a
// hint.
func (b *Bot) handleFreeText(ctx context.Context, chatID int64, text string) error {
	target, err := b.markers.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if target != "" {
		return b.publishPendingReply(ctx, chatID, target, text)
	}

	if fid, err := strconv.ParseUint(text, 10, 64); err == nil && fid > 0 {
		return b.handleLinkFID(ctx, chatID, fid)
	}
	return b.sender.SendMessage(ctx, chatID, "Please send a valid FID (numbers only)", nil)
}

// publishPendingReply publishes the free text as a reply to the marked
// cast. The marker is cleared whether or not the publish succeeds: a
// failed reply should not swallow the chat's next message too.
func (b *Bot) publishPendingReply(ctx context.Context, chatID int64, target, text string) error {
	defer func() {
		if err := b.markers.Clear(ctx, chatID); err != nil {
			log.Printf("clear reply marker for chat %d: %v", chatID, err)
		}
	}()

	sess, err := b.creds.Load(ctx, chatID)
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return err
	}
	if !sess.CanPublish() {
		return b.sender.SendMessage(ctx, chatID, needSignerMsg, nil)
	}

	if _, err := b.api.PublishCast(ctx, neynar.PublishCastRequest{
		SignerUUID: sess.SignerUUID,
		Text:       text,
		Parent:     target,
	}); err != nil {
		log.Printf("publish reply for chat %d: %v", chatID, err)
		return b.sender.SendMessage(ctx, chatID, "Sorry, something went wrong while publishing your reply.", nil)
	}
	return b.sender.SendMessage(ctx, chatID, "✅ Reply published!", nil)
}
