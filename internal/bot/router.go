package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/castbridge/castbridge/internal/cursor"
	"github.com/castbridge/castbridge/internal/feed"
	"github.com/castbridge/castbridge/internal/neynar"
	"github.com/castbridge/castbridge/internal/session"
	"github.com/castbridge/castbridge/internal/telegram"
	"github.com/castbridge/castbridge/pkg/observability"
)

// Button payload actions. The payload wire format is "<action>:<token>"
// where token is a cast hash or a cursor short token.
const (
	actionLike     = "like"
	actionRecast   = "recast"
	actionReply    = "reply"
	actionLoadMore = "load_more"
	actionNotif    = "notif"
)

const needSignerMsg = "You need an approved signer first. Use /start to set one up."

// Router dispatches inline-button presses to pagination continuation or
// content actions, consulting the credential store for authorization.
type Router struct {
	creds   *session.CredentialStore
	reg     *cursor.Registry
	feeds   *feed.FeedPaginator
	notifs  *feed.NotificationPaginator
	api     neynar.API
	sender  telegram.Sender
	markers *replyMarkers
}

// NewRouter creates an action router.
func NewRouter(
	creds *session.CredentialStore,
	reg *cursor.Registry,
	feeds *feed.FeedPaginator,
	notifs *feed.NotificationPaginator,
	api neynar.API,
	sender telegram.Sender,
	markers *replyMarkers,
) *Router {
	return &Router{
		creds:   creds,
		reg:     reg,
		feeds:   feeds,
		notifs:  notifs,
		api:     api,
		sender:  sender,
		markers: markers,
	}
}

func parsePayload(data string) (action, token string) {
	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 {
		return data, ""
	}
	return parts[0], parts[1]
}

// HandleCallback processes one button press to completion.
func (r *Router) HandleCallback(ctx context.Context, cb *telegram.CallbackQuery) error {
	action, token := parsePayload(cb.Data)
	if cb.Message == nil || token == "" {
		observability.RecordCallbackAction(action, "invalid")
		return r.sender.AnswerCallback(ctx, cb.ID, "Sorry, something went wrong!")
	}
	chatID := cb.Message.Chat.ID

	var err error
	switch action {
	case actionLike, actionRecast:
		err = r.handleReaction(ctx, cb, chatID, action, token)
	case actionReply:
		err = r.handleReplyButton(ctx, cb, chatID, token)
	case actionLoadMore:
		err = r.handleContinue(ctx, cb, chatID, cursor.KindFeed, token)
	case actionNotif:
		err = r.handleContinue(ctx, cb, chatID, cursor.KindNotifications, token)
	default:
		observability.RecordCallbackAction(action, "unknown")
		return r.sender.AnswerCallback(ctx, cb.ID, "Sorry, I don't recognize that button.")
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.RecordCallbackAction(action, status)
	return err
}

// handleReaction publishes a like or recast. The signer check happens
// before any remote call; the remote independently rejecting the signer
// is fatal for this action only.
func (r *Router) handleReaction(ctx context.Context, cb *telegram.CallbackQuery, chatID int64, action, castHash string) error {
	sess, err := r.creds.Load(ctx, chatID)
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return err
	}
	if !sess.CanPublish() {
		return r.sender.AnswerCallback(ctx, cb.ID, needSignerMsg)
	}

	if err := r.api.PublishReaction(ctx, neynar.PublishReactionRequest{
		SignerUUID:   sess.SignerUUID,
		ReactionType: action,
		Target:       castHash,
	}); err != nil {
		log.Printf("publish %s for chat %d: %v", action, chatID, err)
		return r.sender.AnswerCallback(ctx, cb.ID, "Sorry, something went wrong!")
	}

	toast := "Cast liked! ❤️"
	if action == actionRecast {
		toast = "Cast recasted! 🔄"
	}
	return r.sender.AnswerCallback(ctx, cb.ID, toast)
}

// handleReplyButton only marks the pending reply and prompts for text;
// the publish is deferred to the next free-text message from this chat.
// No remote call happens here.
func (r *Router) handleReplyButton(ctx context.Context, cb *telegram.CallbackQuery, chatID int64, castHash string) error {
	sess, err := r.creds.Load(ctx, chatID)
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return err
	}
	if !sess.CanPublish() {
		return r.sender.AnswerCallback(ctx, cb.ID, needSignerMsg)
	}

	if err := r.markers.Set(ctx, chatID, castHash); err != nil {
		return err
	}
	if err := r.sender.AnswerCallback(ctx, cb.ID, "Send your reply as a message!"); err != nil {
		return err
	}
	return r.sender.SendMessage(ctx, chatID, "Reply to this cast with your message:", &telegram.SendOptions{ForceReply: true})
}

// handleContinue resolves and consumes a pagination token, then replays
// the recorded query from the recovered cursor. A stale token is reported
// distinctly and touches no remote API.
func (r *Router) handleContinue(ctx context.Context, cb *telegram.CallbackQuery, chatID int64, kind cursor.QueryKind, token string) error {
	opaque, qctx, err := r.reg.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, cursor.ErrExpired) {
			observability.RecordCursorExpired()
			if err := r.sender.AnswerCallback(ctx, cb.ID, "This link has expired."); err != nil {
				return err
			}
			return r.sender.SendMessage(ctx, chatID,
				"That page link has expired. Use /feed or /notifications to start over.", nil)
		}
		return err
	}
	// Kind is checked before the token is consumed so a misrouted payload
	// doesn't burn a token that a correctly routed press could still use.
	if qctx.Kind != kind {
		return fmt.Errorf("cursor token kind mismatch: have %s, want %s", qctx.Kind, kind)
	}
	if err := r.reg.Consume(ctx, token); err != nil {
		return err
	}

	if err := r.sender.AnswerCallback(ctx, cb.ID, ""); err != nil {
		return err
	}

	switch kind {
	case cursor.KindFeed:
		page, err := r.feeds.Page(ctx, qctx.FID, opaque)
		if err != nil {
			return err
		}
		return r.SendFeedPage(ctx, chatID, page)
	default:
		page, err := r.notifs.Page(ctx, qctx.FID, opaque, qctx.Types)
		if err != nil {
			return err
		}
		return r.SendNotificationPage(ctx, chatID, page)
	}
}

// SendFeedPage delivers a feed page: one message per cast with action
// buttons, then either a load-more button or a terminal notice.
func (r *Router) SendFeedPage(ctx context.Context, chatID int64, page *feed.Page) error {
	for _, item := range page.Items {
		opts := &telegram.SendOptions{ParseMode: "HTML", Keyboard: castKeyboard(item.Hash)}
		if item.AuthorPfp != "" {
			if err := r.sender.SendPhoto(ctx, chatID, item.AuthorPfp, formatCast(item), opts); err == nil {
				continue
			}
		}
		if err := r.sender.SendMessage(ctx, chatID, formatCast(item), opts); err != nil {
			return err
		}
	}

	if page.NextToken != "" {
		observability.RecordCursorIssued()
		return r.sender.SendMessage(ctx, chatID, "More casts available:", &telegram.SendOptions{
			Keyboard: loadMoreKeyboard(actionLoadMore, page.NextToken),
		})
	}
	if len(page.Items) == 0 {
		return r.sender.SendMessage(ctx, chatID, "No more casts in your feed.", nil)
	}
	return nil
}

// SendNotificationPage delivers a notification page.
func (r *Router) SendNotificationPage(ctx context.Context, chatID int64, page *feed.Page) error {
	for _, item := range page.Items {
		opts := &telegram.SendOptions{ParseMode: "HTML"}
		if item.Hash != "" {
			opts.Keyboard = castKeyboard(item.Hash)
		}
		if err := r.sender.SendMessage(ctx, chatID, formatNotification(item), opts); err != nil {
			return err
		}
	}

	if page.NextToken != "" {
		observability.RecordCursorIssued()
		return r.sender.SendMessage(ctx, chatID, "More notifications available:", &telegram.SendOptions{
			Keyboard: loadMoreKeyboard(actionNotif, page.NextToken),
		})
	}
	if len(page.Items) == 0 {
		return r.sender.SendMessage(ctx, chatID, "No more notifications.", nil)
	}
	return nil
}
