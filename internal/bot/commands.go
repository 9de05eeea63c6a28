package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/castbridge/castbridge/internal/feed"
	"github.com/castbridge/castbridge/internal/neynar"
	"github.com/castbridge/castbridge/internal/session"
	"github.com/castbridge/castbridge/internal/signer"
	"github.com/castbridge/castbridge/internal/telegram"
	"github.com/castbridge/castbridge/pkg/observability"
)

const genericErrMsg = "Sorry, something went wrong."

func (b *Bot) handleStart(ctx context.Context, chatID int64) error {
	return b.sender.SendMessage(ctx, chatID,
		"Welcome! Please send your Farcaster FID (numbers only) to get started.", nil)
}

func (b *Bot) handleFeed(ctx context.Context, chatID int64) error {
	sess, err := b.creds.Load(ctx, chatID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return b.sender.SendMessage(ctx, chatID,
				"No FID found. Please set up your account first with /start", nil)
		}
		return err
	}
	if sess.FID == 0 {
		return b.sender.SendMessage(ctx, chatID,
			"No FID found. Please set up your account first with /start", nil)
	}

	if err := b.sender.SendMessage(ctx, chatID, "Fetching your For You feed...", nil); err != nil {
		return err
	}

	page, err := b.feeds.Page(ctx, sess.FID, "")
	if err != nil {
		return err
	}
	if len(page.Items) == 0 && page.NextToken == "" {
		return b.sender.SendMessage(ctx, chatID, "No casts found in your feed.", nil)
	}
	return b.router.SendFeedPage(ctx, chatID, page)
}

func (b *Bot) handleNotifications(ctx context.Context, chatID int64, args string) error {
	sess, err := b.creds.Load(ctx, chatID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return b.sender.SendMessage(ctx, chatID,
				"No FID found. Please set up your account first with /start", nil)
		}
		return err
	}

	var types []string
	if args != "" {
		types = strings.Fields(args)
	}

	page, err := b.notifs.Page(ctx, sess.FID, "", types)
	if err != nil {
		return err
	}
	if len(page.Items) == 0 && page.NextToken == "" {
		return b.sender.SendMessage(ctx, chatID, "No notifications right now.", nil)
	}
	return b.router.SendNotificationPage(ctx, chatID, page)
}

// castRecord is what /cast stores so /replies can find the user's casts.
type castRecord struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	ChannelID string `json:"channel_id,omitempty"`
}

func castRecordKey(chatID int64, hash string) string {
	return "cast:" + strconv.FormatInt(chatID, 10) + ":" + hash
}

func (b *Bot) handleCast(ctx context.Context, chatID int64, text string) error {
	sess, err := b.creds.Load(ctx, chatID)
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return err
	}
	if !sess.CanPublish() {
		return b.sender.SendMessage(ctx, chatID, needSignerMsg, nil)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return b.sender.SendMessage(ctx, chatID,
			"Please include your cast text after /cast\nExample: /cast Hello Farcaster!", nil)
	}

	if err := b.sender.SendMessage(ctx, chatID, "Publishing your cast...", nil); err != nil {
		return err
	}

	resp, err := b.api.PublishCast(ctx, neynar.PublishCastRequest{
		SignerUUID: sess.SignerUUID,
		Text:       text,
	})
	if err != nil {
		log.Printf("publish cast for chat %d: %v", chatID, err)
		return b.sender.SendMessage(ctx, chatID, "Sorry, something went wrong while publishing your cast.", nil)
	}

	b.recordCast(ctx, chatID, resp.Cast.Hash, castRecord{Text: text, Timestamp: time.Now().Unix()})
	return b.sender.SendMessage(ctx, chatID, "✅ Cast published successfully!", nil)
}

func (b *Bot) handleChannelCast(ctx context.Context, chatID int64, args string) error {
	sess, err := b.creds.Load(ctx, chatID)
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return err
	}
	if !sess.CanPublish() {
		return b.sender.SendMessage(ctx, chatID, needSignerMsg, nil)
	}

	args = strings.TrimSpace(args)
	channelID, text, found := strings.Cut(args, " ")
	if !found || strings.TrimSpace(text) == "" {
		return b.sender.SendMessage(ctx, chatID,
			"Please format your command as: /channel_cast channelId your cast text\nExample: /channel_cast art This is my artwork", nil)
	}

	if err := b.sender.SendMessage(ctx, chatID, fmt.Sprintf("Publishing cast to channel %q...", channelID), nil); err != nil {
		return err
	}

	resp, err := b.api.PublishCast(ctx, neynar.PublishCastRequest{
		SignerUUID: sess.SignerUUID,
		Text:       strings.TrimSpace(text),
		ChannelID:  channelID,
	})
	if err != nil {
		log.Printf("publish channel cast for chat %d: %v", chatID, err)
		return b.sender.SendMessage(ctx, chatID, "Sorry, something went wrong while publishing your channel cast.", nil)
	}

	b.recordCast(ctx, chatID, resp.Cast.Hash, castRecord{
		Text: strings.TrimSpace(text), Timestamp: time.Now().Unix(), ChannelID: channelID,
	})
	return b.sender.SendMessage(ctx, chatID, "✅ Channel cast published successfully!", nil)
}

// recordCast remembers a published cast so /replies can look up its
// conversation later. Best effort: a failed write only degrades /replies.
func (b *Bot) recordCast(ctx context.Context, chatID int64, hash string, rec castRecord) {
	if hash == "" {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := b.kv.Set(ctx, castRecordKey(chatID, hash), data, 0); err != nil {
		log.Printf("record cast %s for chat %d: %v", hash, chatID, err)
	}
}

func (b *Bot) handleReplies(ctx context.Context, chatID int64) error {
	sess, err := b.creds.Load(ctx, chatID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return b.sender.SendMessage(ctx, chatID,
				"No FID found. Please set up your account first with /start", nil)
		}
		return err
	}
	if sess.FID == 0 {
		return b.sender.SendMessage(ctx, chatID,
			"No FID found. Please set up your account first with /start", nil)
	}

	keys, err := b.kv.Keys(ctx, "cast:"+strconv.FormatInt(chatID, 10)+":*")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return b.sender.SendMessage(ctx, chatID,
			"You haven't made any casts yet! Use /cast to create some content first.", nil)
	}

	if err := b.sender.SendMessage(ctx, chatID, "Checking replies to your recent casts...", nil); err != nil {
		return err
	}

	found := 0
	for _, key := range keys {
		hash := key[strings.LastIndex(key, ":")+1:]
		conv, err := b.api.Conversation(ctx, hash)
		if err != nil {
			log.Printf("conversation lookup %s: %v", hash, err)
			continue
		}
		for i := range conv.Conversation.Cast.DirectReplies {
			item := feed.Normalize(&conv.Conversation.Cast.DirectReplies[i])
			opts := &telegram.SendOptions{ParseMode: "HTML", Keyboard: castKeyboard(item.Hash)}
			if err := b.sender.SendMessage(ctx, chatID, formatCast(item), opts); err != nil {
				return err
			}
			found++
		}
	}

	if found == 0 {
		return b.sender.SendMessage(ctx, chatID, "No replies to your casts yet.", nil)
	}
	return nil
}

func (b *Bot) handleCheckApproval(ctx context.Context, chatID int64) error {
	state, err := b.signers.CheckApproval(ctx, chatID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, signer.ErrNoSigner) {
			return b.sender.SendMessage(ctx, chatID,
				"You haven't started the connection process yet. Please use /start first.", nil)
		}
		return err
	}

	if state == session.StateApproved {
		return b.sender.SendMessage(ctx, chatID,
			"Your connection is approved! You can use the bot now.", nil)
	}
	return b.sender.SendMessage(ctx, chatID,
		"Your connection isn't approved yet. Please approve in Warpcast and try again.", nil)
}

func (b *Bot) handleApprovalLink(ctx context.Context, chatID int64) error {
	url, state, err := b.signers.ApprovalURL(ctx, chatID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, signer.ErrNoSigner) {
			return b.sender.SendMessage(ctx, chatID,
				"No signer found. Please use /start to set up a new signer.", nil)
		}
		return err
	}

	if state == session.StateApproved {
		return b.sender.SendMessage(ctx, chatID,
			"Your signer is already approved! No need for an approval link.", nil)
	}
	if url == "" {
		return b.sender.SendMessage(ctx, chatID,
			"Sorry, couldn't get the approval URL. You might need a new signer: /reset_signer", nil)
	}

	if err := b.sender.SendMessage(ctx, chatID, "Please approve this signer in Warpcast:", nil); err != nil {
		return err
	}
	return b.sender.SendMessage(ctx, chatID, url, nil)
}

func (b *Bot) handleSigners(ctx context.Context, chatID int64) error {
	sessions, err := b.creds.List(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return b.sender.SendMessage(ctx, chatID, "No users or signers found in the database.", nil)
	}

	for _, sess := range sessions {
		msg := fmt.Sprintf("📝 Session:\nChat ID: %d\nFID: %d\nSigner UUID: %s\nStored state: %s",
			sess.ChatID, sess.FID, sess.SignerUUID, sess.SignerState)

		if sess.SignerUUID != "" {
			remote, err := b.api.LookupSigner(ctx, sess.SignerUUID)
			if err != nil {
				msg += "\n\n❌ Failed to fetch current remote status"
				log.Printf("lookup signer %s: %v", sess.SignerUUID, err)
			} else {
				msg += fmt.Sprintf("\n\n🔄 Remote status: %s\nPublic key: %s", remote.Status, remote.PublicKey)
			}
		}

		if err := b.sender.SendMessage(ctx, chatID, msg, nil); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) handleResetSigner(ctx context.Context, chatID int64) error {
	_, url, err := b.signers.Reset(ctx, chatID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return b.sender.SendMessage(ctx, chatID,
				"No session found. Please use /start first.", nil)
		}
		log.Printf("reset signer for chat %d: %v", chatID, err)
		return b.sender.SendMessage(ctx, chatID,
			"Sorry, something went wrong while resetting your signer. Please try again.", nil)
	}

	if err := b.sender.SendMessage(ctx, chatID, "Signer reset. Please approve the new signer in Warpcast:", nil); err != nil {
		return err
	}
	if err := b.sender.SendMessage(ctx, chatID, url, nil); err != nil {
		return err
	}
	b.startApprovalPoll(chatID)
	return nil
}

// handleLinkFID processes a bare numeric message: link the FID and, if
// the chat has no approved signer, run the full signer setup.
func (b *Bot) handleLinkFID(ctx context.Context, chatID int64, fid uint64) error {
	existing, err := b.creds.Load(ctx, chatID)
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return err
	}

	if existing != nil && existing.SignerUUID != "" {
		state, err := b.signers.CheckApproval(ctx, chatID)
		if err != nil {
			// A failed lookup says nothing about the signer; keep it.
			log.Printf("signer status for chat %d: %v", chatID, err)
			return b.sender.SendMessage(ctx, chatID, "Sorry, something went wrong. Please try again.", nil)
		}
		if state == session.StateApproved {
			existing.FID = fid
			if err := b.creds.Save(ctx, existing); err != nil {
				return err
			}
			return b.sender.SendMessage(ctx, chatID,
				"Updated your FID! You can now use /feed to see your Farcaster feed.", nil)
		}
		// Not approved: fall through to fresh signer creation.
	}

	_, url, err := b.signers.EnsureSigner(ctx, chatID, fid)
	if err != nil {
		log.Printf("signer setup for chat %d: %v", chatID, err)
		return b.sender.SendMessage(ctx, chatID, "Sorry, something went wrong. Please try again.", nil)
	}
	if url == "" {
		return b.sender.SendMessage(ctx, chatID,
			"Sorry, something went wrong while setting up your Farcaster connection.", nil)
	}

	msgs := []string{
		"To get started, I need your approval to interact with Farcaster.",
		"Please click this link to approve in Warpcast:",
		url,
		"I'll keep checking for your approval for a few minutes...",
	}
	for _, msg := range msgs {
		if err := b.sender.SendMessage(ctx, chatID, msg, nil); err != nil {
			return err
		}
	}

	b.startApprovalPoll(chatID)
	return nil
}

// startApprovalPoll launches the bounded background approval check and
// messages the chat once it ends.
func (b *Bot) startApprovalPoll(chatID int64) {
	b.signers.StartPolling(b.runCtx, chatID, func(res signer.PollResult) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		switch {
		case res.State == session.StateApproved:
			observability.RecordPollOutcome("approved")
			_ = b.sender.SendMessage(ctx, chatID,
				"Great! Your connection is approved. You can now use /feed to see your Farcaster feed!", nil)
		case res.State == session.StateRevoked:
			observability.RecordPollOutcome("revoked")
			_ = b.sender.SendMessage(ctx, chatID,
				"Your signer was revoked. Use /reset_signer to set up a new one.", nil)
		case res.Exhausted:
			observability.RecordPollOutcome("exhausted")
			_ = b.sender.SendMessage(ctx, chatID,
				"I haven't detected your approval yet. Approve in Warpcast and run /check_approval when done.", nil)
		}
	})
}
