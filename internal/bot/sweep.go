package bot

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/castbridge/castbridge/pkg/observability"
)

// StartJobs schedules the background jobs: the periodic feed push to
// approved sessions and the all-sessions signer-state sweep. Both run
// independently of inbound handling and never block it.
func (b *Bot) StartJobs(ctx context.Context, feedSpec, sweepSpec string) (*cron.Cron, error) {
	c := cron.New()

	if _, err := c.AddFunc(feedSpec, func() { b.pushFeeds(ctx) }); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc(sweepSpec, func() { b.sweepSigners(ctx) }); err != nil {
		return nil, err
	}

	c.Start()
	return c, nil
}

// pushFeeds sends the first feed page to every approved session.
func (b *Bot) pushFeeds(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 4*time.Minute)
	defer cancel()

	sessions, err := b.creds.List(ctx)
	if err != nil {
		log.Printf("feed push: list sessions: %v", err)
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, sess := range sessions {
		if !sess.CanPublish() || sess.FID == 0 {
			continue
		}
		sess := sess
		g.Go(func() error {
			page, err := b.feeds.Page(ctx, sess.FID, "")
			if err != nil || len(page.Items) == 0 {
				return nil
			}
			if err := b.sender.SendMessage(ctx, sess.ChatID, "🔄 New casts from your feed:", nil); err != nil {
				log.Printf("feed push to chat %d: %v", sess.ChatID, err)
				return nil
			}
			if err := b.router.SendFeedPage(ctx, sess.ChatID, page); err != nil {
				log.Printf("feed push to chat %d: %v", sess.ChatID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// sweepSigners reconciles every cached signer state with the remote
// service and refreshes the session gauge.
func (b *Bot) sweepSigners(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 4*time.Minute)
	defer cancel()

	if sessions, err := b.creds.List(ctx); err == nil {
		observability.SetActiveSessions(len(sessions))
	}

	if err := b.signers.SweepAll(ctx); err != nil {
		log.Printf("signer sweep: %v", err)
	}
}
