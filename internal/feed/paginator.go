package feed

import (
	"context"
	"log"

	"github.com/castbridge/castbridge/internal/cursor"
	"github.com/castbridge/castbridge/internal/neynar"
)

// FeedPaginator turns (fid, cursor) requests into pages of normalized
// feed items. It is stateless per call: one remote request per page, and
// a fresh short token registered only when the remote reports a further
// cursor.
type FeedPaginator struct {
	api neynar.API
	reg *cursor.Registry
}

// NewFeedPaginator creates a feed paginator.
func NewFeedPaginator(api neynar.API, reg *cursor.Registry) *FeedPaginator {
	return &FeedPaginator{api: api, reg: reg}
}

// Page fetches one feed page. An empty opaque cursor fetches the first
// page. Remote failures on this hot path yield an empty page, logged,
// never an error.
func (p *FeedPaginator) Page(ctx context.Context, fid uint64, opaque string) (*Page, error) {
	resp, err := p.api.Feed(ctx, fid, opaque)
	if err != nil {
		log.Printf("feed fetch failed for fid %d: %v", fid, err)
		return &Page{}, nil
	}

	page := &Page{Items: make([]Item, 0, len(resp.Casts))}
	for i := range resp.Casts {
		page.Items = append(page.Items, normalizeCast(&resp.Casts[i]))
	}

	if resp.Next.Cursor != "" {
		token, err := p.reg.Issue(ctx, resp.Next.Cursor, cursor.Context{
			FID:  fid,
			Kind: cursor.KindFeed,
		})
		if err != nil {
			return nil, err
		}
		page.NextToken = token
	}
	return page, nil
}
