package feed

import (
	"context"
	"log"

	"github.com/castbridge/castbridge/internal/cursor"
	"github.com/castbridge/castbridge/internal/neynar"
)

// DefaultNotificationTypes is the full type set queried when the user
// requests no filter, or when every requested filter is unrecognized.
var DefaultNotificationTypes = []string{"follows", "recasts", "likes", "mentions", "replies"}

var knownNotificationTypes = map[string]bool{
	"follows":  true,
	"recasts":  true,
	"likes":    true,
	"mentions": true,
	"replies":  true,
}

// ValidateTypes drops unrecognized type tokens from the requested set.
// If nothing valid remains, the full default set is returned instead: a
// typo yields "all notifications", never a guaranteed-empty query.
func ValidateTypes(requested []string) []string {
	valid := make([]string, 0, len(requested))
	for _, t := range requested {
		if knownNotificationTypes[t] {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		return DefaultNotificationTypes
	}
	return valid
}

// NotificationPaginator pages a FID's notifications with optional type
// filters. The filter set travels inside the cursor context so a later
// continuation replays the identical query.
type NotificationPaginator struct {
	api neynar.API
	reg *cursor.Registry
}

// NewNotificationPaginator creates a notification paginator.
func NewNotificationPaginator(api neynar.API, reg *cursor.Registry) *NotificationPaginator {
	return &NotificationPaginator{api: api, reg: reg}
}

// Page fetches one notification page. Types are validated here; callers
// pass the raw user-supplied set. Remote failures yield an empty page.
func (p *NotificationPaginator) Page(ctx context.Context, fid uint64, opaque string, types []string) (*Page, error) {
	types = ValidateTypes(types)

	resp, err := p.api.Notifications(ctx, fid, opaque, types)
	if err != nil {
		log.Printf("notifications fetch failed for fid %d: %v", fid, err)
		return &Page{}, nil
	}

	page := &Page{Items: make([]Item, 0, len(resp.Notifications))}
	for i := range resp.Notifications {
		n := &resp.Notifications[i]
		var item Item
		if n.Cast != nil {
			item = normalizeCast(n.Cast)
		}
		item.Kind = n.Type
		if item.Timestamp == "" {
			item.Timestamp = n.Timestamp
		}
		page.Items = append(page.Items, item)
	}

	if resp.Next.Cursor != "" {
		token, err := p.reg.Issue(ctx, resp.Next.Cursor, cursor.Context{
			FID:   fid,
			Kind:  cursor.KindNotifications,
			Types: types,
		})
		if err != nil {
			return nil, err
		}
		page.NextToken = token
	}
	return page, nil
}
