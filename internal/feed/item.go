package feed

import "github.com/castbridge/castbridge/internal/neynar"

// Item is the transport-agnostic shape a cast or notification is reduced
// to before formatting. Fields are always populated; absent remote fields
// become zero values here and go no further.
type Item struct {
	Hash       string
	AuthorName string
	AuthorPfp  string
	Text       string
	Timestamp  string
	Likes      int
	Recasts    int
	Replies    int
	MediaURL   string
	// Kind is the notification type for notification items, empty for
	// feed items.
	Kind string
}

// Normalize reduces a raw API cast to an Item.
func Normalize(c *neynar.Cast) Item {
	return normalizeCast(c)
}

// normalizeCast reduces a raw API cast to an Item.
func normalizeCast(c *neynar.Cast) Item {
	name := c.Author.DisplayName
	if name == "" {
		name = c.Author.Username
	}

	media := ""
	if len(c.Embeds) > 0 {
		media = c.Embeds[0].URL
	}

	return Item{
		Hash:       c.Hash,
		AuthorName: name,
		AuthorPfp:  c.Author.PfpURL,
		Text:       c.Text,
		Timestamp:  c.Timestamp,
		Likes:      c.Reactions.LikesCount,
		Recasts:    c.Reactions.RecastsCount,
		Replies:    c.Replies.Count,
		MediaURL:   media,
	}
}

// Page is one page of normalized items. NextToken is empty when the
// remote reported no further cursor; that is the normal terminal state.
type Page struct {
	Items     []Item
	NextToken string
}
