package bot

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/castbridge/castbridge/internal/feed"
	"github.com/castbridge/castbridge/internal/telegram"
)

// formatCast renders a normalized item as the HTML message body used for
// feed casts and cast-bearing notifications.
func formatCast(item feed.Item) string {
	var b strings.Builder

	b.WriteString("<b>" + html.EscapeString(item.AuthorName) + "</b>")
	b.WriteString("\n━━━━━━━━━━\n\n")
	b.WriteString(html.EscapeString(item.Text))
	b.WriteString("\n\n")

	ts := item.Timestamp
	if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
		ts = parsed.Format("15:04:05")
	}
	b.WriteString(fmt.Sprintf("%s • ❤️ %d • 🔄 %d", ts, item.Likes, item.Recasts))
	if item.Replies > 0 {
		b.WriteString(fmt.Sprintf(" • 💬 %d", item.Replies))
	}
	return b.String()
}

// formatNotification renders a notification line. Cast-bearing
// notifications reuse the cast body under a type headline.
func formatNotification(item feed.Item) string {
	headline := map[string]string{
		"follows":  "👤 New follower",
		"recasts":  "🔄 Recasted",
		"likes":    "❤️ Liked",
		"mentions": "📣 Mentioned you",
		"replies":  "💬 Replied",
	}[item.Kind]
	if headline == "" {
		headline = item.Kind
	}

	if item.Hash == "" {
		return fmt.Sprintf("%s • %s", headline, item.Timestamp)
	}
	return headline + "\n\n" + formatCast(item)
}

// castKeyboard builds the Like/Recast/Reply row for a cast.
func castKeyboard(hash string) [][]telegram.Button {
	return [][]telegram.Button{{
		{Text: "❤️ Like", CallbackData: actionLike + ":" + hash},
		{Text: "🔄 Recast", CallbackData: actionRecast + ":" + hash},
		{Text: "💬 Reply", CallbackData: actionReply + ":" + hash},
	}}
}

// loadMoreKeyboard builds the continuation row for a pagination token.
func loadMoreKeyboard(action, token string) [][]telegram.Button {
	return [][]telegram.Button{{
		{Text: "⬇️ Load more", CallbackData: action + ":" + token},
	}}
}
