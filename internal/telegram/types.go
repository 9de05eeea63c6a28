package telegram

// Wire types for the Telegram Bot API, limited to the fields the bot
// reads and writes.

// User identifies a Telegram account.
type User struct {
	ID int64 `json:"id"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// Message is an inbound or outbound chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
}

// CallbackQuery is an inline-keyboard button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    *User    `json:"from"`
	Message *Message `json:"message"`
	Data    string   `json:"data"`
}

// Update is one entry of getUpdates.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

// Button is one inline-keyboard button. CallbackData is capped at 64
// bytes by the Bot API; that cap is why pagination cursors travel as
// short tokens.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// SendOptions are the optional knobs on outbound messages.
type SendOptions struct {
	ParseMode  string
	Keyboard   [][]Button
	ForceReply bool
}

type inlineKeyboardMarkup struct {
	InlineKeyboard [][]Button `json:"inline_keyboard"`
}

type forceReplyMarkup struct {
	ForceReply bool `json:"force_reply"`
}
