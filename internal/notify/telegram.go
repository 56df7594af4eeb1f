package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender posts marketplace notifications to a Telegram chat through
// the Bot API.
type TelegramSender struct {
	base   string
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		base:   telegramAPI,
		token:  token,
		chatID: chatID,
		client: newHTTPClient(),
	}
}

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// Send calls sendMessage. Title and message are HTML-escaped so addresses
// and reason codes containing markup characters survive intact.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.base, t.token)
	return postJSON(ctx, t.client, t.Name(), url, telegramMessage{
		ChatID:                t.chatID,
		Text:                  fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(title), html.EscapeString(message)),
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	}, nil)
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
