package connectors

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rendis/tabflow/pkg/schema"
)

// Telegram sends bot messages. The bot is authenticated lazily on first use.
//
// Actions: send_message. Params: chat_id (number, or "@channel"), text,
// parse_mode (optional: Markdown, MarkdownV2, HTML).
type Telegram struct {
	token    string
	endpoint string

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// NewTelegram creates the connector. An empty endpoint uses the public Bot API.
func NewTelegram(token, endpoint string) *Telegram {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	return &Telegram{token: token, endpoint: endpoint}
}

func (t *Telegram) Name() string      { return "telegram" }
func (t *Telegram) Actions() []string { return []string{"send_message"} }

func (t *Telegram) client() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	if t.token == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "telegram: bot token not configured")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "telegram: authenticate bot: %v", err).WithCause(err)
	}
	t.bot = bot
	return bot, nil
}

func (t *Telegram) Invoke(_ context.Context, action string, params map[string]any) (map[string]any, error) {
	if action != "" && action != "send_message" && action != "send" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "telegram: unsupported action %q", action)
	}
	text, err := requireString("telegram", params, "text")
	if err != nil {
		return nil, err
	}

	var msg tgbotapi.MessageConfig
	if channel, ok := params["chat_id"].(string); ok && strings.HasPrefix(channel, "@") {
		msg = tgbotapi.NewMessageToChannel(channel, text)
	} else if chatID, ok := int64Param(params, "chat_id"); ok {
		msg = tgbotapi.NewMessage(chatID, text)
	} else {
		return nil, schema.NewError(schema.ErrCodeValidation, `telegram: missing required param "chat_id"`)
	}
	msg.ParseMode = stringParam(params, "parse_mode", "")

	bot, err := t.client()
	if err != nil {
		return nil, err
	}
	sent, err := bot.Send(msg)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "telegram: send message: %v", err).WithCause(err)
	}
	out := map[string]any{"message_id": sent.MessageID}
	if sent.Chat != nil {
		out["chat_id"] = sent.Chat.ID
	}
	return out, nil
}
