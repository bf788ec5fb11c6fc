package connectors

import (
	"context"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/rendis/tabflow/pkg/schema"
)

// Discord posts channel messages through the REST API; no gateway connection
// is opened.
//
// Actions: send_message (params channel_id, content), send_embed (params
// channel_id, title, description, url).
type Discord struct {
	session *discordgo.Session
}

// NewDiscord creates the connector with a bot token. A non-nil client
// replaces the REST HTTP client.
func NewDiscord(token string, client *http.Client) (*Discord, error) {
	if token == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "discord: bot token not configured")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "discord: %v", err).WithCause(err)
	}
	if client != nil {
		s.Client = client
	}
	return &Discord{session: s}, nil
}

func (d *Discord) Name() string      { return "discord" }
func (d *Discord) Actions() []string { return []string{"send_message", "send_embed"} }

func (d *Discord) Invoke(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	channelID, err := requireString("discord", params, "channel_id")
	if err != nil {
		return nil, err
	}

	var msg *discordgo.Message
	switch action {
	case "", "send_message", "send":
		content, err := requireString("discord", params, "content")
		if err != nil {
			return nil, err
		}
		msg, err = d.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeHandler, "discord: send message: %v", err).WithCause(err)
		}
	case "send_embed":
		embed := &discordgo.MessageEmbed{
			Title:       stringParam(params, "title", ""),
			Description: stringParam(params, "description", ""),
			URL:         stringParam(params, "url", ""),
		}
		if embed.Title == "" && embed.Description == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "discord: embed needs a title or description")
		}
		msg, err = d.session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx))
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeHandler, "discord: send embed: %v", err).WithCause(err)
		}
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "discord: unsupported action %q", action)
	}
	return map[string]any{"message_id": msg.ID, "channel_id": msg.ChannelID}, nil
}
