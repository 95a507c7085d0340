package slack

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	perrors "github.com/p-blackswan/inactivity-agent/internal/errors"
	"github.com/p-blackswan/inactivity-agent/internal/notify"
)

// Poster delivers rendered messages through the Web API.
type Poster struct {
	api    BotAPI
	logger zerolog.Logger
}

// NewPoster creates a Poster.
func NewPoster(api BotAPI, logger zerolog.Logger) *Poster {
	return &Poster{
		api:    api,
		logger: logger.With().Str("component", "slack.poster").Logger(),
	}
}

// ChannelWritable reports whether the bot can post in channelID: the
// channel exists, is not archived and the bot is a member. A missing
// channel is reported as not writable rather than as an error.
func (p *Poster) ChannelWritable(ctx context.Context, channelID string) (bool, error) {
	ch, err := p.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		err = apiError("conversations.info", err)
		if errors.Is(err, perrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if ch.IsArchived {
		return false, nil
	}
	return ch.IsMember || ch.IsIM, nil
}

// OpenDirect opens (or reuses) the DM channel with userID.
func (p *Poster) OpenDirect(ctx context.Context, userID string) (string, error) {
	ch, _, _, err := p.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users:    []string{userID},
		ReturnIM: true,
	})
	if err != nil {
		return "", apiError("conversations.open", err)
	}
	if ch == nil || ch.ID == "" {
		return "", fmt.Errorf("no DM channel for %s: %w", userID, perrors.ErrNotFound)
	}
	return ch.ID, nil
}

// Post sends msg to channelID with its plain-text fallback.
func (p *Poster) Post(ctx context.Context, channelID string, msg notify.Message) error {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if len(msg.Blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(msg.Blocks...))
	}
	if _, _, err := p.api.PostMessageContext(ctx, channelID, opts...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return apiError("chat.postMessage", err)
	}
	return nil
}
