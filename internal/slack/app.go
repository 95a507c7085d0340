// Package slack connects the inactivity pipeline to a Slack workspace over
// Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	perrors "github.com/p-blackswan/inactivity-agent/internal/errors"
)

// BotAPI abstracts the Slack API client for testing.
type BotAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	PostEphemeralContext(ctx context.Context, channelID, userID string, options ...slack.MsgOption) (string, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	GetUsersContext(ctx context.Context, options ...slack.GetUsersOption) ([]slack.User, error)
	GetUserGroupsContext(ctx context.Context, options ...slack.GetUserGroupsOption) ([]slack.UserGroup, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
}

// App is the Slack bot application using Socket Mode.
type App struct {
	api     *slack.Client
	socket  *socketmode.Client
	logger  zerolog.Logger
	handler *Handler
}

// NewClient creates the Web API client shared by the app and its
// collaborators.
func NewClient(botToken, appToken string) *slack.Client {
	return slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)
}

// NewApp creates a new Slack bot app around api.
func NewApp(api *slack.Client, logger zerolog.Logger, handler *Handler) *App {
	socket := socketmode.New(api)
	handler.SetAcker(socket)

	return &App{
		api:     api,
		socket:  socket,
		logger:  logger.With().Str("component", "slack").Logger(),
		handler: handler,
	}
}

// Run starts the Socket Mode event loop. Blocks until context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info().Msg("starting Slack Socket Mode connection")

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-a.socket.Events:
				if !ok {
					return
				}
				a.handler.HandleEvent(ctx, evt)
			}
		}
	}()

	if err := a.socket.RunContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("socket mode error: %w", err)
	}
	a.logger.Info().Msg("Slack Socket Mode stopped")
	return nil
}

// apiError classifies a Web API failure into the shared sentinels.
func apiError(method string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := perrors.NewAPIError("slack", method, err)

	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return fmt.Errorf("%w (retry after %s): %w", perrors.ErrRateLimit, rl.RetryAfter, wrapped)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", perrors.ErrTimeout, wrapped)
	}

	switch code := err.Error(); {
	case strings.Contains(code, "not_found"):
		return fmt.Errorf("%w: %w", perrors.ErrNotFound, wrapped)
	case strings.Contains(code, "not_in_channel"),
		strings.Contains(code, "is_archived"),
		strings.Contains(code, "restricted_action"),
		strings.Contains(code, "missing_scope"),
		strings.Contains(code, "cannot_dm_bot"):
		return fmt.Errorf("%w: %w", perrors.ErrDenied, wrapped)
	case strings.Contains(code, "internal_error"),
		strings.Contains(code, "service_unavailable"),
		strings.Contains(code, "fatal_error"):
		return fmt.Errorf("%w: %w", perrors.ErrUnavailable, wrapped)
	}
	return wrapped
}
