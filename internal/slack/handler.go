package slack

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/p-blackswan/inactivity-agent/internal/activity"
	"github.com/p-blackswan/inactivity-agent/internal/commands"
	"github.com/p-blackswan/inactivity-agent/internal/models"
	"github.com/p-blackswan/inactivity-agent/internal/requestid"
)

// Acker acknowledges Socket Mode envelopes. *socketmode.Client satisfies it.
type Acker interface {
	Ack(req socketmode.Request, payload ...interface{})
}

// Observer receives activity events. *activity.Tracker satisfies it.
type Observer interface {
	Observe(ctx context.Context, ev activity.Event) bool
}

// Executor runs slash commands. *commands.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, inv commands.Invocation) commands.Reply
}

// AccountChecker tells automated accounts apart. *Directory satisfies it.
type AccountChecker interface {
	IsAutomated(ctx context.Context, userID string) bool
}

// Handler processes Socket Mode events: workspace activity goes to the
// Observer and slash commands to the Executor.
type Handler struct {
	api        BotAPI
	acker      Acker
	observer   Observer
	accounts   AccountChecker
	executor   Executor
	middleware *Middleware
	command    string
	logger     zerolog.Logger
	now        func() time.Time

	wg sync.WaitGroup
}

// NewHandler creates a new event handler for the slash command named
// command.
func NewHandler(api BotAPI, observer Observer, accounts AccountChecker, executor Executor, middleware *Middleware, command string, logger zerolog.Logger) *Handler {
	return &Handler{
		api:        api,
		observer:   observer,
		accounts:   accounts,
		executor:   executor,
		middleware: middleware,
		command:    command,
		logger:     logger.With().Str("component", "slack.handler").Logger(),
		now:        time.Now,
	}
}

// SetAcker sets the Socket Mode client used to acknowledge envelopes.
func (h *Handler) SetAcker(a Acker) {
	h.acker = a
}

// Wait blocks until in-flight slash commands finish.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// HandleEvent routes Socket Mode events to the appropriate handler.
func (h *Handler) HandleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		h.handleEventsAPI(ctx, evt)
	case socketmode.EventTypeSlashCommand:
		h.handleSlashCommand(ctx, evt)
	case socketmode.EventTypeConnecting:
		h.logger.Info().Msg("connecting to Slack")
	case socketmode.EventTypeConnected:
		h.logger.Info().Msg("connected to Slack")
	case socketmode.EventTypeConnectionError:
		h.logger.Warn().Interface("data", evt.Data).Msg("Slack connection error")
	default:
		h.logger.Debug().Str("type", string(evt.Type)).Msg("unhandled event type")
	}
}

func (h *Handler) ack(evt socketmode.Event, payload ...interface{}) {
	if h.acker != nil && evt.Request != nil {
		h.acker.Ack(*evt.Request, payload...)
	}
}

func (h *Handler) handleEventsAPI(ctx context.Context, evt socketmode.Event) {
	// Slack requires the ack within 3 seconds.
	h.ack(evt)

	eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		h.logger.Warn().Str("type", string(evt.Type)).Msg("failed to cast events_api data")
		return
	}
	if eventsAPIEvent.Type != slackevents.CallbackEvent {
		return
	}
	if ev, ok := ToActivity(eventsAPIEvent, h.now()); ok {
		if !ev.Automated && h.accounts != nil {
			ev.Automated = h.accounts.IsAutomated(ctx, ev.MemberID)
		}
		h.observer.Observe(ctx, ev)
	}
}

// humanMessageSubtypes are message subtypes a member posts themselves.
// Edits, deletions, joins and bot subtypes are left out.
var humanMessageSubtypes = map[string]bool{
	"":                 true,
	"file_share":       true,
	"thread_broadcast": true,
	"me_message":       true,
}

// ToActivity maps a callback event onto an activity event. User messages
// (plain, file shares, thread broadcasts and /me), added reactions and
// channel joins count; edits, deletions and other subtypes do not.
func ToActivity(e slackevents.EventsAPIEvent, now time.Time) (activity.Event, bool) {
	ev := activity.Event{SpaceID: e.TeamID, At: now}
	switch inner := e.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if inner.User == "" || !humanMessageSubtypes[inner.SubType] {
			return activity.Event{}, false
		}
		ev.MemberID = inner.User
		ev.Kind = models.KindMessage
		ev.Automated = inner.BotID != ""
		if at, ok := ParseTimestamp(inner.TimeStamp); ok {
			ev.At = at
		}
	case *slackevents.ReactionAddedEvent:
		if inner.User == "" {
			return activity.Event{}, false
		}
		ev.MemberID = inner.User
		ev.Kind = models.KindReaction
		if at, ok := ParseTimestamp(inner.EventTimestamp); ok {
			ev.At = at
		}
	case *slackevents.MemberJoinedChannelEvent:
		if inner.User == "" {
			return activity.Event{}, false
		}
		ev.MemberID = inner.User
		ev.Kind = models.KindPresence
		if ev.SpaceID == "" {
			ev.SpaceID = inner.Team
		}
	default:
		return activity.Event{}, false
	}
	if ev.SpaceID == "" {
		return activity.Event{}, false
	}
	return ev, true
}

// ParseTimestamp converts a Slack "seconds.micros" timestamp.
func ParseTimestamp(ts string) (time.Time, bool) {
	if ts == "" {
		return time.Time{}, false
	}
	secs, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(secs, 10, 64)
	if err != nil || s <= 0 {
		return time.Time{}, false
	}
	var nanos int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		n, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		for i := len(frac); i < 9; i++ {
			n *= 10
		}
		nanos = n
	}
	return time.Unix(s, nanos).UTC(), true
}

func (h *Handler) handleSlashCommand(ctx context.Context, evt socketmode.Event) {
	cmd, ok := evt.Data.(slack.SlashCommand)
	if !ok {
		h.ack(evt)
		h.logger.Warn().Msg("failed to cast slash command data")
		return
	}
	if h.command != "" && cmd.Command != h.command {
		h.ack(evt)
		h.logger.Debug().Str("command", cmd.Command).Msg("ignoring foreign slash command")
		return
	}

	if h.middleware != nil {
		if ok, wait := h.middleware.Admit(cmd.TeamID, cmd.UserID); !ok {
			h.ack(evt, map[string]interface{}{
				"response_type": "ephemeral",
				"text":          throttledText(wait),
			})
			return
		}
	}
	h.ack(evt)

	ctx, id := requestid.New(ctx)
	log := h.logger.With().Str("request_id", id).Str("user", cmd.UserID).Logger()
	log.Info().Str("text", cmd.Text).Msg("slash command received")

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		reply := h.executor.Execute(ctx, commands.Invocation{
			SpaceID:   cmd.TeamID,
			UserID:    cmd.UserID,
			ChannelID: cmd.ChannelID,
			Text:      cmd.Text,
		})
		h.reply(ctx, log, cmd, reply)
	}()
}

func (h *Handler) reply(ctx context.Context, log zerolog.Logger, cmd slack.SlashCommand, reply commands.Reply) {
	opts := []slack.MsgOption{slack.MsgOptionText(reply.Text, false)}
	if len(reply.Blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(reply.Blocks...))
	}
	if _, err := h.api.PostEphemeralContext(ctx, cmd.ChannelID, cmd.UserID, opts...); err != nil {
		// Ephemerals fail in channels the bot is not in; fall back to a DM.
		log.Debug().Err(apiError("chat.postEphemeral", err)).Msg("ephemeral reply failed, trying DM")
		if _, _, err := h.api.PostMessageContext(ctx, cmd.UserID, opts...); err != nil {
			log.Error().Err(apiError("chat.postMessage", err)).Msg("failed to deliver command reply")
		}
	}
}
