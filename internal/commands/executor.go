package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	perrors "github.com/p-blackswan/inactivity-agent/internal/errors"
	"github.com/p-blackswan/inactivity-agent/internal/models"
	"github.com/p-blackswan/inactivity-agent/internal/monitor"
	"github.com/p-blackswan/inactivity-agent/internal/policy"
)

// PolicyStore is the subset of *policy.Store the commands mutate.
type PolicyStore interface {
	Current() models.Policy
	Update(ctx context.Context, u policy.Update) (models.Policy, []string, error)
	AddExcludedMember(ctx context.Context, id string) (policy.ExclusionResult, error)
	RemoveExcludedMember(ctx context.Context, id string) (policy.ExclusionResult, error)
	AddExcludedRole(ctx context.Context, id string) (policy.ExclusionResult, error)
	RemoveExcludedRole(ctx context.Context, id string) (policy.ExclusionResult, error)
}

// ActivityStore is the subset of *activity.Store the commands use.
type ActivityStore interface {
	ResetAll(ctx context.Context)
	Len() int
	Members() int
}

// Runner runs on-demand evaluations. *monitor.Monitor satisfies it.
type Runner interface {
	Run(ctx context.Context, req monitor.Request) (monitor.Report, error)
	LastReport(spaceID string) (monitor.Report, bool)
}

// Authorizer decides who may operate the bot.
type Authorizer interface {
	IsAdmin(ctx context.Context, spaceID, userID string) (bool, error)
}

// Auditor records accepted and denied operator actions.
type Auditor interface {
	Record(entry models.AuditEntry) models.AuditEntry
}

// Recorder counts commands. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordCommand(command, status string)
}

// Invocation is one slash command call.
type Invocation struct {
	SpaceID   string
	UserID    string
	ChannelID string
	Text      string
}

// Reply is the ephemeral response to the invoking user.
type Reply struct {
	Text   string
	Blocks []slack.Block
}

func textReply(format string, args ...any) Reply {
	return Reply{Text: fmt.Sprintf(format, args...)}
}

// Executor runs parsed commands against the stores.
type Executor struct {
	policies PolicyStore
	activity ActivityStore
	runner   Runner
	auth     Authorizer
	audit    Auditor
	recorder Recorder
	command  string
	loc      *time.Location
	logger   zerolog.Logger
	now      func() time.Time
}

// Deps bundles the Executor collaborators.
type Deps struct {
	Policies PolicyStore
	Activity ActivityStore
	Runner   Runner
	Auth     Authorizer
	Audit    Auditor
	Recorder Recorder
}

// NewExecutor creates an Executor for the slash command named command.
func NewExecutor(deps Deps, command string, loc *time.Location, logger zerolog.Logger) *Executor {
	if loc == nil {
		loc = time.UTC
	}
	return &Executor{
		policies: deps.Policies,
		activity: deps.Activity,
		runner:   deps.Runner,
		auth:     deps.Auth,
		audit:    deps.Audit,
		recorder: deps.Recorder,
		command:  command,
		loc:      loc,
		logger:   logger.With().Str("component", "commands").Logger(),
		now:      time.Now,
	}
}

// Execute parses and runs inv. Every path yields a reply; errors are
// rendered for the operator rather than returned.
func (e *Executor) Execute(ctx context.Context, inv Invocation) Reply {
	cmd, err := Parse(inv.Text)
	if err != nil {
		e.count("unknown", "invalid")
		return textReply("❌ %s\n%s", userMessage(err), e.usage())
	}

	if cmd.Name == CmdHelp {
		e.count(string(cmd.Name), "ok")
		return Reply{Text: e.usage()}
	}

	ok, err := e.auth.IsAdmin(ctx, inv.SpaceID, inv.UserID)
	if err != nil {
		e.logger.Warn().Err(err).Str("user", inv.UserID).Msg("admin check failed")
		e.count(string(cmd.Name), "error")
		return textReply("❌ Could not verify your permissions, try again later.")
	}
	if !ok {
		e.record(inv, cmd, "denied", "")
		e.count(string(cmd.Name), "denied")
		return textReply("❌ This command is restricted to workspace admins.")
	}

	var reply Reply
	switch cmd.Name {
	case CmdStatus:
		reply = e.status(inv)
	case CmdCheck:
		reply, err = e.check(ctx, inv)
	case CmdConfig:
		reply, err = e.config(ctx, inv, cmd)
	case CmdMonitor:
		reply, err = e.monitor(ctx, inv, cmd)
	case CmdExclude:
		reply, err = e.exclude(ctx, inv, cmd)
	case CmdReset:
		reply, err = e.reset(ctx, inv, cmd)
	}

	if err != nil {
		status := "error"
		if errors.Is(err, perrors.ErrInvalidInput) {
			status = "invalid"
		}
		e.count(string(cmd.Name), status)
		e.logger.Info().Err(err).Str("user", inv.UserID).Str("command", string(cmd.Name)).Msg("command rejected")
		return textReply("❌ %s", userMessage(err))
	}
	e.count(string(cmd.Name), "ok")
	return reply
}

func (e *Executor) status(inv Invocation) Reply {
	p := e.policies.Current()
	var last *monitor.Report
	if r, ok := e.runner.LastReport(inv.SpaceID); ok {
		last = &r
	}
	return StatusReply(p, e.activity.Members(), e.activity.Len(), last, e.now(), e.loc)
}

func (e *Executor) check(ctx context.Context, inv Invocation) (Reply, error) {
	report, err := e.runner.Run(ctx, monitor.Request{
		SpaceID:     inv.SpaceID,
		RequesterID: inv.UserID,
		Trigger:     monitor.TriggerCommand,
	})
	if err != nil {
		return Reply{}, err
	}
	e.record(inv, Command{Name: CmdCheck}, "ok", fmt.Sprintf("%d inactive", len(report.Inactive)))

	if report.Failed > 0 && report.Delivered == 0 {
		return textReply("❌ Found %d inactive member(s) but delivery failed. Check the bot logs.", len(report.Inactive)), nil
	}
	msg := fmt.Sprintf("✅ Report sent to %s: %d inactive of %d members.", destinationLabel(report.Destination), len(report.Inactive), report.RosterSize)
	if report.Failed > 0 {
		msg += fmt.Sprintf("\n⚠️ %d of %d batches failed to deliver.", report.Failed, report.Batches)
	}
	return textReply("%s", msg), nil
}

func (e *Executor) config(ctx context.Context, inv Invocation, cmd Command) (Reply, error) {
	var u policy.Update
	for key, val := range cmd.Options {
		switch key {
		case "threshold", "days", "duration":
			n, err := parseInt(key, val)
			if err != nil {
				return Reply{}, err
			}
			u.ThresholdDays = &n
		case "channel", "notify-channel":
			target, err := parseTarget(val)
			if err != nil {
				return Reply{}, err
			}
			u.DeliveryTarget = &target
		case "log-channel", "log":
			id, err := parseOptionalChannel(val)
			if err != nil {
				return Reply{}, err
			}
			u.LogChannelID = &id
		case "auto-notify", "auto":
			b, err := ParseBool(val)
			if err != nil {
				return Reply{}, err
			}
			u.AutoNotifyEnabled = &b
		case "schedule", "notify-time":
			v := val
			u.AutoNotifySchedule = &v
		case "batch", "batch-size":
			n, err := parseInt(key, val)
			if err != nil {
				return Reply{}, err
			}
			u.BatchSize = &n
		default:
			return Reply{}, fmt.Errorf("unknown config option %q: %w", key, perrors.ErrInvalidInput)
		}
	}
	if u.IsEmpty() {
		return Reply{}, fmt.Errorf("no settings given, e.g. `%s config threshold=7`: %w", e.command, perrors.ErrInvalidInput)
	}
	return e.applyUpdate(ctx, inv, cmd, u)
}

func (e *Executor) monitor(ctx context.Context, inv Invocation, cmd Command) (Reply, error) {
	var u policy.Update
	for key, val := range cmd.Options {
		kind, err := models.ParseActivityKind(key)
		if err != nil {
			return Reply{}, fmt.Errorf("%v: %w", err, perrors.ErrInvalidInput)
		}
		b, err := ParseBool(val)
		if err != nil {
			return Reply{}, err
		}
		switch kind {
		case models.KindMessage:
			u.Messages = &b
		case models.KindReaction:
			u.Reactions = &b
		case models.KindPresence:
			u.Presence = &b
		}
	}
	if u.IsEmpty() {
		return MonitoringReply(e.policies.Current().Monitoring), nil
	}
	return e.applyUpdate(ctx, inv, cmd, u)
}

func (e *Executor) applyUpdate(ctx context.Context, inv Invocation, cmd Command, u policy.Update) (Reply, error) {
	_, changes, err := e.policies.Update(ctx, u)
	if err != nil {
		return Reply{}, err
	}
	if len(changes) == 0 {
		return textReply("ℹ️ Nothing changed, the settings already have those values."), nil
	}
	e.record(inv, cmd, "ok", strings.Join(changes, "; "))
	return textReply("✅ Settings updated:\n• %s", strings.Join(changes, "\n• ")), nil
}

func (e *Executor) exclude(ctx context.Context, inv Invocation, cmd Command) (Reply, error) {
	if len(cmd.Args) == 0 || strings.EqualFold(cmd.Args[0], "list") {
		return ExclusionsReply(e.policies.Current()), nil
	}

	action := strings.ToLower(cmd.Args[0])
	if action != "add" && action != "remove" && action != "rm" {
		return Reply{}, fmt.Errorf("expected `exclude add|remove [user|role] <id>` or `exclude list`: %w", perrors.ErrInvalidInput)
	}
	rest := cmd.Args[1:]
	if len(rest) == 0 {
		return Reply{}, fmt.Errorf("missing user or role to %s: %w", action, perrors.ErrInvalidInput)
	}

	kind := ""
	if k := strings.ToLower(rest[0]); k == "user" || k == "member" || k == "role" || k == "group" {
		kind = k
		rest = rest[1:]
	}
	if len(rest) != 1 {
		return Reply{}, fmt.Errorf("expected exactly one user or role: %w", perrors.ErrInvalidInput)
	}

	ref := rest[0]
	userID, isUser := ParseUserRef(ref)
	groupID, isGroup := ParseGroupRef(ref)
	switch kind {
	case "user", "member":
		isGroup = false
	case "role", "group":
		isUser = false
	}

	var (
		result policy.ExclusionResult
		err    error
		label  string
	)
	switch {
	case isUser && action == "add":
		result, err = e.policies.AddExcludedMember(ctx, userID)
		label = "<@" + userID + ">"
	case isUser:
		result, err = e.policies.RemoveExcludedMember(ctx, userID)
		label = "<@" + userID + ">"
	case isGroup && action == "add":
		result, err = e.policies.AddExcludedRole(ctx, groupID)
		label = "<!subteam^" + groupID + ">"
	case isGroup:
		result, err = e.policies.RemoveExcludedRole(ctx, groupID)
		label = "<!subteam^" + groupID + ">"
	default:
		return Reply{}, fmt.Errorf("%q is not a user or user group reference: %w", ref, perrors.ErrInvalidInput)
	}
	if err != nil {
		return Reply{}, err
	}

	e.record(inv, cmd, result.String(), label)
	switch result {
	case policy.Added:
		return textReply("✅ %s is now excluded from inactivity checks.", label), nil
	case policy.AlreadyExcluded:
		return textReply("ℹ️ %s is already excluded.", label), nil
	case policy.Removed:
		return textReply("✅ %s is no longer excluded.", label), nil
	default:
		return textReply("ℹ️ %s was not excluded.", label), nil
	}
}

func (e *Executor) reset(ctx context.Context, inv Invocation, cmd Command) (Reply, error) {
	if len(cmd.Args) == 0 || !strings.EqualFold(cmd.Args[0], "confirm") {
		return textReply("⚠️ This erases every recorded activity. Run `%s reset confirm` to proceed.", e.command), nil
	}
	before := e.activity.Len()
	e.activity.ResetAll(ctx)
	e.record(inv, cmd, "ok", fmt.Sprintf("%d records cleared", before))
	return textReply("✅ Activity data has been reset (%d records cleared).", before), nil
}

func (e *Executor) record(inv Invocation, cmd Command, result, details string) {
	if e.audit == nil {
		return
	}
	e.audit.Record(models.AuditEntry{
		UserID:   inv.UserID,
		SpaceID:  inv.SpaceID,
		Action:   string(cmd.Name),
		Resource: strings.Join(cmd.Args, " "),
		Result:   result,
		Details:  details,
	})
}

func (e *Executor) count(command, status string) {
	if e.recorder != nil {
		e.recorder.RecordCommand(command, status)
	}
}

func (e *Executor) usage() string {
	c := e.command
	return strings.Join([]string{
		"*Usage*",
		fmt.Sprintf("`%s status` show settings and tracking stats", c),
		fmt.Sprintf("`%s check` run an inactivity check now", c),
		fmt.Sprintf("`%s config threshold=<days> channel=<#channel|dm> log-channel=<#channel|off> auto-notify=<on|off> schedule=\"<cron>\" batch=<n>`", c),
		fmt.Sprintf("`%s monitor messages=<on|off> reactions=<on|off> presence=<on|off>`", c),
		fmt.Sprintf("`%s exclude add|remove [user|role] <@user|@group>` / `%s exclude list`", c, c),
		fmt.Sprintf("`%s reset confirm` erase all activity data", c),
	}, "\n")
}

func parseTarget(val string) (models.DeliveryTarget, error) {
	switch strings.ToLower(val) {
	case "dm", "direct", "off", "none":
		return models.DirectTarget(), nil
	}
	id, ok := ParseChannelRef(val)
	if !ok {
		return models.DeliveryTarget{}, fmt.Errorf("%q is not a channel reference: %w", val, perrors.ErrInvalidInput)
	}
	return models.ChannelTarget(id), nil
}

func parseOptionalChannel(val string) (string, error) {
	switch strings.ToLower(val) {
	case "", "off", "none":
		return "", nil
	}
	id, ok := ParseChannelRef(val)
	if !ok {
		return "", fmt.Errorf("%q is not a channel reference: %w", val, perrors.ErrInvalidInput)
	}
	return id, nil
}

func destinationLabel(dest string) string {
	switch {
	case dest == "":
		return "nowhere"
	case strings.HasPrefix(dest, "dm:"):
		return "<@" + strings.TrimPrefix(dest, "dm:") + "> by DM"
	default:
		return "<#" + dest + ">"
	}
}

// userMessage strips sentinel suffixes so replies read naturally.
func userMessage(err error) string {
	msg := err.Error()
	for _, s := range []error{perrors.ErrInvalidInput, perrors.ErrNotFound} {
		msg = strings.TrimSuffix(msg, ": "+s.Error())
	}
	return msg
}
