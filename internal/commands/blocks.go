package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/p-blackswan/inactivity-agent/internal/models"
	"github.com/p-blackswan/inactivity-agent/internal/monitor"
)

func section(text string) slack.Block {
	return slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func mark(b bool) string {
	if b {
		return "✅"
	}
	return "❌"
}

// StatusReply renders the status command output.
func StatusReply(p models.Policy, members, records int, last *monitor.Report, now time.Time, loc *time.Location) Reply {
	logChannel := "off"
	if p.LogChannelID != "" {
		logChannel = "<#" + p.LogChannelID + ">"
	}
	auto := onOff(p.AutoNotifyEnabled)
	if p.AutoNotifyEnabled {
		auto += fmt.Sprintf(" (`%s`, %s)", p.AutoNotifySchedule, loc)
	}

	settings := strings.Join([]string{
		"*Settings*",
		fmt.Sprintf("• Threshold: %d days", p.InactivityThresholdDays),
		fmt.Sprintf("• Delivery: %s", p.DeliveryTarget),
		fmt.Sprintf("• Log channel: %s", logChannel),
		fmt.Sprintf("• Batch size: %d", p.BatchSize),
		fmt.Sprintf("• Auto-notify: %s", auto),
		fmt.Sprintf("• Monitoring: messages %s  reactions %s  presence %s",
			mark(p.Monitoring.Messages), mark(p.Monitoring.Reactions), mark(p.Monitoring.Presence)),
		fmt.Sprintf("• Excluded: %d member(s), %d role(s)", len(p.ExcludedMemberIDs), len(p.ExcludedRoleIDs)),
	}, "\n")

	tracking := fmt.Sprintf("*Tracking*\n• %d member(s) with recorded activity (%d record(s))", members, records)
	run := "*Last check*\n• none since start"
	if last != nil {
		run = fmt.Sprintf("*Last check*\n• %s (%s): %d inactive of %d, %d/%d batch(es) delivered",
			last.StartedAt.In(loc).Format("2006-01-02 15:04"), last.Trigger,
			len(last.Inactive), last.RosterSize, last.Delivered, last.Batches)
		if last.Error != "" {
			run += "\n• error: " + last.Error
		}
	}
	footer := "as of " + now.In(loc).Format("2006-01-02 15:04 MST")

	return Reply{
		Text: strings.Join([]string{"🤖 Inactivity bot status", settings, tracking, run}, "\n"),
		Blocks: []slack.Block{
			slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, "🤖 Inactivity bot status", true, false)),
			section(settings),
			section(tracking),
			section(run),
			slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, footer, false, false)),
		},
	}
}

// MonitoringReply lists the activity kinds being recorded.
func MonitoringReply(m models.Monitoring) Reply {
	text := fmt.Sprintf("*Monitoring*\n• messages: %s\n• reactions: %s\n• presence: %s",
		onOff(m.Messages), onOff(m.Reactions), onOff(m.Presence))
	return Reply{Text: text, Blocks: []slack.Block{section(text)}}
}

// ExclusionsReply lists the excluded members and roles.
func ExclusionsReply(p models.Policy) Reply {
	var b strings.Builder
	b.WriteString("*Excluded members*\n")
	if len(p.ExcludedMemberIDs) == 0 {
		b.WriteString("• none\n")
	}
	for _, id := range p.ExcludedMemberIDs {
		fmt.Fprintf(&b, "• <@%s>\n", id)
	}
	b.WriteString("*Excluded roles*\n")
	if len(p.ExcludedRoleIDs) == 0 {
		b.WriteString("• none")
	}
	for i, id := range p.ExcludedRoleIDs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "• <!subteam^%s>", id)
	}
	text := b.String()
	return Reply{Text: text, Blocks: []slack.Block{section(text)}}
}
