package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/p-blackswan/inactivity-agent/internal/models"
)

// RenderContext carries the run-level facts shown around each batch.
type RenderContext struct {
	ThresholdDays int
	Now           time.Time
	Location      *time.Location
	Trigger       string
}

// Message is a rendered batch: a plain-text fallback plus Block Kit blocks.
type Message struct {
	Text   string
	Blocks []slack.Block
}

const (
	title           = "📢 Inactive member report"
	linesPerSection = 10
)

// Render formats one batch.
func Render(b models.NotificationBatch, rc RenderContext) Message {
	header := title
	if b.Total > 1 {
		header = fmt.Sprintf("%s (%d/%d)", title, b.Index, b.Total)
	}
	footer := footerText(b, rc)

	if b.IsEmpty() {
		body := "✅ No inactive members."
		return Message{
			Text: fmt.Sprintf("%s\n%s\n%s", header, body, footer),
			Blocks: []slack.Block{
				slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, header, true, false)),
				slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, body, false, false), nil, nil),
				slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, footer, false, false)),
			},
		}
	}

	lines := make([]string, 0, len(b.Entries))
	for _, e := range b.Entries {
		lines = append(lines, EntryLine(e, rc.Now))
	}
	list := strings.Join(lines, "\n")

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, header, true, false)),
	}
	if b.Index == 1 {
		summary := fmt.Sprintf("📊 *%d* inactive member%s detected.", b.TotalEntries, plural(b.TotalEntries))
		blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, summary, false, false), nil, nil))
		list = summary + "\n" + list
	}
	// Section text is capped at 3000 characters, so long lists span sections.
	for i := 0; i < len(lines); i += linesPerSection {
		end := i + linesPerSection
		if end > len(lines) {
			end = len(lines)
		}
		text := strings.Join(lines[i:end], "\n")
		blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil))
	}
	blocks = append(blocks, slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, footer, false, false)))

	return Message{
		Text:   fmt.Sprintf("%s\n%s\n%s", header, list, footer),
		Blocks: blocks,
	}
}

// EntryLine renders one inactive member as a bullet.
func EntryLine(e models.InactiveEntry, now time.Time) string {
	name := e.DisplayName
	if name == "" {
		name = e.MemberID
	}
	return fmt.Sprintf("• *%s* (<@%s>) last active: %s", name, e.MemberID, FormatSince(e.LastActivityAt, now))
}

func footerText(b models.NotificationBatch, rc RenderContext) string {
	loc := rc.Location
	if loc == nil {
		loc = time.UTC
	}
	parts := []string{fmt.Sprintf("Threshold: %d day%s", rc.ThresholdDays, plural(rc.ThresholdDays))}
	if !b.IsEmpty() {
		parts = append(parts, fmt.Sprintf("Total: %d", b.TotalEntries))
	}
	if rc.Trigger != "" {
		parts = append(parts, "Trigger: "+rc.Trigger)
	}
	parts = append(parts, rc.Now.In(loc).Format("2006-01-02 15:04 MST"))
	return strings.Join(parts, " | ")
}

// LogLevel is the severity of a log-channel message.
type LogLevel string

const (
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// RenderLog formats a message for the operator log channel.
func RenderLog(level LogLevel, text string, now time.Time, loc *time.Location) Message {
	if loc == nil {
		loc = time.UTC
	}
	icon := "📝"
	switch level {
	case LevelWarn:
		icon = "⚠️"
	case LevelError:
		icon = "🚨"
	}
	head := fmt.Sprintf("%s *Bot log [%s]*", icon, level)
	stamp := now.In(loc).Format("2006-01-02 15:04:05 MST")
	return Message{
		Text: fmt.Sprintf("%s\n%s\n%s", head, text, stamp),
		Blocks: []slack.Block{
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, head+"\n"+text, false, false), nil, nil),
			slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, stamp, false, false)),
		},
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
