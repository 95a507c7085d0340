// Package commands parses and executes operator commands issued through the
// slash command.
package commands

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	perrors "github.com/p-blackswan/inactivity-agent/internal/errors"
)

// Name identifies a subcommand.
type Name string

const (
	CmdHelp    Name = "help"
	CmdStatus  Name = "status"
	CmdCheck   Name = "check"
	CmdConfig  Name = "config"
	CmdMonitor Name = "monitor"
	CmdExclude Name = "exclude"
	CmdReset   Name = "reset"
)

// Command is a tokenized operator command: a subcommand name, positional
// arguments and key=value options.
type Command struct {
	Name    Name
	Args    []string
	Options map[string]string
}

var aliases = map[string]Name{
	"":                    CmdHelp,
	"help":                CmdHelp,
	"status":              CmdStatus,
	"bot-status":          CmdStatus,
	"check":               CmdCheck,
	"check-inactive":      CmdCheck,
	"config":              CmdConfig,
	"set-config":          CmdConfig,
	"monitor":             CmdMonitor,
	"monitoring":          CmdMonitor,
	"monitoring-settings": CmdMonitor,
	"exclude":             CmdExclude,
	"whitelist":           CmdExclude,
	"reset":               CmdReset,
	"reset-data":          CmdReset,
}

// Parse splits text into a Command. Values may be double-quoted to keep
// spaces, as in schedule="0 9 * * 1-5".
func Parse(text string) (Command, error) {
	tokens, err := tokenize(text)
	if err != nil {
		return Command{}, err
	}

	first := ""
	if len(tokens) > 0 {
		first = strings.ToLower(tokens[0])
		tokens = tokens[1:]
	}
	name, ok := aliases[first]
	if !ok {
		return Command{}, fmt.Errorf("unknown command %q: %w", first, perrors.ErrInvalidInput)
	}

	cmd := Command{Name: name, Options: make(map[string]string)}
	for _, tok := range tokens {
		if k, v, found := strings.Cut(tok, "="); found && k != "" && !strings.HasPrefix(tok, "<") {
			cmd.Options[strings.ToLower(k)] = v
			continue
		}
		cmd.Args = append(cmd.Args, tok)
	}
	return cmd, nil
}

var errUnterminatedQuote = errors.New("unterminated quote")

func tokenize(text string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		inQuote bool
		started bool
	)
	for _, r := range strings.TrimSpace(text) {
		switch {
		case r == '"':
			inQuote = !inQuote
			started = true
		case !inQuote && (r == ' ' || r == '\t' || r == '\n'):
			if started {
				tokens = append(tokens, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("%w: %w", errUnterminatedQuote, perrors.ErrInvalidInput)
	}
	if started {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}

var (
	channelRe = regexp.MustCompile(`^<#([CG][A-Z0-9]+)(?:\|[^>]*)?>$`)
	userRe    = regexp.MustCompile(`^<@([UW][A-Z0-9]+)(?:\|[^>]*)?>$`)
	groupRe   = regexp.MustCompile(`^<!subteam\^(S[A-Z0-9]+)(?:\|[^>]*)?>$`)
	rawIDRe   = regexp.MustCompile(`^[A-Z][A-Z0-9]{2,}$`)
)

// ParseChannelRef accepts an escaped channel mention or a bare channel ID.
func ParseChannelRef(s string) (string, bool) {
	if m := channelRe.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	if rawIDRe.MatchString(s) && (s[0] == 'C' || s[0] == 'G') {
		return s, true
	}
	return "", false
}

// ParseUserRef accepts an escaped user mention or a bare user ID.
func ParseUserRef(s string) (string, bool) {
	if m := userRe.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	if rawIDRe.MatchString(s) && (s[0] == 'U' || s[0] == 'W') {
		return s, true
	}
	return "", false
}

// ParseGroupRef accepts an escaped user group mention or a bare group ID.
func ParseGroupRef(s string) (string, bool) {
	if m := groupRe.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	if rawIDRe.MatchString(s) && s[0] == 'S' {
		return s, true
	}
	return "", false
}

// ParseBool accepts the usual on/off spellings.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "yes", "enable", "enabled", "1":
		return true, nil
	case "off", "false", "no", "disable", "disabled", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q: %w", s, perrors.ErrInvalidInput)
}

func parseInt(key, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%s must be a whole number, got %q: %w", key, s, perrors.ErrInvalidInput)
	}
	return n, nil
}
