package slack

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	perrors "github.com/p-blackswan/inactivity-agent/internal/errors"
	"github.com/p-blackswan/inactivity-agent/internal/lru"
	"github.com/p-blackswan/inactivity-agent/internal/models"
	"github.com/p-blackswan/inactivity-agent/internal/retry"
)

// slackbotID is the built-in Slackbot user, which is neither IsBot nor an
// app user.
const slackbotID = "USLACKBOT"

type userInfo struct {
	automated    bool
	admin        bool
	primaryOwner bool
}

func infoOf(u *slack.User) userInfo {
	return userInfo{
		automated:    isAutomated(u),
		admin:        u.IsAdmin || u.IsOwner || u.IsPrimaryOwner,
		primaryOwner: u.IsPrimaryOwner,
	}
}

func isAutomated(u *slack.User) bool {
	return u.IsBot || u.IsAppUser || u.ID == slackbotID || u.Profile.BotID != ""
}

func displayName(u *slack.User) string {
	for _, name := range []string{u.Profile.DisplayName, u.RealName, u.Profile.RealName, u.Name} {
		if strings.TrimSpace(name) != "" {
			return name
		}
	}
	return u.ID
}

// Directory answers roster and account questions about a workspace. User
// lookups are cached since feed events arrive far more often than profiles
// change.
type Directory struct {
	api    BotAPI
	admins []string
	users  *lru.Cache[string, userInfo]
	retry  retry.Config
	logger zerolog.Logger

	mu     sync.Mutex
	teamID string
	owners map[string]string
}

// NewDirectory creates a Directory. adminIDs are always treated as admins.
func NewDirectory(api BotAPI, adminIDs []string, cacheSize int, cacheTTL time.Duration, logger zerolog.Logger) *Directory {
	d := &Directory{
		api:    api,
		admins: adminIDs,
		users:  lru.New[string, userInfo](cacheSize, cacheTTL),
		logger: logger.With().Str("component", "slack.directory").Logger(),
		owners: make(map[string]string),
	}
	d.SetRetry(retry.DefaultConfig())
	return d
}

// SetRetry replaces the backoff used for roster and workspace reads.
func (d *Directory) SetRetry(cfg retry.Config) {
	if cfg.OnRetry == nil {
		cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
			d.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("slack read failed, retrying")
		}
	}
	d.retry = cfg
}

// FetchRoster lists the current human and automated members of spaceID
// with their user group memberships. Deactivated accounts are left out.
func (d *Directory) FetchRoster(ctx context.Context, spaceID string) ([]models.Member, error) {
	var users []slack.User
	err := retry.Do(ctx, d.retry, func(ctx context.Context) error {
		var err error
		if users, err = d.api.GetUsersContext(ctx); err != nil {
			return apiError("users.list", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	roles, err := d.groupsByUser(ctx)
	if err != nil {
		return nil, err
	}

	members := make([]models.Member, 0, len(users))
	owner := ""
	for i := range users {
		u := &users[i]
		if u.Deleted || (u.TeamID != "" && spaceID != "" && u.TeamID != spaceID) {
			continue
		}
		d.users.Put(u.ID, infoOf(u))
		if u.IsPrimaryOwner {
			owner = u.ID
		}
		members = append(members, models.Member{
			ID:          u.ID,
			DisplayName: displayName(u),
			RoleIDs:     roles[u.ID],
			Automated:   isAutomated(u),
			IsOwner:     u.IsPrimaryOwner,
		})
	}

	if owner != "" {
		d.mu.Lock()
		d.owners[spaceID] = owner
		d.mu.Unlock()
	}
	d.logger.Debug().Str("space", spaceID).Int("members", len(members)).Int("groups", len(roles)).Msg("roster fetched")
	return members, nil
}

// groupsByUser maps user IDs to the active user groups they belong to.
// Workspaces without user groups (free plans, missing scope) yield an
// empty map.
func (d *Directory) groupsByUser(ctx context.Context) (map[string][]string, error) {
	var groups []slack.UserGroup
	unavailable := false
	err := retry.Do(ctx, d.retry, func(ctx context.Context) error {
		var err error
		groups, err = d.api.GetUserGroupsContext(ctx, slack.GetUserGroupsOptionIncludeUsers(true))
		if err == nil {
			return nil
		}
		msg := err.Error()
		if strings.Contains(msg, "paid_teams_only") || strings.Contains(msg, "missing_scope") || strings.Contains(msg, "not_allowed_token_type") {
			d.logger.Warn().Err(err).Msg("user groups unavailable, role exclusions will not apply")
			unavailable = true
			return nil
		}
		return apiError("usergroups.list", err)
	})
	if err != nil {
		return nil, fmt.Errorf("listing user groups: %w", err)
	}
	if unavailable {
		return map[string][]string{}, nil
	}

	out := make(map[string][]string)
	for _, g := range groups {
		if g.DateDelete != 0 {
			continue
		}
		for _, uid := range g.Users {
			if !slices.Contains(out[uid], g.ID) {
				out[uid] = append(out[uid], g.ID)
			}
		}
	}
	return out, nil
}

// Spaces returns the workspace the bot token belongs to.
func (d *Directory) Spaces(ctx context.Context) ([]string, error) {
	team, err := d.TeamID(ctx)
	if err != nil {
		return nil, err
	}
	return []string{team}, nil
}

// TeamID resolves and caches the bot's workspace ID.
func (d *Directory) TeamID(ctx context.Context) (string, error) {
	d.mu.Lock()
	team := d.teamID
	d.mu.Unlock()
	if team != "" {
		return team, nil
	}

	var resp *slack.AuthTestResponse
	err := retry.Do(ctx, d.retry, func(ctx context.Context) error {
		var err error
		if resp, err = d.api.AuthTestContext(ctx); err != nil {
			return apiError("auth.test", err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("resolving workspace: %w", err)
	}
	if resp.TeamID == "" {
		return "", &perrors.APIError{Service: "slack", Method: "auth.test", Message: "no team"}
	}

	d.mu.Lock()
	d.teamID = resp.TeamID
	d.mu.Unlock()
	d.logger.Info().Str("team", resp.TeamID).Str("bot_user", resp.UserID).Msg("workspace resolved")
	return resp.TeamID, nil
}

// Owner returns the primary owner of spaceID, fetching the roster when it
// has not been seen yet.
func (d *Directory) Owner(ctx context.Context, spaceID string) (string, error) {
	d.mu.Lock()
	owner, ok := d.owners[spaceID]
	d.mu.Unlock()
	if ok {
		return owner, nil
	}

	if _, err := d.FetchRoster(ctx, spaceID); err != nil {
		return "", err
	}
	d.mu.Lock()
	owner, ok = d.owners[spaceID]
	d.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("primary owner of %s: %w", spaceID, perrors.ErrNotFound)
	}
	return owner, nil
}

func (d *Directory) lookup(ctx context.Context, userID string) (userInfo, error) {
	if info, ok := d.users.Get(userID); ok {
		return info, nil
	}
	u, err := d.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return userInfo{}, apiError("users.info", err)
	}
	info := infoOf(u)
	d.users.Put(userID, info)
	return info, nil
}

// IsAutomated reports whether userID is a bot or app account. Unknown
// users are treated as human.
func (d *Directory) IsAutomated(ctx context.Context, userID string) bool {
	if userID == slackbotID {
		return true
	}
	info, err := d.lookup(ctx, userID)
	if err != nil {
		d.logger.Debug().Err(err).Str("user", userID).Msg("user lookup failed")
		return false
	}
	return info.automated
}

// IsAdmin reports whether userID may operate the bot: a configured admin
// or a workspace admin or owner.
func (d *Directory) IsAdmin(ctx context.Context, _, userID string) (bool, error) {
	if slices.Contains(d.admins, userID) {
		return true, nil
	}
	info, err := d.lookup(ctx, userID)
	if err != nil {
		return false, err
	}
	return info.admin, nil
}

// CacheStats exposes user cache hit counts.
func (d *Directory) CacheStats() (hits, misses uint64) {
	return d.users.Stats()
}
