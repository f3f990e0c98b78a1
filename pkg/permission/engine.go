// Package permission resolves whether a command is allowed for a
// (guild, user) pair based on per-guild ranks, role assignments and
// per-command required ranks.
package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/allthingslinux/tux/pkg/cache"
	"github.com/allthingslinux/tux/pkg/log"
	"github.com/allthingslinux/tux/pkg/storage"
)

// CacheTTL applies to rank lists, assignment lists, command lookups and
// resolved user ranks.
const CacheTTL = 2 * time.Hour

// ErrRestrictedCommand is returned when a caller tries to configure a
// command whose access is hardwired to the bot owner.
var ErrRestrictedCommand = errors.New("permission: command is restricted and cannot be configured")

// restricted commands stay owner-only regardless of guild configuration.
var restrictedCommands = map[string]struct{}{
	"eval":    {},
	"e":       {},
	"jsk":     {},
	"jishaku": {},
}

// IsRestricted reports whether name is a restricted command
// (case-insensitive). Command dispatch uses this for the hardwired
// owner-only predicate.
func IsRestricted(name string) bool {
	_, ok := restrictedCommands[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Outcome is the result class of a permission check.
type Outcome int

const (
	Allowed Outcome = iota
	Denied
	NotConfigured
)

// Decision is the full result of a permission check.
type Decision struct {
	Outcome      Outcome
	CommandName  string // the configured entry that decided the check
	RequiredRank int
	UserRank     int
}

// Allowed reports whether the command may run.
func (d Decision) Allow() bool { return d.Outcome == Allowed }

// Engine resolves permissions against the store with a cache in front.
// Infrastructure failures propagate; the engine never silently denies.
type Engine struct {
	store  *storage.Store
	cache  cache.Backend
	logger *slog.Logger
}

// NewEngine builds a permission engine.
func NewEngine(store *storage.Store, backend cache.Backend) *Engine {
	return &Engine{
		store:  store,
		cache:  backend,
		logger: log.Component("permission"),
	}
}

// cachedCommand wraps a command lookup so a cached "not configured" is
// distinguishable from a cache miss.
type cachedCommand struct {
	Found        bool `json:"found"`
	RequiredRank int  `json:"required_rank"`
}

func commandKey(guildID, name string) string {
	return "perm:cmd:" + guildID + ":" + name
}

func assignmentsKey(guildID string) string {
	return "perm:assign:" + guildID
}

func ranksKey(guildID string) string {
	return "perm:ranks:" + guildID
}

func userRankKey(guildID, userID string, roleIDs []string) string {
	sorted := append([]string(nil), roleIDs...)
	sort.Strings(sorted)
	// The role tuple is part of the key, so assignment changes that alter a
	// member's roles resolve to a different entry automatically.
	return "perm:urank:" + guildID + ":" + userID + ":" + strings.Join(sorted, ",")
}

// Check resolves the controlling command entry, computes the user's rank
// and compares. See the package doc for the dotted-name fallback rules.
func (e *Engine) Check(ctx context.Context, guildID, userID string, roleIDs []string, commandName string) (Decision, error) {
	entryName, required, found, err := e.resolveCommand(ctx, guildID, commandName)
	if err != nil {
		return Decision{}, err
	}
	if !found {
		return Decision{Outcome: NotConfigured, CommandName: commandName}, nil
	}

	userRank, err := e.UserRank(ctx, guildID, userID, roleIDs)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{CommandName: entryName, RequiredRank: required, UserRank: userRank}
	if userRank >= required {
		d.Outcome = Allowed
	} else {
		d.Outcome = Denied
	}
	return d, nil
}

// resolveCommand finds the controlling PermissionCommand: the exact name
// first, then ancestors right-to-left ("a b c" → "a b" → "a"). A more
// specific configured entry always wins over a parent.
func (e *Engine) resolveCommand(ctx context.Context, guildID, commandName string) (name string, requiredRank int, found bool, err error) {
	candidate := strings.TrimSpace(commandName)
	for candidate != "" {
		entry, err := e.lookupCommand(ctx, guildID, candidate)
		if err != nil {
			return "", 0, false, err
		}
		if entry.Found {
			return candidate, entry.RequiredRank, true, nil
		}
		idx := strings.LastIndex(candidate, " ")
		if idx < 0 {
			break
		}
		candidate = candidate[:idx]
	}
	return "", 0, false, nil
}

// lookupCommand is the cached exact-name lookup. Each dotted level caches
// its own entry, so setting or removing an ancestor invalidates exactly one
// key and descendant resolutions observe it on their next walk.
func (e *Engine) lookupCommand(ctx context.Context, guildID, name string) (cachedCommand, error) {
	key := commandKey(guildID, name)
	if raw, ok, err := e.cache.Get(ctx, key); err == nil && ok {
		var entry cachedCommand
		if json.Unmarshal(raw, &entry) == nil {
			return entry, nil
		}
	} else if err != nil {
		e.logger.Warn("command cache read failed", "guild_id", guildID, "command", name, "error", err)
	}

	var entry cachedCommand
	cmd, err := e.store.GetCommandPermission(ctx, guildID, name)
	switch {
	case err == nil:
		entry = cachedCommand{Found: true, RequiredRank: cmd.RequiredRank}
	case errors.Is(err, storage.ErrNotFound):
		entry = cachedCommand{Found: false}
	default:
		return cachedCommand{}, err
	}

	if raw, err := json.Marshal(entry); err == nil {
		if err := e.cache.Set(ctx, key, raw, CacheTTL); err != nil {
			e.logger.Warn("command cache write failed", "guild_id", guildID, "command", name, "error", err)
		}
	}
	return entry, nil
}

// UserRank returns the maximum rank among the user's assigned roles, or 0
// when no role carries a rank.
func (e *Engine) UserRank(ctx context.Context, guildID, userID string, roleIDs []string) (int, error) {
	key := userRankKey(guildID, userID, roleIDs)
	if raw, ok, err := e.cache.Get(ctx, key); err == nil && ok {
		var rank int
		if json.Unmarshal(raw, &rank) == nil {
			return rank, nil
		}
	}

	assignments, err := e.assignments(ctx, guildID)
	if err != nil {
		return 0, err
	}

	byRole := make(map[string]int, len(assignments))
	for _, a := range assignments {
		byRole[a.RoleID] = a.Rank
	}

	rank := 0
	for _, roleID := range roleIDs {
		if r, ok := byRole[roleID]; ok && r > rank {
			rank = r
		}
	}

	if raw, err := json.Marshal(rank); err == nil {
		_ = e.cache.Set(ctx, key, raw, CacheTTL)
	}
	return rank, nil
}

// assignments returns the guild's role→rank bindings, cached.
func (e *Engine) assignments(ctx context.Context, guildID string) ([]*storage.PermissionAssignment, error) {
	key := assignmentsKey(guildID)
	if raw, ok, err := e.cache.Get(ctx, key); err == nil && ok {
		var cached []*storage.PermissionAssignment
		if json.Unmarshal(raw, &cached) == nil {
			return cached, nil
		}
	}

	assignments, err := e.store.ListAssignments(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(assignments); err == nil {
		_ = e.cache.Set(ctx, key, raw, CacheTTL)
	}
	return assignments, nil
}

// Ranks returns the guild's rank list, cached.
func (e *Engine) Ranks(ctx context.Context, guildID string) ([]*storage.PermissionRank, error) {
	key := ranksKey(guildID)
	if raw, ok, err := e.cache.Get(ctx, key); err == nil && ok {
		var cached []*storage.PermissionRank
		if json.Unmarshal(raw, &cached) == nil {
			return cached, nil
		}
	}

	ranks, err := e.store.ListRanks(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(ranks); err == nil {
		_ = e.cache.Set(ctx, key, raw, CacheTTL)
	}
	return ranks, nil
}

// SetCommandPermission configures the required rank for a command.
// Restricted names are rejected before anything is written. The cache entry
// is invalidated after the store write commits.
func (e *Engine) SetCommandPermission(ctx context.Context, guildID, commandName string, requiredRank int, description string) (*storage.PermissionCommand, error) {
	if IsRestricted(commandName) {
		return nil, fmt.Errorf("%w: %q", ErrRestrictedCommand, commandName)
	}
	cmd, err := e.store.SetCommandPermission(ctx, &storage.PermissionCommand{
		GuildID:      guildID,
		CommandName:  commandName,
		RequiredRank: requiredRank,
		Description:  description,
	})
	if err != nil {
		return nil, err
	}
	if err := e.cache.Delete(ctx, commandKey(guildID, commandName)); err != nil {
		e.logger.Warn("command cache invalidation failed", "guild_id", guildID, "command", commandName, "error", err)
	}
	return cmd, nil
}

// RemoveCommandPermission deletes the command entry and invalidates its
// cache key.
func (e *Engine) RemoveCommandPermission(ctx context.Context, guildID, commandName string) error {
	if err := e.store.RemoveCommandPermission(ctx, guildID, commandName); err != nil {
		return err
	}
	if err := e.cache.Delete(ctx, commandKey(guildID, commandName)); err != nil {
		e.logger.Warn("command cache invalidation failed", "guild_id", guildID, "command", commandName, "error", err)
	}
	return nil
}

// LoadCommandPermissions bulk-configures commands, skipping restricted
// entries with a warning instead of failing the batch.
func (e *Engine) LoadCommandPermissions(ctx context.Context, guildID string, entries map[string]int) error {
	for name, rank := range entries {
		if IsRestricted(name) {
			e.logger.Warn("skipping restricted command in bulk load", "guild_id", guildID, "command", name)
			continue
		}
		if _, err := e.SetCommandPermission(ctx, guildID, name, rank, ""); err != nil {
			return err
		}
	}
	return nil
}

// UpsertRank creates or updates a rank and invalidates the rank cache.
func (e *Engine) UpsertRank(ctx context.Context, r *storage.PermissionRank) (*storage.PermissionRank, error) {
	out, err := e.store.UpsertRank(ctx, r)
	if err != nil {
		return nil, err
	}
	_ = e.cache.Delete(ctx, ranksKey(r.GuildID))
	return out, nil
}

// DeleteRank deletes a rank; its assignments cascade, so both caches are
// invalidated after the commit.
func (e *Engine) DeleteRank(ctx context.Context, guildID string, rank int) error {
	if err := e.store.DeleteRank(ctx, guildID, rank); err != nil {
		return err
	}
	_ = e.cache.Delete(ctx, ranksKey(guildID))
	_ = e.cache.Delete(ctx, assignmentsKey(guildID))
	return nil
}

// AssignRole binds a role to a rank and invalidates the assignments cache.
func (e *Engine) AssignRole(ctx context.Context, guildID string, rank int, roleID string) (*storage.PermissionAssignment, error) {
	a, err := e.store.AssignRole(ctx, guildID, rank, roleID)
	if err != nil {
		return nil, err
	}
	_ = e.cache.Delete(ctx, assignmentsKey(guildID))
	return a, nil
}

// UnassignRole removes a role's rank and invalidates the assignments cache.
func (e *Engine) UnassignRole(ctx context.Context, guildID, roleID string) error {
	if err := e.store.UnassignRole(ctx, guildID, roleID); err != nil {
		return err
	}
	_ = e.cache.Delete(ctx, assignmentsKey(guildID))
	return nil
}

// defaultRanks seeds a guild's rank ladder on onboarding.
var defaultRanks = []storage.PermissionRank{
	{Rank: 0, Name: "Member"},
	{Rank: 1, Name: "Trusted"},
	{Rank: 2, Name: "Junior Moderator"},
	{Rank: 3, Name: "Moderator"},
	{Rank: 4, Name: "Senior Moderator"},
	{Rank: 5, Name: "Administrator"},
	{Rank: 6, Name: "Head Administrator"},
	{Rank: 7, Name: "Server Owner"},
}

// InitializeGuild seeds the default eight ranks. Idempotent: existing ranks
// are updated in place, never duplicated.
func (e *Engine) InitializeGuild(ctx context.Context, guildID string) error {
	for _, r := range defaultRanks {
		rank := r
		rank.GuildID = guildID
		rank.Enabled = true
		if _, err := e.store.UpsertRank(ctx, &rank); err != nil {
			return fmt.Errorf("permission: seed rank %d: %w", rank.Rank, err)
		}
	}
	_ = e.cache.Delete(ctx, ranksKey(guildID))
	e.logger.Info("seeded default ranks", "guild_id", guildID)
	return nil
}
