package firewall

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"groupguard/internal/domain"
	"groupguard/internal/metrics"
)

const roleCacheTTL = 60 * time.Second

// RoleResolver resolves a sender's role in a chat through a membership
// lookup, caching results for 60 seconds.
type RoleResolver struct {
	lookup domain.MembershipLookup
	logger *slog.Logger
	cache  *expirable.LRU[string, domain.Role]
}

func NewRoleResolver(lookup domain.MembershipLookup, logger *slog.Logger) *RoleResolver {
	return newRoleResolver(lookup, logger, roleCacheTTL)
}

func newRoleResolver(lookup domain.MembershipLookup, logger *slog.Logger, ttl time.Duration) *RoleResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleResolver{
		lookup: lookup,
		logger: logger,
		cache:  expirable.NewLRU[string, domain.Role](0, nil, ttl),
	}
}

// Resolve never fails: lookup errors are logged and the member role is
// returned without being cached.
func (r *RoleResolver) Resolve(ctx context.Context, chatID, userID int64) domain.Role {
	key := fmt.Sprintf("%d:%d", chatID, userID)
	if role, ok := r.cache.Get(key); ok {
		metrics.CacheLookups.WithLabelValues("roles", "hit").Inc()
		return role
	}
	metrics.CacheLookups.WithLabelValues("roles", "miss").Inc()

	if r.lookup == nil {
		return domain.RoleMember
	}

	status, err := r.lookup.MemberStatus(ctx, chatID, userID)
	if err != nil {
		metrics.MemberLookups.WithLabelValues("error").Inc()
		r.logger.Warn("member status lookup failed", "chat_id", chatID, "user_id", userID, "err", err)
		return domain.RoleMember
	}
	metrics.MemberLookups.WithLabelValues("ok").Inc()

	role := roleFromStatus(status)
	r.cache.Add(key, role)
	return role
}

// Reset clears cached roles. Intended for tests.
func (r *RoleResolver) Reset() {
	r.cache.Purge()
}

func roleFromStatus(status string) domain.Role {
	switch status {
	case "creator":
		return domain.RoleOwner
	case "administrator":
		return domain.RoleAdmin
	case "restricted":
		return domain.RoleRestricted
	default:
		return domain.RoleMember
	}
}
