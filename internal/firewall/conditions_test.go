package firewall

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"groupguard/internal/domain"
)

func atHour(h int) *domain.Event {
	return &domain.Event{Kind: domain.EventText, Timestamp: time.Date(2026, 1, 15, h, 30, 0, 0, time.UTC)}
}

func TestTimeRangeCondition(t *testing.T) {
	assert := assert.New(t)

	day := domain.TimeRangeCondition{StartHour: 9, EndHour: 17}
	assert.True(EvaluateCondition(day, atHour(12), domain.RoleMember))
	assert.True(EvaluateCondition(day, atHour(9), domain.RoleMember))
	assert.False(EvaluateCondition(day, atHour(17), domain.RoleMember))
	assert.False(EvaluateCondition(day, atHour(20), domain.RoleMember))

	night := domain.TimeRangeCondition{StartHour: 22, EndHour: 6}
	assert.True(EvaluateCondition(night, atHour(23), domain.RoleMember))
	assert.True(EvaluateCondition(night, atHour(2), domain.RoleMember))
	assert.False(EvaluateCondition(night, atHour(12), domain.RoleMember))

	whole := domain.TimeRangeCondition{StartHour: 5, EndHour: 5}
	for h := 0; h < 24; h++ {
		assert.True(EvaluateCondition(whole, atHour(h), domain.RoleMember), "hour %d", h)
	}

	wrapped := domain.TimeRangeCondition{StartHour: 33, EndHour: -7}
	assert.True(EvaluateCondition(wrapped, atHour(10), domain.RoleMember))
	assert.False(EvaluateCondition(wrapped, atHour(18), domain.RoleMember))
}

func TestTimeRangeConditionTimezone(t *testing.T) {
	assert := assert.New(t)

	// 12:30 UTC is 21:30 in Tokyo.
	cond := domain.TimeRangeCondition{StartHour: 21, EndHour: 22, Timezone: "Asia/Tokyo"}
	assert.True(EvaluateCondition(cond, atHour(12), domain.RoleMember))

	bad := domain.TimeRangeCondition{StartHour: 0, EndHour: 0, Timezone: "Mars/Olympus"}
	assert.False(EvaluateCondition(bad, atHour(12), domain.RoleMember))
}

func TestLinkDomainCondition(t *testing.T) {
	assert := assert.New(t)
	ev := func(domains ...string) *domain.Event {
		return &domain.Event{Kind: domain.EventText, Domains: domains}
	}

	sub := domain.LinkDomainCondition{Domains: []string{"example.com"}, AllowSubdomains: true}
	assert.True(EvaluateCondition(sub, ev("mail.example.com"), domain.RoleMember))
	assert.True(EvaluateCondition(sub, ev("example.com"), domain.RoleMember))
	assert.False(EvaluateCondition(sub, ev("badexample.com"), domain.RoleMember))
	assert.False(EvaluateCondition(sub, ev(), domain.RoleMember))

	exact := domain.LinkDomainCondition{Domains: []string{" Example.COM "}}
	assert.True(EvaluateCondition(exact, ev("example.com"), domain.RoleMember))
	assert.False(EvaluateCondition(exact, ev("mail.example.com"), domain.RoleMember))
}

func TestTextConditions(t *testing.T) {
	assert := assert.New(t)
	ev := textEvent("Join the Crypto AIRDROP today", time.Now())
	empty := &domain.Event{Kind: domain.EventMedia, MediaTypes: []string{"photo"}}

	assert.True(EvaluateCondition(domain.TextContainsCondition{Value: "airdrop"}, ev, domain.RoleMember))
	assert.False(EvaluateCondition(domain.TextContainsCondition{Value: "airdrop", CaseSensitive: true}, ev, domain.RoleMember))
	assert.True(EvaluateCondition(domain.TextContainsCondition{Value: "AIRDROP", CaseSensitive: true}, ev, domain.RoleMember))
	assert.False(EvaluateCondition(domain.TextContainsCondition{Value: "airdrop"}, empty, domain.RoleMember))

	anyKw := domain.KeywordCondition{Keywords: []string{"scam", "airdrop"}, Match: domain.KeywordAny}
	allKw := domain.KeywordCondition{Keywords: []string{"scam", "airdrop"}, Match: domain.KeywordAll}
	assert.True(EvaluateCondition(anyKw, ev, domain.RoleMember))
	assert.False(EvaluateCondition(allKw, ev, domain.RoleMember))
	assert.False(EvaluateCondition(domain.KeywordCondition{Keywords: []string{"Crypto"}, Match: domain.KeywordAny, CaseSensitive: true}, textEvent("crypto", time.Now()), domain.RoleMember))
	assert.False(EvaluateCondition(anyKw, empty, domain.RoleMember))
}

func TestRegexCondition(t *testing.T) {
	assert := assert.New(t)
	ev := textEvent("Buy NOW at discount", time.Now())

	assert.True(EvaluateCondition(domain.RegexCondition{Pattern: `buy\s+now`}, ev, domain.RoleMember))
	assert.False(EvaluateCondition(domain.RegexCondition{Pattern: `buy\s+now`, Flags: strPtr("")}, ev, domain.RoleMember))
	assert.True(EvaluateCondition(domain.RegexCondition{Pattern: `buy\s+now`, Flags: strPtr("gi")}, ev, domain.RoleMember))
	assert.False(EvaluateCondition(domain.RegexCondition{Pattern: `buy\s+now`, Flags: strPtr("ix")}, ev, domain.RoleMember))
	assert.False(EvaluateCondition(domain.RegexCondition{Pattern: `(unclosed`}, ev, domain.RoleMember))
}

func TestMediaRoleLengthConditions(t *testing.T) {
	assert := assert.New(t)
	media := &domain.Event{Kind: domain.EventMedia, MediaTypes: []string{"photo", "sticker"}, MessageLength: 10}

	assert.True(EvaluateCondition(domain.MediaTypeCondition{Types: []string{"video", "sticker"}}, media, domain.RoleMember))
	assert.False(EvaluateCondition(domain.MediaTypeCondition{Types: []string{"voice"}}, media, domain.RoleMember))

	roles := domain.UserRoleCondition{Roles: []domain.Role{domain.RoleMember, domain.RoleRestricted}}
	assert.True(EvaluateCondition(roles, media, domain.RoleRestricted))
	assert.False(EvaluateCondition(roles, media, domain.RoleAdmin))

	assert.True(EvaluateCondition(domain.MessageLengthCondition{}, media, domain.RoleMember))
	assert.True(EvaluateCondition(domain.MessageLengthCondition{Min: intPtr(10), Max: intPtr(10)}, media, domain.RoleMember))
	assert.False(EvaluateCondition(domain.MessageLengthCondition{Min: intPtr(11)}, media, domain.RoleMember))
	assert.False(EvaluateCondition(domain.MessageLengthCondition{Max: intPtr(9)}, media, domain.RoleMember))
}

func TestMatchRule(t *testing.T) {
	assert := assert.New(t)
	ev := textEvent("hello world", time.Now())
	yes := domain.TextContainsCondition{Value: "hello"}
	no := domain.TextContainsCondition{Value: "bye"}

	assert.True(MatchRule(domain.Rule{MatchAll: true}, ev, domain.RoleMember))
	assert.True(MatchRule(domain.Rule{MatchAll: false}, ev, domain.RoleMember))

	assert.True(MatchRule(domain.Rule{MatchAll: true, Conditions: domain.ConditionList{yes, yes}}, ev, domain.RoleMember))
	assert.False(MatchRule(domain.Rule{MatchAll: true, Conditions: domain.ConditionList{yes, no}}, ev, domain.RoleMember))
	assert.True(MatchRule(domain.Rule{MatchAll: false, Conditions: domain.ConditionList{no, yes}}, ev, domain.RoleMember))
	assert.False(MatchRule(domain.Rule{MatchAll: false, Conditions: domain.ConditionList{no, no}}, ev, domain.RoleMember))
}
