package firewall

import (
	"slices"
	"strings"
	"time"

	"groupguard/internal/domain"
)

// EvaluateCondition reports whether a single condition holds for the event
// and the sender's role. Malformed conditions evaluate to false.
func EvaluateCondition(cond domain.Condition, ev *domain.Event, role domain.Role) bool {
	switch c := cond.(type) {
	case domain.TextContainsCondition:
		return evalTextContains(c, ev)
	case domain.RegexCondition:
		return evalRegex(c, ev)
	case domain.KeywordCondition:
		return evalKeyword(c, ev)
	case domain.MediaTypeCondition:
		for _, t := range c.Types {
			if slices.Contains(ev.MediaTypes, t) {
				return true
			}
		}
		return false
	case domain.LinkDomainCondition:
		return evalLinkDomain(c, ev)
	case domain.UserRoleCondition:
		return slices.Contains(c.Roles, role)
	case domain.TimeRangeCondition:
		return evalTimeRange(c, ev.Timestamp)
	case domain.MessageLengthCondition:
		if c.Min != nil && ev.MessageLength < *c.Min {
			return false
		}
		if c.Max != nil && ev.MessageLength > *c.Max {
			return false
		}
		return true
	default:
		return false
	}
}

func evalTextContains(c domain.TextContainsCondition, ev *domain.Event) bool {
	if ev.Text == "" {
		return false
	}
	if c.CaseSensitive {
		return strings.Contains(ev.Text, c.Value)
	}
	return strings.Contains(ev.TextLower, strings.ToLower(c.Value))
}

func evalRegex(c domain.RegexCondition, ev *domain.Event) bool {
	if ev.Text == "" {
		return false
	}
	re, err := domain.CompileRegex(c.Pattern, c.Flags)
	if err != nil {
		return false
	}
	return re.MatchString(ev.Text)
}

func evalKeyword(c domain.KeywordCondition, ev *domain.Event) bool {
	if ev.Text == "" {
		return false
	}
	haystack := ev.TextLower
	if c.CaseSensitive {
		haystack = ev.Text
	}
	contains := func(kw string) bool {
		if !c.CaseSensitive {
			kw = strings.ToLower(kw)
		}
		return strings.Contains(haystack, kw)
	}
	if c.Match == domain.KeywordAll {
		for _, kw := range c.Keywords {
			if !contains(kw) {
				return false
			}
		}
		return true
	}
	return slices.ContainsFunc(c.Keywords, contains)
}

func evalLinkDomain(c domain.LinkDomainCondition, ev *domain.Event) bool {
	if len(ev.Domains) == 0 {
		return false
	}
	for _, d := range ev.Domains {
		for _, allowed := range c.Domains {
			allowed = strings.ToLower(strings.TrimSpace(allowed))
			if allowed == "" {
				continue
			}
			if d == allowed {
				return true
			}
			if c.AllowSubdomains && strings.HasSuffix(d, "."+allowed) {
				return true
			}
		}
	}
	return false
}

func evalTimeRange(c domain.TimeRangeCondition, ts time.Time) bool {
	loc := time.UTC
	if c.Timezone != "" {
		l, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return false
		}
		loc = l
	}
	hour := ts.In(loc).Hour()
	start := normalizeHour(c.StartHour)
	end := normalizeHour(c.EndHour)

	switch {
	case start == end:
		return true
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}

func normalizeHour(h int) int {
	return ((h % 24) + 24) % 24
}
