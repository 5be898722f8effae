package firewall

import "groupguard/internal/domain"

// MatchRule combines a rule's conditions per its MatchAll policy. A rule
// without conditions always matches.
func MatchRule(rule domain.Rule, ev *domain.Event, role domain.Role) bool {
	if len(rule.Conditions) == 0 {
		return true
	}
	if rule.MatchAll {
		for _, c := range rule.Conditions {
			if !EvaluateCondition(c, ev, role) {
				return false
			}
		}
		return true
	}
	for _, c := range rule.Conditions {
		if EvaluateCondition(c, ev, role) {
			return true
		}
	}
	return false
}
