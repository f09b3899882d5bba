package evaluation

import "github.com/flagcore/backend/internal/hashing"

// Matcher decides whether a rule applies to a context, combining the
// condition predicates (AND) with the deterministic percentage rollout.
type Matcher struct {
	bucketer *hashing.Bucketer
}

// NewMatcher creates a matcher using the given bucketer for rollouts.
func NewMatcher(bucketer *hashing.Bucketer) *Matcher {
	if bucketer == nil {
		bucketer = hashing.NewBucketer(0)
	}
	return &Matcher{bucketer: bucketer}
}

// Matches reports whether the rule admits the context. A disabled rule never
// matches. Every condition must hold. When percentage < 100 the context must
// carry a userId and the user's bucket for this rule must fall inside the
// percentage; percentage == 100 admits even without a userId, percentage == 0
// admits nobody.
func (m *Matcher) Matches(rule *Rule, ctx Context) bool {
	if !rule.Enabled {
		return false
	}

	for i := range rule.Conditions {
		if !EvaluateCondition(&rule.Conditions[i], ctx) {
			return false
		}
	}

	if rule.Percentage >= 100 {
		return true
	}

	userID := ctx.UserID()
	if userID == "" {
		return false
	}
	return m.bucketer.Bucket(rule.ID, userID) <= rule.Percentage
}
