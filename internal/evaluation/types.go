// Package evaluation contains the flag evaluation core: the condition
// operator table, rule matching with percentage rollouts, and the
// orchestrator that ties definitions, caches, and metrics together.
package evaluation

import (
	"regexp"
	"sort"
	"time"
)

// Operator identifies a condition predicate.
type Operator string

const (
	OpEquals     Operator = "EQUALS"
	OpNotEquals  Operator = "NOT_EQUALS"
	OpContains   Operator = "CONTAINS"
	OpNotContain Operator = "NOT_CONTAINS"
	OpStartsWith Operator = "STARTS_WITH"
	OpEndsWith   Operator = "ENDS_WITH"
	OpGT         Operator = "GT"
	OpLT         Operator = "LT"
	OpGTE        Operator = "GTE"
	OpLTE        Operator = "LTE"
	OpIn         Operator = "IN"
	OpNotIn      Operator = "NOT_IN"
	OpIsNull     Operator = "IS_NULL"
	OpIsNotNull  Operator = "IS_NOT_NULL"
	OpIsEmpty    Operator = "IS_EMPTY"
	OpIsNotEmpty Operator = "IS_NOT_EMPTY"
)

// KeyPattern validates flag keys: lowercase alphanumerics and hyphens,
// starting with an alphanumeric, at most 255 characters.
var KeyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,254}$`)

// Condition is the atomic predicate over a single context attribute.
// Attribute is a dotted path into the evaluation context
// (e.g. "location.country"). Value is a polymorphic JSON scalar or array.
type Condition struct {
	ID        string      `json:"id"`
	RuleID    string      `json:"ruleId"`
	Attribute string      `json:"attribute"`
	Operator  Operator    `json:"operator"`
	Value     interface{} `json:"value"`

	// Precomputed membership index for large homogeneous IN/NOT_IN lists.
	// Built by Prepare; nil means linear scan.
	sortedStrings []string
	sortedNumbers []float64
}

// membershipIndexThreshold is the list size above which IN/NOT_IN switches
// from linear scan to binary search over a sorted copy.
const membershipIndexThreshold = 10

// Prepare builds the sorted membership index for IN/NOT_IN conditions whose
// expected value is an array of more than membershipIndexThreshold elements,
// all strings or all numbers. Mixed-type arrays keep the linear scan; a
// numeric string is a string here, matching the strict equality the scan
// applies.
func (c *Condition) Prepare() {
	if c.Operator != OpIn && c.Operator != OpNotIn {
		return
	}
	arr, ok := c.Value.([]interface{})
	if !ok || len(arr) <= membershipIndexThreshold {
		return
	}

	strs := make([]string, 0, len(arr))
	nums := make([]float64, 0, len(arr))
	allStrings, allNumbers := true, true
	for _, v := range arr {
		if s, ok := v.(string); ok {
			strs = append(strs, s)
		} else {
			allStrings = false
		}
		if n, ok := numericValue(v); ok {
			nums = append(nums, n)
		} else {
			allNumbers = false
		}
	}

	switch {
	case allStrings:
		sort.Strings(strs)
		c.sortedStrings = strs
	case allNumbers:
		sort.Float64s(nums)
		c.sortedNumbers = nums
	}
}

// Rule is a predicate plus percentage rollout. All conditions must hold
// (AND); rules compose into flags with first-match-wins semantics.
type Rule struct {
	ID         string      `json:"id"`
	FlagID     string      `json:"flagId"`
	Name       string      `json:"name"`
	Enabled    bool        `json:"enabled"`
	Percentage int         `json:"percentage"` // [0,100]
	Position   int         `json:"position"`   // evaluation order within the flag
	Conditions []Condition `json:"conditions"`
}

// Flag is a tenant-scoped feature flag definition snapshot.
// (TenantID, Key) is unique; Enabled=false short-circuits evaluation.
type Flag struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Enabled     bool      `json:"enabled"`
	Rules       []Rule    `json:"rules"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Normalize prepares a freshly loaded or decoded flag for evaluation:
// rules sorted by position and membership indexes built.
func (f *Flag) Normalize() {
	sort.SliceStable(f.Rules, func(i, j int) bool {
		return f.Rules[i].Position < f.Rules[j].Position
	})
	for i := range f.Rules {
		for j := range f.Rules[i].Conditions {
			f.Rules[i].Conditions[j].Prepare()
		}
	}
}

// Source classifies where an evaluation result came from.
type Source string

const (
	SourceRule     Source = "RULE"
	SourceDefault  Source = "DEFAULT"
	SourceDisabled Source = "DISABLED"
	SourceCache    Source = "CACHE"
	SourceError    Source = "ERROR"
)

// Evaluation reasons surfaced to callers.
const (
	ReasonRuleMatch    = "RULE_MATCH"
	ReasonNoRuleMatch  = "NO_RULE_MATCH"
	ReasonNoRules      = "NO_RULES"
	ReasonFlagDisabled = "FLAG_DISABLED"
	ReasonFlagNotFound = "FLAG_NOT_FOUND"
	ReasonEvalError    = "EVALUATION_ERROR"
)

// Result is the outcome of evaluating one flag for one context.
// Value is nil (JSON null) when the flag does not exist.
type Result struct {
	Value  *bool  `json:"value"`
	Source Source `json:"source"`
	Reason string `json:"reason"`
	RuleID string `json:"ruleId,omitempty"`
}

func boolPtr(v bool) *bool { return &v }

// NewRuleResult builds a RULE_MATCH result for the given rule.
func NewRuleResult(ruleID string) *Result {
	return &Result{Value: boolPtr(true), Source: SourceRule, Reason: ReasonRuleMatch, RuleID: ruleID}
}

// NewDefaultResult builds a DEFAULT result with the given reason.
func NewDefaultResult(reason string) *Result {
	return &Result{Value: boolPtr(false), Source: SourceDefault, Reason: reason}
}

// NewNotFoundResult builds the undefined-value result for a missing flag.
func NewNotFoundResult() *Result {
	return &Result{Value: nil, Source: SourceDefault, Reason: ReasonFlagNotFound}
}

// NewDisabledResult builds the short-circuit result for a disabled flag.
func NewDisabledResult() *Result {
	return &Result{Value: boolPtr(false), Source: SourceDisabled, Reason: ReasonFlagDisabled}
}

// NewErrorResult builds the degraded result for an in-process failure.
func NewErrorResult() *Result {
	return &Result{Value: boolPtr(false), Source: SourceError, Reason: ReasonEvalError}
}
