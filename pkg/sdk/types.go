package sdk

import "time"

// Result is one flag decision as returned by the evaluation API. Value is nil
// when the flag does not exist for the tenant.
type Result struct {
	Value  *bool  `json:"value"`
	Source string `json:"source"`
	Reason string `json:"reason"`
	RuleID string `json:"ruleId,omitempty"`
}

// Enabled reads the decision with a default for missing flags.
func (r *Result) Enabled(fallback bool) bool {
	if r == nil || r.Value == nil {
		return fallback
	}
	return *r.Value
}

// BatchResult is the aggregate outcome of a batch evaluation.
type BatchResult struct {
	Results  map[string]*Result `json:"results"`
	Errors   map[string]string  `json:"errors,omitempty"`
	Metadata BatchMetadata      `json:"metadata"`
}

// BatchMetadata carries whole-batch timing reported by the service.
type BatchMetadata struct {
	LatencyMs   int64     `json:"latency_ms"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Context is the evaluation context sent with each request. Well-known
// attributes (userId, userRole, userGroups, deviceType, location, ...) drive
// targeting rules; anything else is passed through untouched.
type Context map[string]interface{}

// FlagUpdate announces a server-side flag change received on the stream. An
// empty Key means every flag of the tenant may have changed.
type FlagUpdate struct {
	Tenant    string `json:"tenant"`
	Key       string `json:"key"`
	Timestamp string `json:"timestamp"`
}
