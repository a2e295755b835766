package domain

// OverrideRule is an operator-defined threshold override. The CEL
// expression is evaluated against the enriched feature fields of an
// event; when it yields true, the configured threshold replaces the
// one chosen by the built-in adaptive policy.
//
// Overrides never change the score or the fallback contract, only the
// cutoff used to assign the verdict.
type OverrideRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// EventType the rule applies to: "handshake" or "file"
	EventType EventType `json:"eventType"`

	// CEL expression over enriched feature fields, must return bool
	Expression string `json:"expression"`

	// Threshold pinned when the expression matches, in (0,1)
	Threshold float64 `json:"threshold"`

	// Whether the rule is active
	Enabled bool `json:"enabled"`
}

// OverrideResult is the outcome of evaluating one override rule.
type OverrideResult struct {
	RuleID    string  `json:"ruleId"`
	Matched   bool    `json:"matched"`
	Threshold float64 `json:"threshold"`
	Reason    string  `json:"reason,omitempty"`
}
