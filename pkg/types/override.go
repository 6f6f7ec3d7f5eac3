package types

type OverrideRequest struct {
	DecisionID     string  `json:"decision_id" validate:"required"`
	NewDecision    Verdict `json:"new_decision" validate:"required"`
	OverrideReason string  `json:"override_reason" validate:"required"`
}

type OverrideResponse struct {
	DecisionID       string  `json:"decision_id"`
	OriginalDecision Verdict `json:"original_decision"`
	NewDecision      Verdict `json:"new_decision"`
	FourEyesRequired bool    `json:"four_eyes_required"`
	TimestampUTC     string  `json:"timestamp_utc"`
	Seq              int64   `json:"seq"`
}

// CurrentRuling is the ledger's present answer for a decision identity.
type CurrentRuling struct {
	DecisionID     string  `json:"decision_id"`
	Decision       Verdict `json:"decision"`
	Overridden     bool    `json:"overridden"`
	OverrideReason *string `json:"override_reason,omitempty"`
	ActorUX        *string `json:"actor_ux,omitempty"`
	SecondApproval bool    `json:"second_approval"`
	TimestampUTC   string  `json:"timestamp_utc"`
	Seq            int64   `json:"seq"`
}

type HealthResponse struct {
	Status          string `json:"status"`
	LedgerReachable bool   `json:"ledger_reachable"`
	RuleVersion     string `json:"rule_version"`
	ServiceVersion  string `json:"service_version"`
}
