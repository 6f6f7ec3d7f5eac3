package policy

import "github.com/davidahmann/riskledger/pkg/types"

const RuleVersion = "rules_v1.2"

const BaseScore = 50

// DefaultThresholds is the fixed banding every decision is classified against.
var DefaultThresholds = types.Thresholds{
	AllowMax:    59,
	ReviewRange: [2]int{60, 79},
	BlockMin:    80,
}

type Rule struct {
	ID     string
	Points int
	Match  func(req types.DecisionRequest) bool
}

type Result struct {
	Score       int
	Verdict     types.Verdict
	Rationale   string
	ReasonCodes []string
	Thresholds  types.Thresholds
	RuleVersion string
}

const (
	RationaleBlock   = "High risk: overdue/amount/risk signals"
	RationaleReview  = "Medium risk: manual check required"
	RationaleAllow   = "Low risk within terms"
	RationaleDemoted = "DSO near/over target or history flag"
)

const (
	HighValueOrderEUR   = 50000.0
	HighCountryRisk     = 4
	OverdueRatioTrigger = 0.25
	DSOToleranceDays    = 10
)
