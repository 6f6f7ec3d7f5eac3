package policy

import "github.com/davidahmann/riskledger/pkg/types"

// Rules are applied in order; every matching rule adds its points.
var Rules = []Rule{
	{ID: "overdue_ratio", Points: 20, Match: func(r types.DecisionRequest) bool { return r.OverdueRatio >= OverdueRatioTrigger }},
	{ID: "order_value", Points: 15, Match: func(r types.DecisionRequest) bool { return r.OrderValueEUR >= HighValueOrderEUR }},
	{ID: "risk_class", Points: 10, Match: func(r types.DecisionRequest) bool { return r.RiskClass == "C" || r.RiskClass == "D" }},
	{ID: "country_risk", Points: 10, Match: func(r types.DecisionRequest) bool { return r.CountryRisk >= HighCountryRisk }},
	{ID: "new_customer", Points: 5, Match: func(r types.DecisionRequest) bool { return r.IsNewCustomer }},
	{ID: "past_limit_breach", Points: 15, Match: func(r types.DecisionRequest) bool { return r.PastLimitBreach }},
	{ID: "incoterm_exw", Points: 5, Match: func(r types.DecisionRequest) bool { return r.Incoterm == "EXW" }},
}

// Evaluate scores req and classifies it against DefaultThresholds.
// It has no side effects and returns the same result for the same request.
func Evaluate(req types.DecisionRequest) Result {
	result := Result{
		Score:       BaseScore,
		Thresholds:  DefaultThresholds,
		RuleVersion: RuleVersion,
	}

	for _, rule := range Rules {
		if !rule.Match(req) {
			continue
		}
		result.Score += rule.Points
		result.ReasonCodes = append(result.ReasonCodes, "RULE_MATCH:"+rule.ID)
	}

	th := result.Thresholds
	switch {
	case result.Score >= th.BlockMin:
		result.Verdict, result.Rationale = types.VerdictBlock, RationaleBlock
	case result.Score >= th.ReviewRange[0] && result.Score <= th.ReviewRange[1]:
		result.Verdict, result.Rationale = types.VerdictReview, RationaleReview
	case withinTerms(req):
		result.Verdict, result.Rationale = types.VerdictAllow, RationaleAllow
	default:
		result.Verdict, result.Rationale = types.VerdictReview, RationaleDemoted
	}
	return result
}

// withinTerms is the secondary gate for low scores.
func withinTerms(req types.DecisionRequest) bool {
	return req.DSOProxyDays <= req.PaymentTermsDays+DSOToleranceDays && !req.PastLimitBreach
}

// RequiresFourEyes reports whether overriding a decision on req needs an admin.
func RequiresFourEyes(req types.DecisionRequest) bool {
	return req.OrderValueEUR >= HighValueOrderEUR || req.CountryRisk >= HighCountryRisk
}
