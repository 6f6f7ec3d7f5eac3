package policy

import (
	"reflect"
	"testing"

	"github.com/davidahmann/riskledger/pkg/types"
)

func baseRequest() types.DecisionRequest {
	return types.DecisionRequest{
		OrderID:          "o-1",
		CustomerID:       "c-1",
		OrderValueEUR:    1000,
		PaymentTermsDays: 30,
		OverdueRatio:     0,
		DSOProxyDays:     20,
		RiskClass:        "A",
		CountryRisk:      1,
		Incoterm:         "DDP",
		CreditLimitEUR:   10000,
		DataVersion:      "dv1.0",
	}
}

func TestEvaluateLowRiskAllows(t *testing.T) {
	got := Evaluate(baseRequest())
	if got.Score != 50 {
		t.Fatalf("expected score 50, got %d", got.Score)
	}
	if got.Verdict != types.VerdictAllow {
		t.Fatalf("expected ALLOW, got %s", got.Verdict)
	}
	if got.Rationale != RationaleAllow {
		t.Fatalf("unexpected rationale %q", got.Rationale)
	}
	if got.RuleVersion != RuleVersion {
		t.Fatalf("unexpected rule version %q", got.RuleVersion)
	}
	if len(got.ReasonCodes) != 0 {
		t.Fatalf("expected no reason codes, got %v", got.ReasonCodes)
	}
}

func TestEvaluateHighRiskBlocks(t *testing.T) {
	req := baseRequest()
	req.OverdueRatio = 0.30
	req.OrderValueEUR = 60000
	req.RiskClass = "C"
	req.CountryRisk = 5
	req.Incoterm = "DAP"

	got := Evaluate(req)
	if got.Score != 105 {
		t.Fatalf("expected score 105, got %d", got.Score)
	}
	if got.Verdict != types.VerdictBlock || got.Rationale != RationaleBlock {
		t.Fatalf("expected BLOCK, got %s (%s)", got.Verdict, got.Rationale)
	}
	want := []string{"RULE_MATCH:overdue_ratio", "RULE_MATCH:order_value", "RULE_MATCH:risk_class", "RULE_MATCH:country_risk"}
	if !reflect.DeepEqual(got.ReasonCodes, want) {
		t.Fatalf("unexpected reason codes %v", got.ReasonCodes)
	}
}

func TestEvaluateReviewBand(t *testing.T) {
	req := baseRequest()
	req.OrderValueEUR = 60000 // +15 -> 65

	got := Evaluate(req)
	if got.Score != 65 || got.Verdict != types.VerdictReview || got.Rationale != RationaleReview {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestEvaluateBandEdges(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*types.DecisionRequest)
		score   int
		verdict types.Verdict
	}{
		{"55 allows", func(r *types.DecisionRequest) { r.IsNewCustomer = true }, 55, types.VerdictAllow},
		{"60 reviews", func(r *types.DecisionRequest) { r.RiskClass = "D" }, 60, types.VerdictReview},
		{"75 reviews", func(r *types.DecisionRequest) { r.OrderValueEUR = 50000; r.CountryRisk = 4 }, 75, types.VerdictReview},
		{"80 blocks", func(r *types.DecisionRequest) { r.OverdueRatio = 0.25; r.RiskClass = "C" }, 80, types.VerdictBlock},
		{"exw counts", func(r *types.DecisionRequest) { r.Incoterm = "EXW" }, 55, types.VerdictAllow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := baseRequest()
			tc.mutate(&req)
			got := Evaluate(req)
			if got.Score != tc.score || got.Verdict != tc.verdict {
				t.Fatalf("expected %d/%s, got %d/%s", tc.score, tc.verdict, got.Score, got.Verdict)
			}
		})
	}
}

func TestEvaluateSecondaryGateDemotes(t *testing.T) {
	req := baseRequest()
	req.DSOProxyDays = 41 // terms 30 + 10 exceeded

	got := Evaluate(req)
	if got.Verdict != types.VerdictReview || got.Rationale != RationaleDemoted {
		t.Fatalf("expected demoted REVIEW, got %s (%s)", got.Verdict, got.Rationale)
	}

	req = baseRequest()
	req.DSOProxyDays = 40
	if got := Evaluate(req); got.Verdict != types.VerdictAllow {
		t.Fatalf("expected ALLOW at the tolerance edge, got %s", got.Verdict)
	}
}

func TestEvaluatePastBreachAlwaysReviewsOrWorse(t *testing.T) {
	req := baseRequest()
	req.PastLimitBreach = true // 65

	got := Evaluate(req)
	if got.Verdict != types.VerdictReview || got.Score != 65 {
		t.Fatalf("expected REVIEW 65, got %s %d", got.Verdict, got.Score)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	req := baseRequest()
	req.OverdueRatio = 0.5
	first := Evaluate(req)
	for i := 0; i < 50; i++ {
		if got := Evaluate(req); !reflect.DeepEqual(got, first) {
			t.Fatalf("evaluation %d differs: %+v vs %+v", i, got, first)
		}
	}
}

func TestRequiresFourEyes(t *testing.T) {
	req := baseRequest()
	if RequiresFourEyes(req) {
		t.Fatalf("small domestic order should not need four eyes")
	}
	req.OrderValueEUR = 50000
	if !RequiresFourEyes(req) {
		t.Fatalf("order value at threshold needs four eyes")
	}
	req = baseRequest()
	req.CountryRisk = 4
	if !RequiresFourEyes(req) {
		t.Fatalf("country risk 4 needs four eyes")
	}
}
