package ledger

import (
	"context"
	"testing"

	"github.com/davidahmann/riskledger/pkg/types"
)

const testThresholds = `{"allow_max":59,"block_min":80,"review_range":[60,79]}`

// Row hashes of the three fixture records, computed independently.
const (
	fixtureHash1 = "feaf6a1630ae5351541162350a5207cad2eb2baff50949122303803250a32df2"
	fixtureHash2 = "a067f66018dface6d7cb291908476ebd6ce5fd674e6428fd6262045a811a622a"
	fixtureHash3 = "e7ca7de9c01ad3f522ac9006cbbc06d13501851dd44a2cf02cd4819f306a930d"
)

func strPtr(s string) *string {
	return &s
}

func fixtureBase(id, orderID, ts string, verdict types.Verdict, score int) Record {
	return Record{
		DecisionID:     id,
		TSUTC:          ts,
		OrderID:        orderID,
		CustomerID:     "C-1",
		InputJSON:      `{"order_id":"` + orderID + `"}`,
		Score:          score,
		ThresholdsJSON: testThresholds,
		Decision:       verdict,
		RuleVersion:    "rules_v1.2",
		DataVersion:    "dv1.0",
		ActorSys:       "credit_decision_api",
	}
}

func fixtureOverride(base Record, ts string) Record {
	rec := base
	rec.Seq = 0
	rec.PrevHash = ""
	rec.RowHash = ""
	rec.TSUTC = ts
	rec.Decision = types.VerdictAllow
	rec.ActorSys = "credit_override_api"
	rec.ActorUX = strPtr("admin@demo")
	rec.Overridden = true
	rec.OverrideReason = strPtr("Collateral received from customer")
	rec.SecondApproval = true
	return rec
}

// seedLedger appends two bases and one override and returns the stored records.
func seedLedger(t *testing.T, l *Ledger) []Record {
	t.Helper()
	ctx := context.Background()

	first, appended, err := l.AppendBase(ctx, fixtureBase("dec-a", "O-1", "2025-01-01T00:00:00Z", types.VerdictReview, 65))
	if err != nil || !appended {
		t.Fatalf("append first: appended=%v err=%v", appended, err)
	}
	second, appended, err := l.AppendBase(ctx, fixtureBase("dec-b", "O-2", "2025-01-01T00:00:01Z", types.VerdictAllow, 50))
	if err != nil || !appended {
		t.Fatalf("append second: appended=%v err=%v", appended, err)
	}
	third, err := l.AppendOverride(ctx, fixtureOverride(first, "2025-01-01T00:00:02Z"), nil)
	if err != nil {
		t.Fatalf("append override: %v", err)
	}
	return []Record{first, second, third}
}
