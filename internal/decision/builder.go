package decision

import (
	"encoding/json"
	"time"

	"github.com/davidahmann/riskledger/internal/crypto"
	"github.com/davidahmann/riskledger/internal/ledger"
	"github.com/davidahmann/riskledger/internal/policy"
	"github.com/davidahmann/riskledger/pkg/types"
)

const (
	IDPrefix = "dec-"

	// ActorDecisionAPI is recorded as actor_sys on base records.
	ActorDecisionAPI = "credit_decision_api"

	TimestampLayout = ledger.TimestampLayout
)

// Normalize fills request defaults.
func Normalize(req types.DecisionRequest) types.DecisionRequest {
	if req.DataVersion == "" {
		req.DataVersion = types.DefaultDataVersion
	}
	return req
}

// CanonicalRequest returns the canonical JSON of a normalized request.
// Amounts and the overdue ratio are always encoded as floats so that 60000
// and 60000.0 from a caller hash the same.
func CanonicalRequest(req types.DecisionRequest) ([]byte, error) {
	return crypto.Canonicalize(map[string]any{
		"order_id":           req.OrderID,
		"customer_id":        req.CustomerID,
		"order_value_eur":    req.OrderValueEUR,
		"payment_terms_days": req.PaymentTermsDays,
		"overdue_ratio":      req.OverdueRatio,
		"dso_proxy_days":     req.DSOProxyDays,
		"risk_class":         req.RiskClass,
		"country_risk":       req.CountryRisk,
		"incoterm":           req.Incoterm,
		"is_new_customer":    req.IsNewCustomer,
		"credit_limit_eur":   req.CreditLimitEUR,
		"past_limit_breach":  req.PastLimitBreach,
		"express_flag":       req.ExpressFlag,
		"data_version":       req.DataVersion,
	})
}

// DecisionID derives the identity of req and returns the canonical bytes it
// was computed from.
func DecisionID(req types.DecisionRequest) (string, []byte, error) {
	canonical, err := CanonicalRequest(Normalize(req))
	if err != nil {
		return "", nil, err
	}
	return IDPrefix + crypto.DigestHex(canonical), canonical, nil
}

// ParseStoredRequest decodes the input_json column of a ledger record.
func ParseStoredRequest(inputJSON string) (types.DecisionRequest, error) {
	var req types.DecisionRequest
	if err := json.Unmarshal([]byte(inputJSON), &req); err != nil {
		return types.DecisionRequest{}, err
	}
	return req, nil
}

// ThresholdsJSON renders th compactly in allow_max, review_range, block_min
// order, the column format decision records have always carried.
func ThresholdsJSON(th types.Thresholds) ([]byte, error) {
	return json.Marshal(th)
}

// BuildBaseRecord assembles the unsealed base record for req. An empty ts
// leaves ts_utc for the ledger to stamp at append time.
func BuildBaseRecord(req types.DecisionRequest, result policy.Result, ts string) (ledger.Record, error) {
	req = Normalize(req)
	id, canonical, err := DecisionID(req)
	if err != nil {
		return ledger.Record{}, err
	}
	thresholds, err := ThresholdsJSON(result.Thresholds)
	if err != nil {
		return ledger.Record{}, err
	}

	return ledger.Record{
		DecisionID:     id,
		TSUTC:          ts,
		OrderID:        req.OrderID,
		CustomerID:     req.CustomerID,
		InputJSON:      string(canonical),
		Score:          result.Score,
		ThresholdsJSON: string(thresholds),
		Decision:       result.Verdict,
		RuleVersion:    result.RuleVersion,
		DataVersion:    req.DataVersion,
		ActorSys:       ActorDecisionAPI,
	}, nil
}

func FormatTimestamp(t time.Time) string {
	return ledger.FormatTimestamp(t)
}
