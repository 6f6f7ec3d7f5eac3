package ledger

import (
	"github.com/davidahmann/riskledger/internal/crypto"
)

// HashPayload is the record view covered by row_hash: every column except
// seq, prev_hash and row_hash.
func (r Record) HashPayload() map[string]any {
	return map[string]any{
		"decision_id":     r.DecisionID,
		"ts_utc":          r.TSUTC,
		"order_id":        r.OrderID,
		"customer_id":     r.CustomerID,
		"input_json":      r.InputJSON,
		"score":           r.Score,
		"thresholds_json": r.ThresholdsJSON,
		"decision":        string(r.Decision),
		"rule_version":    r.RuleVersion,
		"data_version":    r.DataVersion,
		"actor_sys":       r.ActorSys,
		"actor_ux":        r.ActorUX,
		"overridden":      boolInt(r.Overridden),
		"override_reason": r.OverrideReason,
		"second_approval": boolInt(r.SecondApproval),
	}
}

// ComputeRowHash returns sha256(prevHash || canonical(payload) || ts_utc) as hex.
func ComputeRowHash(prevHash string, r Record) (string, error) {
	payload, err := crypto.Canonicalize(r.HashPayload())
	if err != nil {
		return "", err
	}
	return crypto.ChainDigestHex([]byte(prevHash), payload, []byte(r.TSUTC)), nil
}

// Seal links r to prevHash and fills in its row hash.
func Seal(prevHash string, r Record) (Record, error) {
	hash, err := ComputeRowHash(prevHash, r)
	if err != nil {
		return Record{}, err
	}
	r.PrevHash = prevHash
	r.RowHash = hash
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
