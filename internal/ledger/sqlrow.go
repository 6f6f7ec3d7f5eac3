package ledger

import "github.com/davidahmann/riskledger/pkg/types"

// RecordColumns lists decision_logs columns in Record order, id first.
const RecordColumns = "id, decision_id, ts_utc, order_id, customer_id, input_json, score, thresholds_json, decision, rule_version, data_version, actor_sys, actor_ux, overridden, override_reason, second_approval, prev_hash, row_hash"

// InsertColumns is RecordColumns without the store-assigned id.
const InsertColumns = "decision_id, ts_utc, order_id, customer_id, input_json, score, thresholds_json, decision, rule_version, data_version, actor_sys, actor_ux, overridden, override_reason, second_approval, prev_hash, row_hash"

type RowScanner interface {
	Scan(dest ...any) error
}

func ScanRecord(row RowScanner) (Record, error) {
	var (
		rec            Record
		decision       string
		overridden     int
		secondApproval int
	)
	err := row.Scan(
		&rec.Seq, &rec.DecisionID, &rec.TSUTC, &rec.OrderID, &rec.CustomerID,
		&rec.InputJSON, &rec.Score, &rec.ThresholdsJSON, &decision, &rec.RuleVersion,
		&rec.DataVersion, &rec.ActorSys, &rec.ActorUX, &overridden, &rec.OverrideReason,
		&secondApproval, &rec.PrevHash, &rec.RowHash,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Decision = types.Verdict(decision)
	rec.Overridden = overridden == 1
	rec.SecondApproval = secondApproval == 1
	return rec, nil
}

// InsertArgs returns rec's values in InsertColumns order.
func InsertArgs(rec Record) []any {
	return []any{
		rec.DecisionID, rec.TSUTC, rec.OrderID, rec.CustomerID, rec.InputJSON,
		rec.Score, rec.ThresholdsJSON, string(rec.Decision), rec.RuleVersion, rec.DataVersion,
		rec.ActorSys, rec.ActorUX, boolInt(rec.Overridden), rec.OverrideReason,
		boolInt(rec.SecondApproval), rec.PrevHash, rec.RowHash,
	}
}
