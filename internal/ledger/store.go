package ledger

import (
	"context"

	"github.com/davidahmann/riskledger/pkg/types"
)

// Store is an append-only backend for decision records. It has no update or
// delete operations; the only write path is Tx.Insert inside WithTx.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error

	GetBase(ctx context.Context, decisionID string) (Record, bool, error)
	GetLatestOverride(ctx context.Context, decisionID string) (Record, bool, error)
	HasOverride(ctx context.Context, decisionID string, verdict types.Verdict, reason string) (bool, error)
	ListRecords(ctx context.Context, filter ListFilter) ([]Record, error)
	Ping(ctx context.Context) error
}

// Tx sees committed records plus its own pending inserts.
type Tx interface {
	// Tail returns the row hash and ts_utc of the last record, empty when none exist.
	Tail() (rowHash, tsUTC string, err error)
	GetBase(decisionID string) (Record, bool, error)
	GetLatestOverride(decisionID string) (Record, bool, error)
	HasOverride(decisionID string, verdict types.Verdict, reason string) (bool, error)
	// Insert persists a sealed record and returns the assigned sequence number.
	Insert(rec Record) (int64, error)
}

// ListFilter bounds ListRecords by inclusive ts_utc strings. Empty means unbounded.
type ListFilter struct {
	From string
	To   string
}

func (f ListFilter) Match(ts string) bool {
	if f.From != "" && ts < f.From {
		return false
	}
	if f.To != "" && ts > f.To {
		return false
	}
	return true
}

type Record struct {
	Seq            int64
	DecisionID     string
	TSUTC          string
	OrderID        string
	CustomerID     string
	InputJSON      string
	Score          int
	ThresholdsJSON string
	Decision       types.Verdict
	RuleVersion    string
	DataVersion    string
	ActorSys       string
	ActorUX        *string
	Overridden     bool
	OverrideReason *string
	SecondApproval bool
	PrevHash       string
	RowHash        string
}

// Clone returns a copy that shares no pointers with r.
func (r Record) Clone() Record {
	out := r
	if r.ActorUX != nil {
		v := *r.ActorUX
		out.ActorUX = &v
	}
	if r.OverrideReason != nil {
		v := *r.OverrideReason
		out.OverrideReason = &v
	}
	return out
}
