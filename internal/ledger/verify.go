package ledger

import (
	"errors"
	"fmt"
)

// ErrIntegrity matches every *IntegrityError via errors.Is.
var ErrIntegrity = errors.New("ledger integrity violation")

type IntegrityKind string

const (
	KindRowHash         IntegrityKind = "row_hash"
	KindLink            IntegrityKind = "link"
	KindSequence        IntegrityKind = "sequence"
	KindChecksum        IntegrityKind = "checksum"
	KindChecksumMissing IntegrityKind = "checksum_missing"
)

// IntegrityError reports the first record at which verification failed.
type IntegrityError struct {
	Kind     IntegrityKind
	Seq      int64
	Expected string
	Computed string
}

func (e *IntegrityError) Error() string {
	switch e.Kind {
	case KindLink:
		return fmt.Sprintf("Broken link at seq=%d expected prev_hash %s got %s", e.Seq, e.Expected, e.Computed)
	case KindSequence:
		return fmt.Sprintf("Sequence out of order at seq=%d after seq=%s", e.Seq, e.Expected)
	case KindChecksum:
		return fmt.Sprintf("Checksum mismatch expected %s got %s", e.Expected, e.Computed)
	case KindChecksumMissing:
		return "Checksum footer missing"
	default:
		return fmt.Sprintf("Mismatch at seq=%d expected %s got %s", e.Seq, e.Expected, e.Computed)
	}
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

type VerifyOptions struct {
	// TrustFirstPrevHash accepts the first record's stored prev_hash as the
	// chain anchor when that record is not seq 1. Range exports start
	// mid-chain and need this; seq 1 is always anchored to "".
	TrustFirstPrevHash bool
}

// VerifyChain walks records in order and returns how many verified before
// the first failure.
func VerifyChain(records []Record, opts VerifyOptions) (int, error) {
	prev := ""
	var lastSeq int64
	for i, rec := range records {
		if i == 0 && opts.TrustFirstPrevHash && rec.Seq != 1 {
			prev = rec.PrevHash
		}
		if i > 0 && rec.Seq <= lastSeq {
			return i, &IntegrityError{Kind: KindSequence, Seq: rec.Seq, Expected: fmt.Sprint(lastSeq)}
		}
		if rec.PrevHash != prev {
			return i, &IntegrityError{Kind: KindLink, Seq: rec.Seq, Expected: prev, Computed: rec.PrevHash}
		}
		computed, err := ComputeRowHash(rec.PrevHash, rec)
		if err != nil {
			return i, err
		}
		if computed != rec.RowHash {
			return i, &IntegrityError{Kind: KindRowHash, Seq: rec.Seq, Expected: rec.RowHash, Computed: computed}
		}
		prev = rec.RowHash
		lastSeq = rec.Seq
	}
	return len(records), nil
}
