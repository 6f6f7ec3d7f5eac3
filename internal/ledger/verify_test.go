package ledger

import (
	"errors"
	"testing"
)

func TestVerifyChainDetectsTampering(t *testing.T) {
	cases := []struct {
		name   string
		mutate func([]Record) []Record
		kind   IntegrityKind
		seq    int64
		count  int
	}{
		{
			name:   "edited field",
			mutate: func(r []Record) []Record { r[1].Score = 10; return r },
			kind:   KindRowHash,
			seq:    2,
			count:  1,
		},
		{
			name:   "edited row hash",
			mutate: func(r []Record) []Record { r[0].RowHash = fixtureHash2; return r },
			kind:   KindRowHash,
			seq:    1,
			count:  0,
		},
		{
			name:   "deleted record",
			mutate: func(r []Record) []Record { return []Record{r[0], r[2]} },
			kind:   KindLink,
			seq:    3,
			count:  1,
		},
		{
			name:   "reordered records",
			mutate: func(r []Record) []Record { return []Record{r[1], r[0], r[2]} },
			kind:   KindLink,
			seq:    2,
			count:  0,
		},
		{
			name: "duplicated sequence",
			mutate: func(r []Record) []Record {
				r[2].Seq = 2
				return r
			},
			kind:  KindSequence,
			seq:   2,
			count: 2,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			records := tc.mutate(seedLedger(t, New(NewInMemoryStore())))
			n, err := VerifyChain(records, VerifyOptions{})
			var ie *IntegrityError
			if !errors.As(err, &ie) {
				t.Fatalf("expected integrity error, got %v", err)
			}
			if !errors.Is(err, ErrIntegrity) {
				t.Fatalf("expected errors.Is ErrIntegrity")
			}
			if ie.Kind != tc.kind || ie.Seq != tc.seq {
				t.Fatalf("unexpected failure: kind=%s seq=%d (%v)", ie.Kind, ie.Seq, err)
			}
			if n != tc.count {
				t.Fatalf("expected %d verified rows, got %d", tc.count, n)
			}
		})
	}
}

func TestVerifyChainEmpty(t *testing.T) {
	n, err := VerifyChain(nil, VerifyOptions{})
	if err != nil || n != 0 {
		t.Fatalf("empty chain: n=%d err=%v", n, err)
	}
}

func TestVerifyChainAnchor(t *testing.T) {
	records := seedLedger(t, New(NewInMemoryStore()))[1:]

	if _, err := VerifyChain(records, VerifyOptions{}); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("mid-chain slice must fail without an anchor, got %v", err)
	}
	n, err := VerifyChain(records, VerifyOptions{TrustFirstPrevHash: true})
	if err != nil || n != 2 {
		t.Fatalf("anchored verify: n=%d err=%v", n, err)
	}
}

func TestIntegrityErrorMessage(t *testing.T) {
	err := &IntegrityError{Kind: KindRowHash, Seq: 7, Expected: "aa", Computed: "bb"}
	if err.Error() != "Mismatch at seq=7 expected aa got bb" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}
