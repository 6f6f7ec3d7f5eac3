package ledger

import (
	"context"
	"sync"

	"github.com/davidahmann/riskledger/pkg/types"
)

// InMemoryStore keeps the ledger in process memory. Records are only ever
// appended; a failed transaction discards its pending inserts.
type InMemoryStore struct {
	mu sync.RWMutex

	records []Record
	base    map[string]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{base: make(map[string]int)}
}

func (s *InMemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}
	for _, rec := range tx.pending {
		if !rec.Overridden {
			s.base[rec.DecisionID] = len(s.records)
		}
		s.records = append(s.records, rec)
	}
	return nil
}

func (s *InMemoryStore) GetBase(ctx context.Context, decisionID string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.base[decisionID]
	if !ok {
		return Record{}, false, nil
	}
	return s.records[idx].Clone(), true, nil
}

func (s *InMemoryStore) GetLatestOverride(ctx context.Context, decisionID string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := latestOverride(s.records, decisionID)
	return rec, ok, nil
}

func (s *InMemoryStore) HasOverride(ctx context.Context, decisionID string, verdict types.Verdict, reason string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasOverride(s.records, decisionID, verdict, reason), nil
}

func (s *InMemoryStore) ListRecords(ctx context.Context, filter ListFilter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if filter.Match(rec.TSUTC) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (s *InMemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *InMemoryStore) Close() error {
	return nil
}

type memTx struct {
	store   *InMemoryStore
	pending []Record
}

func (t *memTx) Tail() (string, string, error) {
	if n := len(t.pending); n > 0 {
		return t.pending[n-1].RowHash, t.pending[n-1].TSUTC, nil
	}
	if n := len(t.store.records); n > 0 {
		return t.store.records[n-1].RowHash, t.store.records[n-1].TSUTC, nil
	}
	return "", "", nil
}

func (t *memTx) GetBase(decisionID string) (Record, bool, error) {
	if idx, ok := t.store.base[decisionID]; ok {
		return t.store.records[idx].Clone(), true, nil
	}
	for _, rec := range t.pending {
		if rec.DecisionID == decisionID && !rec.Overridden {
			return rec.Clone(), true, nil
		}
	}
	return Record{}, false, nil
}

func (t *memTx) GetLatestOverride(decisionID string) (Record, bool, error) {
	if rec, ok := latestOverride(t.pending, decisionID); ok {
		return rec, true, nil
	}
	rec, ok := latestOverride(t.store.records, decisionID)
	return rec, ok, nil
}

func (t *memTx) HasOverride(decisionID string, verdict types.Verdict, reason string) (bool, error) {
	return hasOverride(t.store.records, decisionID, verdict, reason) ||
		hasOverride(t.pending, decisionID, verdict, reason), nil
}

func (t *memTx) Insert(rec Record) (int64, error) {
	if !rec.Overridden {
		if _, ok, _ := t.GetBase(rec.DecisionID); ok {
			return 0, ErrDuplicateBase
		}
	}
	rec = rec.Clone()
	rec.Seq = int64(len(t.store.records) + len(t.pending) + 1)
	t.pending = append(t.pending, rec)
	return rec.Seq, nil
}

func latestOverride(records []Record, decisionID string) (Record, bool) {
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.DecisionID == decisionID && rec.Overridden {
			return rec.Clone(), true
		}
	}
	return Record{}, false
}

func hasOverride(records []Record, decisionID string, verdict types.Verdict, reason string) bool {
	for _, rec := range records {
		if rec.DecisionID != decisionID || !rec.Overridden || rec.Decision != verdict {
			continue
		}
		if rec.OverrideReason != nil && *rec.OverrideReason == reason {
			return true
		}
	}
	return false
}
