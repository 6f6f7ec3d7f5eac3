package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"

	"github.com/davidahmann/riskledger/internal/auth"
	"github.com/davidahmann/riskledger/internal/ledger"
	"github.com/davidahmann/riskledger/internal/metrics"
	"github.com/davidahmann/riskledger/pkg/types"
)

var (
	reviewer = auth.Principal{Actor: "reviewer@demo", Role: auth.RoleReviewer}
	admin    = auth.Principal{Actor: "admin@demo", Role: auth.RoleAdmin}
)

const overrideReason = "Collateral received today"

type stepClock struct {
	t time.Time
}

func (c *stepClock) Now() time.Time {
	now := c.t
	c.t = c.t.Add(time.Minute)
	return now
}

func newTestService(t *testing.T, store ledger.Store, m *metrics.LedgerMetrics) (*Service, *ledger.Ledger) {
	t.Helper()

	clock := &stepClock{t: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	l := ledger.New(store, ledger.WithClock(clock.Now))
	svc, err := NewService(NewServiceInput{
		Ledger:  l,
		Logger:  zerolog.Nop(),
		Metrics: m,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return svc, l
}

// allowRequest scores 50 and stays within terms.
func allowRequest() types.DecisionRequest {
	return types.DecisionRequest{
		OrderID:          "O-100",
		CustomerID:       "C-100",
		OrderValueEUR:    1000,
		PaymentTermsDays: 30,
		DSOProxyDays:     20,
		RiskClass:        "A",
		CountryRisk:      1,
		Incoterm:         "DDP",
		CreditLimitEUR:   50000,
	}
}

// fourEyesRequest scores 75: risk class C plus a high order value.
func fourEyesRequest() types.DecisionRequest {
	return types.DecisionRequest{
		OrderID:          "O-200",
		CustomerID:       "C-200",
		OrderValueEUR:    60000,
		PaymentTermsDays: 30,
		DSOProxyDays:     20,
		RiskClass:        "C",
		CountryRisk:      2,
		Incoterm:         "DAP",
		CreditLimitEUR:   100000,
	}
}

type downStore struct {
	ledger.Store
}

func (downStore) Ping(context.Context) error {
	return errors.New("connection refused")
}

// tamperedStore hands out records with the first score edited after sealing.
type tamperedStore struct {
	ledger.Store
}

func (s tamperedStore) ListRecords(ctx context.Context, filter ledger.ListFilter) ([]ledger.Record, error) {
	records, err := s.Store.ListRecords(ctx, filter)
	if err != nil || len(records) == 0 {
		return records, err
	}
	records[0].Score = 999
	return records, nil
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric.GetLabel(), labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, pair := range pairs {
		if want[pair.GetName()] != pair.GetValue() {
			return false
		}
	}
	return true
}
