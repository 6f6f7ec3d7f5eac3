package api

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/davidahmann/riskledger/internal/apperr"
	"github.com/davidahmann/riskledger/internal/auth"
	"github.com/davidahmann/riskledger/internal/decision"
	"github.com/davidahmann/riskledger/internal/ledger"
	"github.com/davidahmann/riskledger/internal/logging"
	"github.com/davidahmann/riskledger/internal/metrics"
	"github.com/davidahmann/riskledger/internal/override"
	"github.com/davidahmann/riskledger/internal/policy"
	"github.com/davidahmann/riskledger/pkg/types"
)

const ServiceVersion = "svc1.0.0"

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Service is the core facade the transport calls into. Every method returns
// *apperr.Error on failure.
type Service struct {
	ledger    *ledger.Ledger
	overrides *override.Service
	log       zerolog.Logger
	metrics   *metrics.LedgerMetrics
}

type NewServiceInput struct {
	Ledger  *ledger.Ledger
	Logger  zerolog.Logger
	Metrics *metrics.LedgerMetrics
}

func NewService(input NewServiceInput) (*Service, error) {
	if input.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	return &Service{
		ledger: input.Ledger,
		overrides: override.New(input.Ledger,
			override.WithLogger(input.Logger),
			override.WithMetrics(input.Metrics),
		),
		log:     input.Logger,
		metrics: input.Metrics,
	}, nil
}

// Decide scores req and appends its base record. A request whose identity is
// already on the ledger returns the stored outcome without a new append.
func (s *Service) Decide(ctx context.Context, req types.DecisionRequest) (types.DecisionResponse, error) {
	req = decision.Normalize(req)
	if err := decision.Validate(req); err != nil {
		return types.DecisionResponse{}, err
	}

	result := policy.Evaluate(req)
	rec, err := decision.BuildBaseRecord(req, result, "")
	if err != nil {
		return types.DecisionResponse{}, apperr.Wrap(apperr.CodeValidation, err, "request cannot be canonicalized")
	}

	start := time.Now()
	stored, appended, err := s.ledger.AppendBase(ctx, rec)
	s.metrics.ObserveAppend("base", time.Since(start))
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidRecord) {
			return types.DecisionResponse{}, apperr.Wrap(apperr.CodeInternal, err, "build base record")
		}
		return types.DecisionResponse{}, apperr.Wrap(apperr.CodeUnavailable, err, "append base record")
	}
	s.metrics.IncDecision(string(stored.Decision), appended)

	logging.FromContext(ctx, s.log).Info().
		Str("decision_id", stored.DecisionID).
		Str("decision", string(stored.Decision)).
		Int("score", stored.Score).
		Int64("seq", stored.Seq).
		Bool("appended", appended).
		Msg("decision recorded")

	return types.DecisionResponse{
		DecisionID:      stored.DecisionID,
		Score:           stored.Score,
		Thresholds:      result.Thresholds,
		Decision:        stored.Decision,
		RuleVersion:     stored.RuleVersion,
		DataVersion:     stored.DataVersion,
		PolicyRationale: result.Rationale,
		TimestampUTC:    stored.TSUTC,
		ServiceVersion:  ServiceVersion,
	}, nil
}

// Override submits a human override on behalf of p.
func (s *Service) Override(ctx context.Context, p auth.Principal, req types.OverrideRequest) (types.OverrideResponse, error) {
	out, err := s.overrides.Submit(ctx, override.Submission{
		DecisionID:  req.DecisionID,
		NewDecision: req.NewDecision,
		Reason:      req.OverrideReason,
		Principal:   p,
	})
	if err != nil {
		return types.OverrideResponse{}, err
	}
	return types.OverrideResponse{
		DecisionID:       out.DecisionID,
		OriginalDecision: out.OriginalDecision,
		NewDecision:      out.NewDecision,
		FourEyesRequired: out.FourEyesRequired,
		TimestampUTC:     out.Record.TSUTC,
		Seq:              out.Record.Seq,
	}, nil
}

// Current returns the latest override for decisionID, else its base record.
func (s *Service) Current(ctx context.Context, decisionID string) (types.CurrentRuling, error) {
	rec, ok, err := s.ledger.Current(ctx, decisionID)
	if err != nil {
		return types.CurrentRuling{}, apperr.Wrap(apperr.CodeUnavailable, err, "read current ruling")
	}
	if !ok {
		return types.CurrentRuling{}, apperr.New(apperr.CodeNotFound, "decision not found")
	}
	return types.CurrentRuling{
		DecisionID:     rec.DecisionID,
		Decision:       rec.Decision,
		Overridden:     rec.Overridden,
		OverrideReason: rec.OverrideReason,
		ActorUX:        rec.ActorUX,
		SecondApproval: rec.SecondApproval,
		TimestampUTC:   rec.TSUTC,
		Seq:            rec.Seq,
	}, nil
}

func (s *Service) Health(ctx context.Context) types.HealthResponse {
	resp := types.HealthResponse{
		Status:          StatusOK,
		LedgerReachable: true,
		RuleVersion:     policy.RuleVersion,
		ServiceVersion:  ServiceVersion,
	}
	if err := s.ledger.Ping(ctx); err != nil {
		logging.FromContext(ctx, s.log).Warn().Err(err).Msg("ledger unreachable")
		resp.Status = StatusDegraded
		resp.LedgerReachable = false
	}
	return resp
}

// Verify walks the full live chain.
func (s *Service) Verify(ctx context.Context) (types.VerifyResponse, error) {
	n, err := s.ledger.Verify(ctx)
	s.metrics.IncVerify("live-store", err == nil)
	if err != nil {
		var integrity *ledger.IntegrityError
		if errors.As(err, &integrity) {
			logging.FromContext(ctx, s.log).Warn().
				Str("kind", string(integrity.Kind)).
				Int64("seq", integrity.Seq).
				Msg("ledger verification failed")
			return types.VerifyResponse{}, apperr.Wrap(apperr.CodeIntegrity, err, integrity.Error()).
				WithDetails(map[string]any{
					"kind":     string(integrity.Kind),
					"seq":      integrity.Seq,
					"expected": integrity.Expected,
					"computed": integrity.Computed,
				})
		}
		return types.VerifyResponse{}, apperr.Wrap(apperr.CodeUnavailable, err, "read ledger")
	}
	return types.VerifyResponse{Status: StatusOK, Rows: n}, nil
}
