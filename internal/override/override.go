// Package override implements human overrides of REVIEW decisions, including
// the four-eyes gate for high-value or high-risk orders.
package override

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/davidahmann/riskledger/internal/apperr"
	"github.com/davidahmann/riskledger/internal/auth"
	"github.com/davidahmann/riskledger/internal/decision"
	"github.com/davidahmann/riskledger/internal/ledger"
	"github.com/davidahmann/riskledger/internal/metrics"
	"github.com/davidahmann/riskledger/internal/policy"
	"github.com/davidahmann/riskledger/pkg/types"
)

const (
	// ActorOverrideAPI is recorded as actor_sys on override records.
	ActorOverrideAPI = "credit_override_api"

	MinReasonLength = 15
)

// Submission is an authenticated override request.
type Submission struct {
	DecisionID  string
	NewDecision types.Verdict
	Reason      string
	Principal   auth.Principal
}

type Outcome struct {
	DecisionID       string
	OriginalDecision types.Verdict
	NewDecision      types.Verdict
	FourEyesRequired bool
	Record           ledger.Record
}

type Service struct {
	ledger  *ledger.Ledger
	log     zerolog.Logger
	metrics *metrics.LedgerMetrics
}

type Option func(*Service)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(l *ledger.Ledger, opts ...Option) *Service {
	s := &Service{ledger: l, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates and records an override. All rejections are *apperr.Error.
func (s *Service) Submit(ctx context.Context, sub Submission) (Outcome, error) {
	out, err := s.submit(ctx, sub)
	if err != nil {
		s.metrics.IncOverride(strings.ToLower(string(apperr.CodeOf(err))))
		s.log.Warn().
			Str("decision_id", sub.DecisionID).
			Str("actor", sub.Principal.Actor).
			Str("code", string(apperr.CodeOf(err))).
			Msg("override rejected")
		return Outcome{}, err
	}
	s.metrics.IncOverride("accepted")
	s.log.Info().
		Str("decision_id", out.DecisionID).
		Str("actor", sub.Principal.Actor).
		Str("original", string(out.OriginalDecision)).
		Str("new", string(out.NewDecision)).
		Bool("four_eyes_required", out.FourEyesRequired).
		Int64("seq", out.Record.Seq).
		Msg("override recorded")
	return out, nil
}

func (s *Service) submit(ctx context.Context, sub Submission) (Outcome, error) {
	if !sub.Principal.Role.Satisfies(auth.RoleReviewer) {
		return Outcome{}, apperr.New(apperr.CodeForbidden, "insufficient role")
	}
	reason, err := validate(sub)
	if err != nil {
		return Outcome{}, err
	}

	base, ok, err := s.ledger.FetchActiveBase(ctx, sub.DecisionID)
	if err != nil {
		return Outcome{}, apperr.Wrap(apperr.CodeUnavailable, err, "read base record")
	}
	if !ok {
		return Outcome{}, apperr.New(apperr.CodeNotFound, "decision not found")
	}
	if base.Decision != types.VerdictReview {
		return Outcome{}, apperr.Newf(apperr.CodeStateConflict, "decision is %s and cannot be overridden", base.Decision).
			WithDetails(map[string]string{"decision": string(base.Decision)})
	}

	dup, err := s.ledger.FindDuplicateOverride(ctx, sub.DecisionID, sub.NewDecision, reason)
	if err != nil {
		return Outcome{}, apperr.Wrap(apperr.CodeUnavailable, err, "check duplicate override")
	}
	if dup {
		return Outcome{}, errDuplicate()
	}
	current, _, err := s.ledger.Current(ctx, sub.DecisionID)
	if err != nil {
		return Outcome{}, apperr.Wrap(apperr.CodeUnavailable, err, "read current ruling")
	}
	if current.Overridden {
		return Outcome{}, errAlreadyOverridden(current)
	}

	// Four-eyes is derived from the stored request, never from the caller.
	stored, err := decision.ParseStoredRequest(base.InputJSON)
	if err != nil {
		return Outcome{}, apperr.Wrap(apperr.CodeInternal, err, "decode stored request")
	}
	fourEyes := policy.RequiresFourEyes(stored)
	if fourEyes && !sub.Principal.Role.Satisfies(auth.RoleAdmin) {
		return Outcome{}, apperr.New(apperr.CodeForbidden, "four-eyes approval requires admin").
			WithDetails(map[string]any{"four_eyes_required": true})
	}

	// ts_utc is stamped by the ledger inside the append section.
	rec := overrideRecord(base, sub, reason, fourEyes)
	start := time.Now()
	appended, err := s.ledger.AppendOverride(ctx, rec, func(tx ledger.Tx) error {
		dup, err := tx.HasOverride(sub.DecisionID, sub.NewDecision, reason)
		if err != nil {
			return err
		}
		if dup {
			return errDuplicate()
		}
		existing, ok, err := tx.GetLatestOverride(sub.DecisionID)
		if err != nil {
			return err
		}
		if ok {
			return errAlreadyOverridden(existing)
		}
		return nil
	})
	s.metrics.ObserveAppend("override", time.Since(start))
	if err != nil {
		if apperr.As(err) != nil {
			return Outcome{}, err
		}
		if errors.Is(err, ledger.ErrInvalidRecord) {
			return Outcome{}, apperr.Wrap(apperr.CodeInternal, err, "build override record")
		}
		return Outcome{}, apperr.Wrap(apperr.CodeUnavailable, err, "append override")
	}

	return Outcome{
		DecisionID:       sub.DecisionID,
		OriginalDecision: base.Decision,
		NewDecision:      sub.NewDecision,
		FourEyesRequired: fourEyes,
		Record:           appended,
	}, nil
}

// validate returns the normalized reason.
func validate(sub Submission) (string, error) {
	details := map[string]string{}
	if strings.TrimSpace(sub.DecisionID) == "" {
		details["decision_id"] = "is required"
	}
	if sub.NewDecision != types.VerdictAllow && sub.NewDecision != types.VerdictBlock {
		details["new_decision"] = "must be one of [ALLOW BLOCK]"
	}
	reason := NormalizeReason(sub.Reason)
	if utf8.RuneCountInString(reason) < MinReasonLength {
		details["override_reason"] = "must be at least 15 characters"
	}
	if len(details) > 0 {
		return "", apperr.New(apperr.CodeValidation, "validation failed").WithDetails(details)
	}
	return reason, nil
}

// NormalizeReason trims the reason and folds CRLF and CR line breaks to LF,
// so the stored text survives a CSV export unchanged.
func NormalizeReason(reason string) string {
	reason = strings.ReplaceAll(reason, "\r\n", "\n")
	reason = strings.ReplaceAll(reason, "\r", "\n")
	return strings.TrimSpace(reason)
}

func overrideRecord(base ledger.Record, sub Submission, reason string, fourEyes bool) ledger.Record {
	actor := sub.Principal.Actor
	return ledger.Record{
		DecisionID:     base.DecisionID,
		OrderID:        base.OrderID,
		CustomerID:     base.CustomerID,
		InputJSON:      base.InputJSON,
		Score:          base.Score,
		ThresholdsJSON: base.ThresholdsJSON,
		Decision:       sub.NewDecision,
		RuleVersion:    base.RuleVersion,
		DataVersion:    base.DataVersion,
		ActorSys:       ActorOverrideAPI,
		ActorUX:        &actor,
		Overridden:     true,
		OverrideReason: &reason,
		SecondApproval: fourEyes,
	}
}

func errDuplicate() error {
	return apperr.New(apperr.CodeConflict, "override already recorded")
}

func errAlreadyOverridden(existing ledger.Record) error {
	return apperr.New(apperr.CodeStateConflict, "decision already overridden").
		WithDetails(map[string]any{"decision": string(existing.Decision), "seq": existing.Seq})
}
