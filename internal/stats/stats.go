// Package stats summarizes a ledger snapshot: verdict distribution, override
// and four-eyes shares, record completeness and replay determinism.
package stats

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/davidahmann/riskledger/internal/decision"
	"github.com/davidahmann/riskledger/internal/ledger"
	"github.com/davidahmann/riskledger/internal/override"
	"github.com/davidahmann/riskledger/internal/policy"
	"github.com/davidahmann/riskledger/pkg/types"
)

// EdgeBandWidth is the distance from the lower review bound that counts as
// the edge band.
const EdgeBandWidth = 5

// Summary percentages are 0..100. Shares of base records use Total as the
// denominator; SecondApprovalPct uses OverrideTotal. DeterminismChecked
// counts base records replayed against the current rules.
type Summary struct {
	Total     int     `json:"total"`
	Allow     int     `json:"allow"`
	Review    int     `json:"review"`
	Block     int     `json:"block"`
	AllowPct  float64 `json:"allow_pct"`
	ReviewPct float64 `json:"review_pct"`
	BlockPct  float64 `json:"block_pct"`

	OverrideTotal     int     `json:"override_total"`
	OverridePct       float64 `json:"override_pct"`
	SecondApprovalPct float64 `json:"second_approval_pct"`

	LogCompletenessPct           float64 `json:"log_completeness_pct"`
	DeterminismConsistencyPct    float64 `json:"determinism_consistency_pct"`
	DeterminismChecked           int     `json:"determinism_checked"`
	ThresholdCoherenceViolations int     `json:"threshold_coherence_violations"`
	EdgeBandPct                  float64 `json:"edge_band_pct"`

	Notes []string `json:"notes"`
}

// Compute summarizes records. Base records written under the current rule
// version are re-scored; a stored score or verdict that differs counts as
// inconsistent.
func Compute(records []ledger.Record) Summary {
	var (
		s            Summary
		complete     int
		secondOK     int
		edge         int
		inconsistent int
	)

	for _, rec := range records {
		if isComplete(rec) {
			complete++
		}
		if rec.Overridden {
			s.OverrideTotal++
			if rec.SecondApproval {
				secondOK++
			}
			continue
		}

		s.Total++
		switch rec.Decision {
		case types.VerdictAllow:
			s.Allow++
		case types.VerdictReview:
			s.Review++
		case types.VerdictBlock:
			s.Block++
		}

		if th, ok := parseThresholds(rec.ThresholdsJSON); ok {
			if !coherent(rec.Score, rec.Decision, th) {
				s.ThresholdCoherenceViolations++
			}
			lo := th.ReviewRange[0]
			if rec.Score >= lo-EdgeBandWidth && rec.Score <= lo+EdgeBandWidth {
				edge++
			}
		} else {
			s.ThresholdCoherenceViolations++
		}

		if rec.RuleVersion == policy.RuleVersion {
			s.DeterminismChecked++
			if !replays(rec) {
				inconsistent++
			}
		}
	}

	s.AllowPct = pct(s.Allow, s.Total)
	s.ReviewPct = pct(s.Review, s.Total)
	s.BlockPct = pct(s.Block, s.Total)
	s.OverridePct = pct(s.OverrideTotal, s.Total)
	s.SecondApprovalPct = pct(secondOK, s.OverrideTotal)
	s.LogCompletenessPct = pct(complete, len(records))
	s.EdgeBandPct = pct(edge, s.Total)
	s.DeterminismConsistencyPct = 100
	if s.DeterminismChecked > 0 {
		s.DeterminismConsistencyPct = 100 - pct(inconsistent, s.DeterminismChecked)
	}
	s.Notes = notes(s, len(records))
	return s
}

func notes(s Summary, n int) []string {
	out := []string{}
	if s.OverridePct < 10 {
		out = append(out, "override_pct<10")
	}
	if n > 0 && s.LogCompletenessPct == 100 {
		out = append(out, "log_complete")
	}
	if s.OverrideTotal > 0 && s.SecondApprovalPct == 100 {
		out = append(out, "four_eyes_ok")
	}
	if s.ThresholdCoherenceViolations == 0 {
		out = append(out, "coherence_ok")
	}
	if s.DeterminismConsistencyPct == 100 {
		out = append(out, "deterministic")
	}
	return out
}

func isComplete(rec ledger.Record) bool {
	for _, v := range []string{rec.DecisionID, rec.TSUTC, rec.InputJSON, rec.RuleVersion, rec.DataVersion, rec.ActorSys} {
		if v == "" {
			return false
		}
	}
	if _, ok := parseThresholds(rec.ThresholdsJSON); !ok {
		return false
	}
	if rec.Overridden {
		if rec.ActorUX == nil || *rec.ActorUX == "" {
			return false
		}
		if rec.OverrideReason == nil || utf8.RuneCountInString(*rec.OverrideReason) < override.MinReasonLength {
			return false
		}
	}
	return true
}

// parseThresholds requires all three keys.
func parseThresholds(raw string) (types.Thresholds, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return types.Thresholds{}, false
	}
	for _, key := range []string{"allow_max", "review_range", "block_min"} {
		if _, ok := fields[key]; !ok {
			return types.Thresholds{}, false
		}
	}
	var th types.Thresholds
	if err := json.Unmarshal([]byte(raw), &th); err != nil {
		return types.Thresholds{}, false
	}
	return th, true
}

// coherent reports whether verdict fits score under th. A score at or below
// allow_max may be ALLOW or, when the secondary gate demoted it, REVIEW.
func coherent(score int, verdict types.Verdict, th types.Thresholds) bool {
	switch {
	case score >= th.BlockMin:
		return verdict == types.VerdictBlock
	case score >= th.ReviewRange[0] && score <= th.ReviewRange[1]:
		return verdict == types.VerdictReview
	case score <= th.AllowMax:
		return verdict == types.VerdictAllow || verdict == types.VerdictReview
	default:
		return false
	}
}

func replays(rec ledger.Record) bool {
	req, err := decision.ParseStoredRequest(rec.InputJSON)
	if err != nil {
		return false
	}
	result := policy.Evaluate(req)
	return result.Score == rec.Score && result.Verdict == rec.Decision
}

func pct(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den) * 100
}
