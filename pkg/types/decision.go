package types

type Verdict string

const (
	VerdictAllow  Verdict = "ALLOW"
	VerdictReview Verdict = "REVIEW"
	VerdictBlock  Verdict = "BLOCK"
)

// Valid reports whether v is one of the three known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictAllow, VerdictReview, VerdictBlock:
		return true
	default:
		return false
	}
}

const DefaultDataVersion = "dv1.0"

// DecisionRequest is the caller-supplied order snapshot a decision is made on.
type DecisionRequest struct {
	OrderID          string  `json:"order_id" validate:"required,nocontrol"`
	CustomerID       string  `json:"customer_id" validate:"required,nocontrol"`
	OrderValueEUR    float64 `json:"order_value_eur" validate:"gte=0"`
	PaymentTermsDays int     `json:"payment_terms_days" validate:"gte=0"`
	OverdueRatio     float64 `json:"overdue_ratio" validate:"gte=0,lte=1"`
	DSOProxyDays     int     `json:"dso_proxy_days" validate:"gte=0"`
	RiskClass        string  `json:"risk_class" validate:"oneof=A B C D"`
	CountryRisk      int     `json:"country_risk" validate:"gte=1,lte=5"`
	Incoterm         string  `json:"incoterm" validate:"oneof=EXW DDP DAP FCA CPT"`
	IsNewCustomer    bool    `json:"is_new_customer"`
	CreditLimitEUR   float64 `json:"credit_limit_eur" validate:"gte=0"`
	PastLimitBreach  bool    `json:"past_limit_breach"`
	ExpressFlag      bool    `json:"express_flag"`
	DataVersion      string  `json:"data_version" validate:"nocontrol"`
}

type Thresholds struct {
	AllowMax    int    `json:"allow_max"`
	ReviewRange [2]int `json:"review_range"`
	BlockMin    int    `json:"block_min"`
}

type DecisionResponse struct {
	DecisionID      string     `json:"decision_id"`
	Score           int        `json:"score"`
	Thresholds      Thresholds `json:"thresholds"`
	Decision        Verdict    `json:"decision"`
	RuleVersion     string     `json:"rule_version"`
	DataVersion     string     `json:"data_version"`
	PolicyRationale string     `json:"policy_rationale"`
	TimestampUTC    string     `json:"timestamp_utc"`
	ServiceVersion  string     `json:"service_version"`
}
