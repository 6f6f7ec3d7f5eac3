package types

// VerifyResponse reports a successful walk of the live ledger chain.
type VerifyResponse struct {
	Status string `json:"status"`
	Rows   int    `json:"rows"`
}
