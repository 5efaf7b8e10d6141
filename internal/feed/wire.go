package feed

// controlFrame is an outbound subscribe/unsubscribe command.
type controlFrame struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys"`
}

// eventFrame is the permissive shape of an inbound trade-feed message.
// Frames without a Mint are control-plane acknowledgements and are ignored.
// Unknown fields are dropped by encoding/json without error.
type eventFrame struct {
	Mint                  string  `json:"mint"`
	Signature             string  `json:"signature"`
	TraderPublicKey       string  `json:"traderPublicKey"`
	TxType                string  `json:"txType"`
	TokenAmount           float64 `json:"tokenAmount"`
	SolAmount             float64 `json:"solAmount"`
	NewTokenBalance       float64 `json:"newTokenBalance"`
	VTokensInBondingCurve float64 `json:"vTokensInBondingCurve"`
	VSolInBondingCurve    float64 `json:"vSolInBondingCurve"`
	MarketCapSol          float64 `json:"marketCapSol"`
	Pool                  string  `json:"pool"`
}
