package domain

// TxType identifies the direction of a trade on the bonding curve.
type TxType string

const (
	TxBuy  TxType = "buy"
	TxSell TxType = "sell"
)

// TradeEvent is an ephemeral, decoded frame from the upstream trade feed.
// It is never persisted; only the state transitions it causes are durable.
type TradeEvent struct {
	Signature             string
	Mint                  string
	Trader                string
	TxType                TxType
	TokenAmount           float64
	SolAmount             float64
	NewTokenBalance       float64
	VTokensInBondingCurve float64
	VSolInBondingCurve    float64
	MarketCapSol          float64
	Pool                  string
}
