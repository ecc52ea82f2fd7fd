package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PendingTx is a decoded pending-transaction intent from the mempool feed.
// The engine does not parse raw calldata; the feed delivers a normalized
// summary of what the transaction will do to a pool.
type PendingTx struct {
	Hash         common.Hash
	ChainID      uint64
	Target       common.Address // pool or router contract
	Pool         Instrument     // output-side instrument of the pool being traded
	TokenIn      Instrument
	TokenOut     Instrument
	Venue        string
	AmountIn     float64 // in TokenIn units
	ValueMoved   float64 // quote-denominated notional
	SlippageBps  float64 // victim's slippage tolerance; 0 means exact-out, no tolerance
	GasPriceGwei float64
	FirstSeen    time.Time
}

// AccountHealth is a lending-protocol account snapshot from the protocol
// state feed. HealthFactor below 1.0 means the account is liquidatable.
type AccountHealth struct {
	Protocol         string
	Account          common.Address
	ChainID          uint64
	Collateral       Instrument
	Debt             Instrument
	CollateralValue  float64
	DebtValue        float64
	HealthFactor     float64
	LiquidationBonus float64 // fraction of repaid debt, e.g. 0.05
	ObservedAt       time.Time
}
