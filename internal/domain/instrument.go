// Package domain defines the core types shared across the engine: instruments,
// market edges, opportunities and their lifecycle, execution attempts, bundles,
// and the boundary interfaces implemented by the cache, store, and blob layers.
package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Instrument identifies a tradable token on a specific chain. Instruments are
// immutable and compared by value; they are safe to use as map keys.
type Instrument struct {
	Token   common.Address
	ChainID uint64
}

// NewInstrument builds an Instrument from a hex token address and chain ID.
func NewInstrument(tokenHex string, chainID uint64) Instrument {
	return Instrument{
		Token:   common.HexToAddress(tokenHex),
		ChainID: chainID,
	}
}

// String returns a compact chain-qualified identifier, e.g. "1:0xC02a...6Cc2".
func (i Instrument) String() string {
	return fmt.Sprintf("%d:%s", i.ChainID, i.Token.Hex())
}

// IsZero reports whether the instrument is the zero value.
func (i Instrument) IsZero() bool {
	return i.Token == (common.Address{}) && i.ChainID == 0
}
