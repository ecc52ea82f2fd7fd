package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/calebmori/mevengine/internal/domain"
)

// PendingTxHandler receives each decoded pending swap.
type PendingTxHandler func(tx domain.PendingTx)

// AccountHealthHandler receives each lending-account health update.
type AccountHealthHandler func(h domain.AccountHealth)

// pendingTxMessage is a decoded swap observed in the mempool, as delivered by
// the mempool decoder service.
type pendingTxMessage struct {
	Type         string  `json:"type"`
	Hash         string  `json:"hash"`
	ChainID      uint64  `json:"chain_id"`
	Target       string  `json:"target"`
	Pool         string  `json:"pool"`
	TokenIn      string  `json:"token_in"`
	TokenOut     string  `json:"token_out"`
	Venue        string  `json:"venue"`
	AmountIn     float64 `json:"amount_in"`
	ValueMoved   float64 `json:"value_moved"`
	SlippageBps  float64 `json:"slippage_bps"`
	GasPriceGwei float64 `json:"gas_price_gwei"`
	Timestamp    int64   `json:"ts"` // unix ms
}

// accountHealthMessage is a lending-protocol account state update.
type accountHealthMessage struct {
	Type             string  `json:"type"`
	Protocol         string  `json:"protocol"`
	Account          string  `json:"account"`
	ChainID          uint64  `json:"chain_id"`
	Collateral       string  `json:"collateral"`
	Debt             string  `json:"debt"`
	CollateralValue  float64 `json:"collateral_value"`
	DebtValue        float64 `json:"debt_value"`
	HealthFactor     float64 `json:"health_factor"`
	LiquidationBonus float64 `json:"liquidation_bonus"`
	Timestamp        int64   `json:"ts"` // unix ms
}

// MempoolFeed consumes the decoder service stream: pending swaps for the
// mempool-driven detectors and account health updates for the liquidation
// detector. Reconnects with exponential backoff.
type MempoolFeed struct {
	url      string
	onTx     PendingTxHandler
	onHealth AccountHealthHandler
	logger   *slog.Logger
}

// NewMempoolFeed creates the feed. Either handler may be nil.
func NewMempoolFeed(url string, onTx PendingTxHandler, onHealth AccountHealthHandler, logger *slog.Logger) *MempoolFeed {
	return &MempoolFeed{
		url:      url,
		onTx:     onTx,
		onHealth: onHealth,
		logger:   logger.With(slog.String("component", "mempool_feed")),
	}
}

// Run consumes until ctx is cancelled, reconnecting on disconnect.
func (f *MempoolFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("mempool feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = nextDelay(delay)
	}
}

func (f *MempoolFeed) runConnection(ctx context.Context) error {
	conn, err := dial(ctx, f.url)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	defer func() {
		close(done)
		conn.Close()
	}()
	go pingLoop(conn, done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	cmd := struct {
		Type     string   `json:"type"`
		Channels []string `json:"channels"`
	}{Type: "subscribe", Channels: []string{"pending_tx", "account_health"}}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("mempool feed subscribed")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", domain.ErrFeedClosed)
		}
		f.handleMessage(raw)
	}
}

func (f *MempoolFeed) handleMessage(raw []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.Type {
	case "pending_tx":
		if f.onTx == nil {
			return
		}
		var msg pendingTxMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		f.onTx(domain.PendingTx{
			Hash:         common.HexToHash(msg.Hash),
			ChainID:      msg.ChainID,
			Target:       common.HexToAddress(msg.Target),
			Pool:         domain.NewInstrument(msg.Pool, msg.ChainID),
			TokenIn:      domain.NewInstrument(msg.TokenIn, msg.ChainID),
			TokenOut:     domain.NewInstrument(msg.TokenOut, msg.ChainID),
			Venue:        msg.Venue,
			AmountIn:     msg.AmountIn,
			ValueMoved:   msg.ValueMoved,
			SlippageBps:  msg.SlippageBps,
			GasPriceGwei: msg.GasPriceGwei,
			FirstSeen:    time.UnixMilli(msg.Timestamp).UTC(),
		})
	case "account_health":
		if f.onHealth == nil {
			return
		}
		var msg accountHealthMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		f.onHealth(domain.AccountHealth{
			Protocol:         msg.Protocol,
			Account:          common.HexToAddress(msg.Account),
			ChainID:          msg.ChainID,
			Collateral:       domain.NewInstrument(msg.Collateral, msg.ChainID),
			Debt:             domain.NewInstrument(msg.Debt, msg.ChainID),
			CollateralValue:  msg.CollateralValue,
			DebtValue:        msg.DebtValue,
			HealthFactor:     msg.HealthFactor,
			LiquidationBonus: msg.LiquidationBonus,
			ObservedAt:       time.UnixMilli(msg.Timestamp).UTC(),
		})
	}
}
