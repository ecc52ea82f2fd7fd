package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/calebmori/mevengine/internal/domain"
)

// HTTPBuilder asks an external transaction-builder service to turn an
// opportunity route into a signed bundle. Building and signing the actual
// transactions happens in the builder; the engine only routes the result.
type HTTPBuilder struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

var _ Builder = (*HTTPBuilder)(nil)

// NewHTTPBuilder creates a builder client for the given service URL.
func NewHTTPBuilder(url string, timeout time.Duration, logger *slog.Logger) *HTTPBuilder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPBuilder{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("component", "builder")),
	}
}

type buildStep struct {
	Op      string  `json:"op"`
	From    string  `json:"from"`
	To      string  `json:"to"`
	ChainID uint64  `json:"chain_id"`
	Venue   string  `json:"venue"`
	Price   float64 `json:"price"`
	FeeRate float64 `json:"fee_rate"`
}

type buildRequest struct {
	OpportunityID string      `json:"opportunity_id"`
	Kind          string      `json:"kind"`
	Route         []buildStep `json:"route"`
	Priority      string      `json:"priority"`
	GasMultiplier float64     `json:"gas_multiplier"`
	ExpiresAt     int64       `json:"expires_at,omitempty"` // unix ms
}

type buildResponse struct {
	ChainID uint64 `json:"chain_id"`
	Payload string `json:"payload"` // hex-encoded signed bundle
	Error   string `json:"error,omitempty"`
}

// Build implements Builder. The bundle hash is the keccak256 of the returned
// payload, so retries of an unchanged route produce the same hash.
func (b *HTTPBuilder) Build(ctx context.Context, opp *domain.Opportunity, priority domain.Priority, gasMultiplier float64) (*domain.SignedBundle, error) {
	req := buildRequest{
		OpportunityID: opp.ID,
		Kind:          string(opp.Kind),
		Route:         make([]buildStep, 0, len(opp.Route)),
		Priority:      priority.String(),
		GasMultiplier: gasMultiplier,
	}
	for _, step := range opp.Route {
		req.Route = append(req.Route, buildStep{
			Op:      string(step.Op),
			From:    step.From.Token.Hex(),
			To:      step.To.Token.Hex(),
			ChainID: step.From.ChainID,
			Venue:   step.Venue,
			Price:   step.Price,
			FeeRate: step.FeeRate,
		})
	}
	if !opp.ExpiresAt.IsZero() {
		req.ExpiresAt = opp.ExpiresAt.UnixMilli()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("builder: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("builder: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("builder: call %s: %w", b.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("builder: returned %d: %s", resp.StatusCode, string(msg))
	}

	var out buildResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("builder: decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("builder: %s", out.Error)
	}
	payload, err := hexutil.Decode(out.Payload)
	if err != nil {
		return nil, fmt.Errorf("builder: decode payload: %w", err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("builder: empty payload for %s", opp.ID)
	}

	return &domain.SignedBundle{
		Hash:          common.BytesToHash(crypto.Keccak256(payload)),
		OpportunityID: opp.ID,
		ChainID:       out.ChainID,
		Payload:       payload,
		GasMultiplier: gasMultiplier,
		ExpiresAt:     opp.ExpiresAt,
	}, nil
}
