package broadcast

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/calebmori/mevengine/internal/domain"
)

// RelayEndpoint submits bundles to an HTTP relay. Private relays require a
// request signature: the keccak256 of the body signed with the searcher key,
// sent as address:signature so the relay can attribute reputation.
type RelayEndpoint struct {
	name    string
	url     string
	private bool
	signer  *ecdsa.PrivateKey
	client  *http.Client
	logger  *slog.Logger
}

var _ Endpoint = (*RelayEndpoint)(nil)

// NewRelayEndpoint creates an endpoint. signer may be nil for public mempool
// gateways that do not authenticate.
func NewRelayEndpoint(name, url string, private bool, signer *ecdsa.PrivateKey, timeout time.Duration, logger *slog.Logger) *RelayEndpoint {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RelayEndpoint{
		name:    name,
		url:     url,
		private: private,
		signer:  signer,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "relay"), slog.String("relay", name)),
	}
}

// Name implements Endpoint.
func (r *RelayEndpoint) Name() string { return r.name }

// Private implements Endpoint.
func (r *RelayEndpoint) Private() bool { return r.private }

type submitRequest struct {
	BundleHash    string  `json:"bundle_hash"`
	ChainID       uint64  `json:"chain_id"`
	Payload       string  `json:"payload"` // hex-encoded signed bundle
	GasMultiplier float64 `json:"gas_multiplier"`
	ExpiresAt     int64   `json:"expires_at,omitempty"` // unix ms
}

type submitResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Submit implements Endpoint.
func (r *RelayEndpoint) Submit(ctx context.Context, bundle *domain.SignedBundle) (domain.InclusionStatus, error) {
	reqBody := submitRequest{
		BundleHash:    bundle.Hash.Hex(),
		ChainID:       bundle.ChainID,
		Payload:       hexutil.Encode(bundle.Payload),
		GasMultiplier: bundle.GasMultiplier,
	}
	if !bundle.ExpiresAt.IsZero() {
		reqBody.ExpiresAt = bundle.ExpiresAt.UnixMilli()
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("relay: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.signer != nil {
		sig, err := r.signBody(body)
		if err != nil {
			return "", fmt.Errorf("relay: sign request: %w", err)
		}
		req.Header.Set("X-Bundle-Signature", sig)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("relay: submit %s: %w", r.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("relay: %s returned %d: %s", r.name, resp.StatusCode, string(msg))
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("relay: decode response: %w", err)
	}
	switch out.Status {
	case "accepted":
		return domain.InclusionAccepted, nil
	case "included":
		return domain.InclusionIncluded, nil
	default:
		r.logger.Debug("bundle rejected",
			slog.String("bundle", bundle.Hash.Hex()),
			slog.String("reason", out.Reason),
		)
		return domain.InclusionRejected, nil
	}
}

// signBody produces the address:signature header over the keccak256 of the
// request body.
func (r *RelayEndpoint) signBody(body []byte) (string, error) {
	hash := crypto.Keccak256(body)
	sig, err := crypto.Sign(hash, r.signer)
	if err != nil {
		return "", err
	}
	addr := crypto.PubkeyToAddress(r.signer.PublicKey)
	return addr.Hex() + ":" + hexutil.Encode(sig), nil
}
