package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebmori/mevengine/internal/domain"
)

func TestHTTPBuilderBuildsBundle(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	var got buildRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(buildResponse{ChainID: 1, Payload: hexutil.Encode(payload)})
	}))
	defer srv.Close()

	b := NewHTTPBuilder(srv.URL, time.Second, testLogger)
	opp := queuedOpp(t, 50)

	bundle, err := b.Build(context.Background(), opp, domain.PriorityHigh, 1.25)
	require.NoError(t, err)

	assert.Equal(t, opp.ID, bundle.OpportunityID)
	assert.Equal(t, uint64(1), bundle.ChainID)
	assert.Equal(t, payload, bundle.Payload)
	assert.Equal(t, 1.25, bundle.GasMultiplier)
	assert.Equal(t, common.BytesToHash(crypto.Keccak256(payload)), bundle.Hash,
		"an unchanged payload always rehashes identically")

	assert.Equal(t, opp.ID, got.OpportunityID)
	assert.Equal(t, "high", got.Priority)
	assert.Equal(t, 1.25, got.GasMultiplier)
	require.Len(t, got.Route, 1)
	assert.Equal(t, "swap", got.Route[0].Op)
	assert.Equal(t, uint64(1), got.Route[0].ChainID)
}

func TestHTTPBuilderRejectsBuilderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(buildResponse{Error: "route no longer viable"})
	}))
	defer srv.Close()

	b := NewHTTPBuilder(srv.URL, time.Second, testLogger)
	_, err := b.Build(context.Background(), queuedOpp(t, 50), domain.PriorityNormal, 1.0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "route no longer viable")
}

func TestHTTPBuilderRejectsEmptyPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(buildResponse{ChainID: 1, Payload: "0x"})
	}))
	defer srv.Close()

	b := NewHTTPBuilder(srv.URL, time.Second, testLogger)
	_, err := b.Build(context.Background(), queuedOpp(t, 50), domain.PriorityNormal, 1.0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty payload")
}

func TestHTTPBuilderSurfacesHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "builder overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := NewHTTPBuilder(srv.URL, time.Second, testLogger)
	_, err := b.Build(context.Background(), queuedOpp(t, 50), domain.PriorityNormal, 1.0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
