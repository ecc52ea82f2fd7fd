package broadcast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebmori/mevengine/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeEndpoint scripts one submission target. A negative latency means it
// blocks until the context is cancelled.
type fakeEndpoint struct {
	name    string
	private bool
	status  domain.InclusionStatus
	err     error
	latency time.Duration

	submits   atomic.Int64
	cancelled atomic.Bool
}

func (e *fakeEndpoint) Name() string  { return e.name }
func (e *fakeEndpoint) Private() bool { return e.private }

func (e *fakeEndpoint) Submit(ctx context.Context, bundle *domain.SignedBundle) (domain.InclusionStatus, error) {
	e.submits.Add(1)
	if e.latency < 0 {
		<-ctx.Done()
		e.cancelled.Store(true)
		return "", ctx.Err()
	}
	if e.latency > 0 {
		select {
		case <-ctx.Done():
			e.cancelled.Store(true)
			return "", ctx.Err()
		case <-time.After(e.latency):
		}
	}
	if e.err != nil {
		return "", e.err
	}
	return e.status, nil
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      2,
		BaseDelay:        time.Millisecond,
		MaxDelay:         2 * time.Millisecond,
		JitterFraction:   0.01,
		BreakerThreshold: 3,
		BreakerCooldown:  time.Minute,
	}
}

func testBundle() *domain.SignedBundle {
	return &domain.SignedBundle{
		OpportunityID: "opp-1",
		ChainID:       1,
		Payload:       []byte{0x01, 0x02},
		ExpiresAt:     time.Now().UTC().Add(time.Minute),
	}
}

func newChannels(endpoints ...*fakeEndpoint) []*Channel {
	out := make([]*Channel, 0, len(endpoints))
	for _, e := range endpoints {
		out = append(out, NewChannel(e, fastPolicy(), nil, testLogger))
	}
	return out
}

func TestBroadcastFirstSuccessWins(t *testing.T) {
	fast := &fakeEndpoint{name: "flashbots", private: true, status: domain.InclusionAccepted}
	slow := &fakeEndpoint{name: "public_mempool", latency: -1}
	m := NewManager(newChannels(fast, slow), testLogger)

	res := m.Broadcast(context.Background(), testBundle(), domain.PriorityNormal)
	require.True(t, res.Success)
	assert.Equal(t, "flashbots", res.Winner)
	assert.Equal(t, domain.InclusionAccepted, res.Status)
	assert.Len(t, res.Channels, 2)
	assert.True(t, slow.cancelled.Load(), "the losing channel is cancelled once a winner lands")
}

func TestBroadcastAllFailCarriesDetail(t *testing.T) {
	a := &fakeEndpoint{name: "flashbots", private: true, err: errors.New("relay timeout")}
	b := &fakeEndpoint{name: "public_mempool", err: errors.New("nonce too low")}
	m := NewManager(newChannels(a, b), testLogger)

	res := m.Broadcast(context.Background(), testBundle(), domain.PriorityNormal)
	assert.False(t, res.Success)
	assert.Empty(t, res.Winner)
	require.Len(t, res.Channels, 2)
	for _, ch := range res.Channels {
		assert.NotEmpty(t, ch.Err)
		assert.Equal(t, 2, ch.Attempts, "every retry is burned before giving up")
	}
}

func TestBroadcastUltraSkipsPublicChannels(t *testing.T) {
	private := &fakeEndpoint{name: "flashbots", private: true, status: domain.InclusionAccepted}
	public := &fakeEndpoint{name: "public_mempool", status: domain.InclusionAccepted}
	m := NewManager(newChannels(private, public), testLogger)

	res := m.Broadcast(context.Background(), testBundle(), domain.PriorityUltra)
	require.True(t, res.Success)
	assert.Equal(t, "flashbots", res.Winner)
	assert.EqualValues(t, 0, public.submits.Load(), "ultra bundles never touch the public mempool")
}

func TestBroadcastNoEligibleChannels(t *testing.T) {
	public := &fakeEndpoint{name: "public_mempool", status: domain.InclusionAccepted}
	m := NewManager(newChannels(public), testLogger)

	res := m.Broadcast(context.Background(), testBundle(), domain.PriorityUltra)
	assert.False(t, res.Success)
	assert.Empty(t, res.Channels)
}

func TestBroadcastExpiredBundleDeadline(t *testing.T) {
	slow := &fakeEndpoint{name: "flashbots", private: true, latency: -1}
	m := NewManager(newChannels(slow), testLogger)

	bundle := testBundle()
	bundle.ExpiresAt = time.Now().UTC().Add(20 * time.Millisecond)

	start := time.Now()
	res := m.Broadcast(context.Background(), bundle, domain.PriorityNormal)
	assert.False(t, res.Success)
	assert.Less(t, time.Since(start), time.Second, "the bundle expiry bounds the whole fan-out")
}

func TestChannelRetriesUntilAccepted(t *testing.T) {
	flaky := &fakeEndpoint{name: "flashbots", err: errors.New("connection reset")}
	ch := NewChannel(flaky, fastPolicy(), nil, testLogger)

	res := ch.Submit(context.Background(), testBundle())
	assert.NotEmpty(t, res.Err)
	assert.EqualValues(t, 2, flaky.submits.Load())

	flaky.err = nil
	flaky.status = domain.InclusionAccepted
	res = ch.Submit(context.Background(), testBundle())
	assert.Empty(t, res.Err)
	assert.Equal(t, domain.InclusionAccepted, res.Status)
}

func TestChannelRejectionCountsAsFailure(t *testing.T) {
	rejecting := &fakeEndpoint{name: "flashbots", status: domain.InclusionRejected}
	ch := NewChannel(rejecting, fastPolicy(), nil, testLogger)

	res := ch.Submit(context.Background(), testBundle())
	assert.Equal(t, domain.InclusionRejected, res.Status)
	assert.NotEmpty(t, res.Err)
}

func TestChannelBreakerOpensAndFailsFast(t *testing.T) {
	failing := &fakeEndpoint{name: "flashbots", err: errors.New("down")}
	ch := NewChannel(failing, fastPolicy(), nil, testLogger)

	// Three failed bundles trip the breaker.
	for range 3 {
		ch.Submit(context.Background(), testBundle())
	}
	require.False(t, ch.Healthy())

	before := failing.submits.Load()
	res := ch.Submit(context.Background(), testBundle())
	assert.Equal(t, domain.ErrChannelUnhealthy.Error(), res.Err)
	assert.Equal(t, before, failing.submits.Load(), "an open breaker never touches the endpoint")
}

func TestChannelBreakerRecoversAfterCooldown(t *testing.T) {
	failing := &fakeEndpoint{name: "flashbots", err: errors.New("down")}
	policy := fastPolicy()
	policy.BreakerCooldown = 10 * time.Millisecond
	ch := NewChannel(failing, policy, nil, testLogger)

	for range 3 {
		ch.Submit(context.Background(), testBundle())
	}
	require.False(t, ch.Healthy())

	time.Sleep(20 * time.Millisecond)
	require.True(t, ch.Healthy())

	failing.err = nil
	failing.status = domain.InclusionAccepted
	res := ch.Submit(context.Background(), testBundle())
	assert.Empty(t, res.Err)
	assert.True(t, ch.Healthy())
}

func TestBroadcastFallsBackToUnhealthyChannels(t *testing.T) {
	failing := &fakeEndpoint{name: "flashbots", private: true, err: errors.New("down")}
	ch := NewChannel(failing, fastPolicy(), nil, testLogger)
	for range 3 {
		ch.Submit(context.Background(), testBundle())
	}
	require.False(t, ch.Healthy())

	m := NewManager([]*Channel{ch}, testLogger)
	res := m.Broadcast(context.Background(), testBundle(), domain.PriorityNormal)
	assert.False(t, res.Success)
	require.Len(t, res.Channels, 1, "a fully unhealthy set still tries everything rather than nothing")
}

func TestRetryPolicyBackoffDoublesAndCaps(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:      5,
		BaseDelay:        10 * time.Millisecond,
		MaxDelay:         40 * time.Millisecond,
		JitterFraction:   0.1,
		BreakerThreshold: 5,
		BreakerCooldown:  time.Minute,
	}

	for n, want := range map[int]time.Duration{
		1: 10 * time.Millisecond,
		2: 20 * time.Millisecond,
		3: 40 * time.Millisecond,
		4: 40 * time.Millisecond, // capped
	} {
		d := p.delay(n)
		assert.GreaterOrEqual(t, d, want, "attempt %d", n)
		assert.LessOrEqual(t, d, want+time.Duration(float64(want)*p.JitterFraction)+time.Millisecond, "attempt %d", n)
	}
}
