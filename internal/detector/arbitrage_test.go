package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

func quote(venue string, seq uint64, bid, ask float64, at time.Time) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Symbol:     "BTC-USD",
		Venue:      venue,
		Bid:        bid,
		Ask:        ask,
		Sequence:   seq,
		ObservedAt: at,
	}
}

func arbObs(venues ...domain.MarketSnapshot) Observation {
	return Observation{Current: venues[0], Venues: venues, Now: t0}
}

func TestArbitrageTwoVenueScenario(t *testing.T) {
	a := NewArbitrage(ArbitrageConfig{})
	obs := arbObs(
		quote("alpha", 1, 42000, 42020, t0),
		quote("beta", 1, 42100, 42130, t0),
	)
	require.True(t, a.Ready(obs))

	sig, ok := a.Evaluate(obs)
	require.True(t, ok)
	assert.Equal(t, domain.SignalKindArbitrage, sig.Kind)
	assert.Equal(t, domain.DirectionArbitrage, sig.Direction)
	assert.Equal(t, "alpha", sig.Venue)
	assert.Equal(t, 42020.0, sig.ReferencePrice)
	require.NotNil(t, sig.Arbitrage)
	assert.Equal(t, "alpha", sig.Arbitrage.BuyVenue)
	assert.Equal(t, "beta", sig.Arbitrage.SellVenue)
	assert.Equal(t, 42020.0, sig.Arbitrage.BuyPrice)
	assert.Equal(t, 42100.0, sig.Arbitrage.SellPrice)
	assert.InDelta(t, 0.19, sig.Arbitrage.ProfitPercent, 0.005)
}

func TestArbitrageNeedsTwoFreshVenues(t *testing.T) {
	a := NewArbitrage(ArbitrageConfig{Staleness: time.Second})

	stale := arbObs(
		quote("alpha", 1, 42000, 42020, t0),
		quote("beta", 1, 42100, 42130, t0.Add(-5*time.Second)),
	)
	assert.False(t, a.Ready(stale))
	_, ok := a.Evaluate(stale)
	assert.False(t, ok)

	alone := arbObs(quote("alpha", 1, 42000, 42020, t0))
	_, ok = a.Evaluate(alone)
	assert.False(t, ok)

	oneSided := arbObs(
		quote("alpha", 1, 42000, 42020, t0),
		quote("beta", 1, 42100, 0, t0),
	)
	_, ok = a.Evaluate(oneSided)
	assert.False(t, ok, "a venue without both sides is not usable")

	crossed := arbObs(
		quote("alpha", 1, 42000, 42020, t0),
		quote("beta", 1, 42200, 42100, t0),
	)
	assert.False(t, a.Ready(crossed), "a venue with its own book crossed is skipped")
}

func TestArbitrageNoProfitNoSignal(t *testing.T) {
	a := NewArbitrage(ArbitrageConfig{})
	_, ok := a.Evaluate(arbObs(
		quote("alpha", 1, 100, 101, t0),
		quote("beta", 1, 100.5, 101.5, t0),
	))
	assert.False(t, ok)

	a = NewArbitrage(ArbitrageConfig{MinProfitPercent: 0.5})
	_, ok = a.Evaluate(arbObs(
		quote("alpha", 1, 42000, 42020, t0),
		quote("beta", 1, 42100, 42130, t0),
	))
	assert.False(t, ok, "below the configured minimum")
}

func TestArbitrageTieBreaksOnLatency(t *testing.T) {
	venues := []domain.MarketSnapshot{
		quote("alpha", 1, 99, 100, t0),
		quote("beta", 1, 101, 105, t0),
		quote("gamma", 1, 101, 105, t0),
	}

	sig, ok := NewArbitrage(ArbitrageConfig{}).Evaluate(arbObs(venues...))
	require.True(t, ok)
	assert.Equal(t, "beta", sig.Arbitrage.SellVenue, "equal latency falls back to venue name")

	slowBeta := NewArbitrage(ArbitrageConfig{Latency: map[string]time.Duration{
		"beta":  50 * time.Millisecond,
		"gamma": 10 * time.Millisecond,
	}})
	sig, ok = slowBeta.Evaluate(arbObs(venues...))
	require.True(t, ok)
	assert.Equal(t, "gamma", sig.Arbitrage.SellVenue)
}

func TestArbitrageSuppressesRepeats(t *testing.T) {
	a := NewArbitrage(ArbitrageConfig{})
	alpha := quote("alpha", 1, 42000, 42020, t0)
	beta := quote("beta", 1, 42100, 42130, t0)

	_, ok := a.Evaluate(arbObs(alpha, beta))
	require.True(t, ok)
	_, ok = a.Evaluate(arbObs(beta, alpha))
	assert.False(t, ok, "same quotes seen from the sibling venue")

	beta.Sequence = 2
	_, ok = a.Evaluate(arbObs(beta, alpha))
	assert.True(t, ok, "a newer quote re-opens the pair")

	cooled := NewArbitrage(ArbitrageConfig{Cooldown: time.Minute})
	_, ok = cooled.Evaluate(arbObs(alpha, beta))
	require.True(t, ok)
	beta.Sequence = 3
	_, ok = cooled.Evaluate(arbObs(alpha, beta))
	assert.False(t, ok, "inside the cooldown")
}

func TestArbitrageSizeCappedByTopOfBook(t *testing.T) {
	a := NewArbitrage(ArbitrageConfig{Size: 5})
	alpha := quote("alpha", 1, 42000, 42020, t0)
	alpha.Asks = []domain.PriceLevel{{Price: 42020, Quantity: 0.25}}
	beta := quote("beta", 1, 42100, 42130, t0)
	beta.Bids = []domain.PriceLevel{{Price: 42100, Quantity: 3}}

	sig, ok := a.Evaluate(arbObs(alpha, beta))
	require.True(t, ok)
	assert.Equal(t, 0.25, sig.SuggestedSize)
}

func TestProfitPercent(t *testing.T) {
	assert.InDelta(t, 1.0, ProfitPercent(100, 101), 1e-9)
	assert.Less(t, ProfitPercent(101, 100), 0.0)
}
