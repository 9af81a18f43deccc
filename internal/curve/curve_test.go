package curve

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/promptfun/launchpad/internal/domain"
)

// Standard launch parameters used throughout the engine's tests.
var launchParams = Params{
	P0:  0.00004,
	P1:  0.00024,
	Cap: 300_000_000,
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, launchParams.Validate())

	cases := []struct {
		name string
		p    Params
	}{
		{"zero cap", Params{P0: 0.1, P1: 0.2, Cap: 0}},
		{"negative cap", Params{P0: 0.1, P1: 0.2, Cap: -1}},
		{"zero p0", Params{P0: 0, P1: 0.2, Cap: 100}},
		{"p0 above p1", Params{P0: 0.3, P1: 0.2, Cap: 100}},
		{"p0 equals p1", Params{P0: 0.2, P1: 0.2, Cap: 100}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Error(t, tc.p.Validate())
		})
	}
}

func TestPriceEndpoints(t *testing.T) {
	require.InDelta(t, launchParams.P0, launchParams.Price(0), 1e-18)
	require.InDelta(t, launchParams.P1, launchParams.Price(launchParams.Cap), 1e-18)

	mid := launchParams.Price(launchParams.Cap / 2)
	require.InDelta(t, (launchParams.P0+launchParams.P1)/2, mid, 1e-12)
}

func TestPriceMonotonic(t *testing.T) {
	prev := launchParams.Price(0)
	for sold := launchParams.Cap / 100; sold <= launchParams.Cap; sold += launchParams.Cap / 100 {
		cur := launchParams.Price(sold)
		require.Greater(t, cur, prev, "price must rise with shares sold")
		prev = cur
	}
}

func TestQuoteBuyLaunchScenario(t *testing.T) {
	// A 1000-unit gross buy at 5% fee leaves 950 net. The rising price means
	// fewer shares than the naive net/p0 division would suggest.
	q, err := launchParams.QuoteBuy(0, 950)
	require.NoError(t, err)

	naive := 950 / launchParams.P0
	require.Less(t, q.SharesOut, naive)
	require.Greater(t, q.SharesOut, 2.0e7)
	require.Less(t, q.SharesOut, 2.1e7)

	// The area under the price line for the issued shares equals the net
	// proceeds consumed.
	area := launchParams.segmentValue(0, q.SharesOut)
	require.InDelta(t, 950, area, 1e-6)

	require.InDelta(t, launchParams.P0, q.PriceBefore, 1e-18)
	require.Greater(t, q.PriceAfter, q.PriceBefore)
	require.InDelta(t, 950, q.NetCost, 1e-12)
}

func TestQuoteBuyInvalidInputs(t *testing.T) {
	_, err := launchParams.QuoteBuy(0, 0)
	require.ErrorIs(t, err, domain.ErrInvalidTrade)

	_, err = launchParams.QuoteBuy(0, -5)
	require.ErrorIs(t, err, domain.ErrInvalidTrade)

	_, err = launchParams.QuoteBuy(-1, 100)
	require.ErrorIs(t, err, domain.ErrInvalidTrade)

	_, err = launchParams.QuoteBuy(launchParams.Cap+1, 100)
	require.ErrorIs(t, err, domain.ErrInvalidTrade)
}

func TestQuoteBuySoldOut(t *testing.T) {
	_, err := launchParams.QuoteBuy(launchParams.Cap, 100)
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)
}

func TestQuoteBuyClampsAtCap(t *testing.T) {
	p := Params{P0: 0.1, P1: 0.2, Cap: 1000}

	// The entire curve is worth (0.1+0.2)/2 * 1000 = 150. Offering more net
	// than that clamps the fill to the remaining supply.
	q, err := p.QuoteBuy(0, 500)
	require.NoError(t, err)
	require.InDelta(t, 1000, q.SharesOut, 1e-9)
	require.InDelta(t, 150, q.NetCost, 1e-9)
	require.Less(t, q.NetCost, 500.0)
	require.InDelta(t, p.P1, q.PriceAfter, 1e-12)

	// Partially sold curve clamps to the remainder.
	q, err = p.QuoteBuy(900, 500)
	require.NoError(t, err)
	require.InDelta(t, 100, q.SharesOut, 1e-9)
	require.InDelta(t, p.segmentValue(900, 1000), q.NetCost, 1e-12)
}

func TestQuoteBuyNearFlatCurve(t *testing.T) {
	// Slope below the epsilon takes the division fallback instead of the
	// quadratic solve.
	p := Params{P0: 1, P1: 1 + 1e-12, Cap: 1e9}
	require.Less(t, p.slope(), flatSlopeEpsilon)

	q, err := p.QuoteBuy(0, 250)
	require.NoError(t, err)
	require.InDelta(t, 250, q.SharesOut, 1e-9)
}

func TestQuoteSellInvalidInputs(t *testing.T) {
	_, err := launchParams.QuoteSell(1000, 0)
	require.ErrorIs(t, err, domain.ErrInvalidTrade)

	_, err = launchParams.QuoteSell(1000, -10)
	require.ErrorIs(t, err, domain.ErrInvalidTrade)

	_, err = launchParams.QuoteSell(1000, 1001)
	require.ErrorIs(t, err, domain.ErrInsufficientSupply)
	require.False(t, errors.Is(err, domain.ErrInvalidTrade))
}

func TestQuoteSellTrapezoid(t *testing.T) {
	p := Params{P0: 0.1, P1: 0.2, Cap: 1000}

	// Selling the whole curve releases the full area under the line.
	q, err := p.QuoteSell(1000, 1000)
	require.NoError(t, err)
	require.InDelta(t, 150, q.GrossProceeds, 1e-12)
	require.InDelta(t, p.P1, q.PriceBefore, 1e-12)
	require.InDelta(t, p.P0, q.PriceAfter, 1e-12)
}

func TestBuySellRoundTrip(t *testing.T) {
	// A buy immediately unwound returns exactly the net that went in: the
	// trapezoid is the exact integral of the linear price, so the only loss
	// across a full round trip is the two fees charged outside this package.
	for _, net := range []float64{1, 950, 12_000, 40_000} {
		buy, err := launchParams.QuoteBuy(0, net)
		require.NoError(t, err)

		sell, err := launchParams.QuoteSell(buy.SharesOut, buy.SharesOut)
		require.NoError(t, err)

		require.InDelta(t, net, sell.GrossProceeds, net*1e-9)
		require.InDelta(t, buy.PriceAfter, sell.PriceBefore, 1e-15)
	}
}

func TestQuoteBuyDeterministic(t *testing.T) {
	a, err := launchParams.QuoteBuy(12_345, 678.9)
	require.NoError(t, err)
	b, err := launchParams.QuoteBuy(12_345, 678.9)
	require.NoError(t, err)
	require.Equal(t, a, b)
}
