package fees

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := NewPolicy(500, 40, 40, 20)
	require.NoError(t, err)
	return p
}

func TestNewPolicyValidation(t *testing.T) {
	cases := []struct {
		name                                      string
		feeBps, creatorPct, vaultPct, treasuryPct int
	}{
		{"negative fee", -1, 40, 40, 20},
		{"fee at denominator", 10_000, 40, 40, 20},
		{"split below 100", 500, 40, 40, 10},
		{"split above 100", 500, 50, 40, 20},
		{"negative share", 500, -10, 90, 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPolicy(tc.feeBps, tc.creatorPct, tc.vaultPct, tc.treasuryPct)
			require.Error(t, err)
		})
	}

	_, err := NewPolicy(0, 40, 40, 20)
	require.NoError(t, err, "zero fee is a valid configuration")
}

func TestFee(t *testing.T) {
	p := mustPolicy(t)

	require.InDelta(t, 50, p.Fee(1000), 1e-12)
	require.InDelta(t, 0.05, p.Fee(1), 1e-12)
	require.Equal(t, 0.0, p.Fee(0))

	// Flooring at the amount scale: 5% of 0.000000019 is 9.5e-10, floored
	// to 0 rather than rounded up.
	require.Equal(t, 0.0, p.Fee(0.000000019))
}

func TestGrossFromNetInvertsFee(t *testing.T) {
	p := mustPolicy(t)

	gross, fee := p.GrossFromNet(950)
	require.InDelta(t, 1000, gross, 1e-9)
	require.InDelta(t, 50, fee, 1e-9)

	// Gross minus its own fee never falls below the net that was asked for.
	for _, net := range []float64{0.001, 1, 42.42, 950, 123_456.789} {
		gross, fee := p.GrossFromNet(net)
		require.GreaterOrEqual(t, gross-fee, net-1e-9)
		require.LessOrEqual(t, gross-net, fee+1e-9)
	}
}

func TestSplitFeeConserved(t *testing.T) {
	p := mustPolicy(t)

	s := p.SplitFee(50)
	require.InDelta(t, 20, s.Creator, 1e-12)
	require.InDelta(t, 20, s.Vault, 1e-12)
	require.InDelta(t, 10, s.Treasury, 1e-12)

	// The three shares always reconstruct the full fee exactly, with the
	// treasury absorbing the floor remainder.
	for _, fee := range []float64{0.000000001, 0.07, 1.0 / 3.0, 50, 999.999999999} {
		s := p.SplitFee(fee)
		require.InDelta(t, fee, s.Creator+s.Vault+s.Treasury, 1e-9)
		require.GreaterOrEqual(t, s.Treasury, 0.0)
	}
}
