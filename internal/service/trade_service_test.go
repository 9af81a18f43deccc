package service

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	memcache "github.com/promptfun/launchpad/internal/cache/memory"
	"github.com/promptfun/launchpad/internal/domain"
	"github.com/promptfun/launchpad/internal/fees"
	memstore "github.com/promptfun/launchpad/internal/store/memory"
)

const (
	creatorAddr  = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	holderAddr   = "0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045"
	vaultAddr    = "0x0000000000000000000000000000000000000001"
	treasuryAddr = "0x0000000000000000000000000000000000000002"
)

type tradeFixture struct {
	svc    *TradeService
	ledger *memstore.Ledger
}

func newTradeFixture(t *testing.T, tradeableCap, threshold float64) *tradeFixture {
	t.Helper()

	policy, err := fees.NewPolicy(500, 40, 40, 20)
	require.NoError(t, err)

	ledger := memstore.NewLedger(tradeableCap, threshold)
	logger := slog.New(slog.DiscardHandler)

	svc := NewTradeService(
		ledger,
		ledger,
		policy,
		memcache.NewSignalBus(),
		memstore.NewAuditStore(),
		tradeableCap,
		vaultAddr,
		treasuryAddr,
		logger,
	)
	return &tradeFixture{svc: svc, ledger: ledger}
}

func (f *tradeFixture) createAgent(t *testing.T, id string, p0, p1 float64) {
	t.Helper()
	creator, err := domain.NormalizeAddress(creatorAddr)
	require.NoError(t, err)
	err = f.ledger.CreateAgent(context.Background(), domain.AgentCurveState{
		AgentID:        id,
		CreatorAddress: creator,
		P0:             p0,
		P1:             p1,
	})
	require.NoError(t, err)
}

func TestExecuteTradeValidation(t *testing.T) {
	f := newTradeFixture(t, 1000, 1e9)
	f.createAgent(t, "a1", 0.1, 0.2)
	ctx := context.Background()

	_, err := f.svc.ExecuteTrade(ctx, domain.TradeRequest{
		AgentID: "a1", HolderAddress: holderAddr, Side: "hold", Amount: 10,
	})
	require.ErrorIs(t, err, domain.ErrInvalidTrade)

	_, err = f.svc.ExecuteTrade(ctx, domain.TradeRequest{
		AgentID: "a1", HolderAddress: holderAddr, Side: domain.SideBuy, Amount: 0,
	})
	require.ErrorIs(t, err, domain.ErrInvalidTrade)

	_, err = f.svc.ExecuteTrade(ctx, domain.TradeRequest{
		AgentID: "a1", HolderAddress: "not-an-address", Side: domain.SideBuy, Amount: 10,
	})
	require.ErrorIs(t, err, domain.ErrInvalidAddress)

	_, err = f.svc.ExecuteTrade(ctx, domain.TradeRequest{
		AgentID: "missing", HolderAddress: holderAddr, Side: domain.SideBuy, Amount: 10,
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExecuteBuyAccruesAndPositions(t *testing.T) {
	f := newTradeFixture(t, 300_000_000, 1e9)
	f.createAgent(t, "a1", 0.00004, 0.00024)
	ctx := context.Background()

	res, err := f.svc.ExecuteTrade(ctx, domain.TradeRequest{
		AgentID:       "a1",
		HolderAddress: holderAddr,
		Side:          domain.SideBuy,
		Amount:        1000,
	})
	require.NoError(t, err)

	// Gross 1000 at 5% fee leaves 950 on the curve.
	require.InDelta(t, 1000, res.Record.InputAmount, 1e-9)
	require.InDelta(t, 50, res.Record.FeeAmount, 1e-9)
	require.InDelta(t, 950, res.PromptRaised, 1e-9)
	require.Greater(t, res.Record.OutputAmount, 2.0e7)
	require.Less(t, res.Record.OutputAmount, 2.1e7)
	require.Equal(t, res.Record.OutputAmount, res.NewBalance)
	require.False(t, res.Graduated)

	holder, err := domain.NormalizeAddress(holderAddr)
	require.NoError(t, err)
	pos, err := f.ledger.GetPosition(ctx, "a1", holder)
	require.NoError(t, err)
	require.Equal(t, res.Record.OutputAmount, pos.TokenBalance)

	// 40/40/20 split of the 50 fee.
	creator, err := domain.NormalizeAddress(creatorAddr)
	require.NoError(t, err)
	cr, err := f.ledger.GetReward(ctx, "a1", creator, domain.RewardCreator)
	require.NoError(t, err)
	require.InDelta(t, 20, cr.Accrued, 1e-9)
	va, err := f.ledger.GetReward(ctx, "a1", vaultAddr, domain.RewardVault)
	require.NoError(t, err)
	require.InDelta(t, 20, va.Accrued, 1e-9)
	tr, err := f.ledger.GetReward(ctx, "a1", treasuryAddr, domain.RewardTreasury)
	require.NoError(t, err)
	require.InDelta(t, 10, tr.Accrued, 1e-9)
}

func TestBuySellRoundTripLosesOnlyFees(t *testing.T) {
	f := newTradeFixture(t, 300_000_000, 1e9)
	f.createAgent(t, "a1", 0.00004, 0.00024)
	ctx := context.Background()

	buy, err := f.svc.ExecuteTrade(ctx, domain.TradeRequest{
		AgentID:       "a1",
		HolderAddress: holderAddr,
		Side:          domain.SideBuy,
		Amount:        1000,
	})
	require.NoError(t, err)

	sell, err := f.svc.ExecuteTrade(ctx, domain.TradeRequest{
		AgentID:       "a1",
		HolderAddress: holderAddr,
		Side:          domain.SideSell,
		Amount:        buy.Record.OutputAmount,
	})
	require.NoError(t, err)

	// Unwinding releases the same 950 the buy consumed, minus the sell fee:
	// 950 * 0.95 = 902.5. The only loss across the round trip is the two
	// fee charges.
	require.InDelta(t, 902.5, sell.Record.OutputAmount, 1e-6)
	require.InDelta(t, 47.5, sell.Record.FeeAmount, 1e-6)

	agent, err := f.ledger.GetAgent(ctx, "a1")
	require.NoError(t, err)
	require.InDelta(t, 0, agent.SharesSold, 1e-6)
	require.InDelta(t, 0, agent.PromptRaised, 1e-6)
	require.Equal(t, 0.0, sell.NewBalance)
}

func TestSellWithoutBalance(t *testing.T) {
	f := newTradeFixture(t, 1000, 1e9)
	f.createAgent(t, "a1", 0.1, 0.2)
	ctx := context.Background()

	_, err := f.svc.ExecuteTrade(ctx, domain.TradeRequest{
		AgentID:       "a1",
		HolderAddress: holderAddr,
		Side:          domain.SideSell,
		Amount:        10,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Holding less than the request is also rejected.
	_, err = f.svc.ExecuteTrade(ctx, domain.TradeRequest{
		AgentID:       "a1",
		HolderAddress: holderAddr,
		Side:          domain.SideBuy,
		Amount:        1,
	})
	require.NoError(t, err)

	_, err = f.svc.ExecuteTrade(ctx, domain.TradeRequest{
		AgentID:       "a1",
		HolderAddress: holderAddr,
		Side:          domain.SideSell,
		Amount:        1e9,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestGraduationStopsTrading(t *testing.T) {
	f := newTradeFixture(t, 300_000_000, 900)
	f.createAgent(t, "a1", 0.00004, 0.00024)
	ctx := context.Background()

	res, err := f.svc.ExecuteTrade(ctx, domain.TradeRequest{
		AgentID:       "a1",
		HolderAddress: holderAddr,
		Side:          domain.SideBuy,
		Amount:        1000,
	})
	require.NoError(t, err)
	require.True(t, res.Graduated, "crossing the threshold latches the phase")

	// Both sides are rejected afterward, as are quotes.
	_, err = f.svc.ExecuteTrade(ctx, domain.TradeRequest{
		AgentID:       "a1",
		HolderAddress: holderAddr,
		Side:          domain.SideBuy,
		Amount:        10,
	})
	require.ErrorIs(t, err, domain.ErrAlreadyGraduated)

	_, err = f.svc.ExecuteTrade(ctx, domain.TradeRequest{
		AgentID:       "a1",
		HolderAddress: holderAddr,
		Side:          domain.SideSell,
		Amount:        1,
	})
	require.ErrorIs(t, err, domain.ErrAlreadyGraduated)

	_, err = f.svc.GetQuote(ctx, "a1", domain.SideBuy, 10)
	require.ErrorIs(t, err, domain.ErrAlreadyGraduated)
}

func TestConcurrentBuysGraduateOnce(t *testing.T) {
	f := newTradeFixture(t, 300_000_000, 5000)
	f.createAgent(t, "a1", 0.00004, 0.00024)
	ctx := context.Background()

	// 10 buys of 1000 gross (950 net each) cross the 5000 threshold midway.
	var results [10]bool
	g := new(errgroup.Group)
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			res, err := f.svc.ExecuteTrade(ctx, domain.TradeRequest{
				AgentID:       "a1",
				HolderAddress: holderAddr,
				Side:          domain.SideBuy,
				Amount:        1000,
			})
			if err != nil {
				return nil // late buys racing the latch are expected to fail
			}
			results[i] = res.Graduated
			return nil
		})
	}
	require.NoError(t, g.Wait())

	graduated := 0
	for _, g := range results {
		if g {
			graduated++
		}
	}
	require.Equal(t, 1, graduated)

	agent, err := f.ledger.GetAgent(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, domain.PhaseGraduated, agent.Phase)
}

func TestBuyClampedAtCapChargesPartial(t *testing.T) {
	f := newTradeFixture(t, 1000, 1e9)
	f.createAgent(t, "a1", 0.1, 0.2)
	ctx := context.Background()

	// The whole curve is worth 150 net; offering 1000 gross (950 net) fills
	// the remaining supply and charges only gross-from-net of 150.
	res, err := f.svc.ExecuteTrade(ctx, domain.TradeRequest{
		AgentID:       "a1",
		HolderAddress: holderAddr,
		Side:          domain.SideBuy,
		Amount:        1000,
	})
	require.NoError(t, err)
	require.InDelta(t, 1000, res.Record.OutputAmount, 1e-9)
	require.InDelta(t, 150, res.PromptRaised, 1e-9)
	require.InDelta(t, 150.0/0.95, res.Record.InputAmount, 1e-6)
	require.Less(t, res.Record.InputAmount, 1000.0)

	// Sold out: the next buy cannot fill anything.
	_, err = f.svc.ExecuteTrade(ctx, domain.TradeRequest{
		AgentID:       "a1",
		HolderAddress: holderAddr,
		Side:          domain.SideBuy,
		Amount:        10,
	})
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)
}

func TestExecuteTradeIdempotencyKey(t *testing.T) {
	f := newTradeFixture(t, 300_000_000, 1e9)
	f.createAgent(t, "a1", 0.00004, 0.00024)
	ctx := context.Background()

	req := domain.TradeRequest{
		AgentID:        "a1",
		HolderAddress:  holderAddr,
		Side:           domain.SideBuy,
		Amount:         1000,
		IdempotencyKey: "req-42",
	}

	first, err := f.svc.ExecuteTrade(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.ExecuteTrade(ctx, req)
	require.ErrorIs(t, err, domain.ErrDuplicateRequest)

	// The replay changed nothing.
	agent, err := f.ledger.GetAgent(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, first.SharesSold, agent.SharesSold)
}

func TestGetQuoteMatchesExecution(t *testing.T) {
	f := newTradeFixture(t, 300_000_000, 1e9)
	f.createAgent(t, "a1", 0.00004, 0.00024)
	ctx := context.Background()

	quote, err := f.svc.GetQuote(ctx, "a1", domain.SideBuy, 1000)
	require.NoError(t, err)

	res, err := f.svc.ExecuteTrade(ctx, domain.TradeRequest{
		AgentID:       "a1",
		HolderAddress: holderAddr,
		Side:          domain.SideBuy,
		Amount:        1000,
	})
	require.NoError(t, err)

	require.Equal(t, quote.OutputAmount, res.Record.OutputAmount)
	require.Equal(t, quote.FeeAmount, res.Record.FeeAmount)
	require.Equal(t, quote.PriceAfter, res.Record.PriceAfter)

	// Quoting never mutates state: the same quote again returns the post-
	// trade pricing, not a double application.
	quote2, err := f.svc.GetQuote(ctx, "a1", domain.SideSell, res.Record.OutputAmount)
	require.NoError(t, err)
	require.InDelta(t, 902.5, quote2.OutputAmount, 1e-6)
}

func TestListTradesByAgentAndHolder(t *testing.T) {
	f := newTradeFixture(t, 300_000_000, 1e9)
	f.createAgent(t, "a1", 0.00004, 0.00024)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.ExecuteTrade(ctx, domain.TradeRequest{
			AgentID:       "a1",
			HolderAddress: holderAddr,
			Side:          domain.SideBuy,
			Amount:        100,
		})
		require.NoError(t, err)
	}

	byAgent, err := f.svc.ListByAgent(ctx, "a1", domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, byAgent, 3)

	// Holder lookups accept any capitalization of the address.
	byHolder, err := f.svc.ListByHolder(ctx, holderAddr, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, byHolder, 2)

	_, err = f.svc.ListByHolder(ctx, "nope", domain.ListOpts{})
	require.ErrorIs(t, err, domain.ErrInvalidAddress)
}
