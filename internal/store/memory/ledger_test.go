package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/promptfun/launchpad/internal/domain"
)

const (
	testCap       = 1_000_000.0
	testThreshold = 10_000.0
	holderA       = "0x00000000000000000000000000000000000000aa"
	holderB       = "0x00000000000000000000000000000000000000bb"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l := NewLedger(testCap, testThreshold)
	err := l.CreateAgent(context.Background(), domain.AgentCurveState{
		AgentID:        "agent-1",
		CreatorAddress: holderA,
		P0:             0.01,
		P1:             0.05,
	})
	require.NoError(t, err)
	return l
}

func TestCreateAgent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	agent, err := l.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, domain.PhaseActive, agent.Phase)
	require.Equal(t, 0.0, agent.SharesSold)
	require.Equal(t, agent.P0, agent.LastPrice)

	// Same id again is rejected.
	err = l.CreateAgent(ctx, domain.AgentCurveState{AgentID: "agent-1", CreatorAddress: holderA, P0: 1, P1: 2})
	require.ErrorIs(t, err, domain.ErrDuplicateRequest)

	_, err = l.GetAgent(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApplyAgentDeltaBounds(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	upd, err := l.ApplyAgentDelta(ctx, "agent-1", domain.AgentDelta{SharesDelta: 100, PromptDelta: 5, NewPrice: 0.011})
	require.NoError(t, err)
	require.Equal(t, 100.0, upd.SharesSold)
	require.False(t, upd.ShouldGraduate)

	// Below zero.
	_, err = l.ApplyAgentDelta(ctx, "agent-1", domain.AgentDelta{SharesDelta: -200, PromptDelta: -1})
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)

	// Above cap.
	_, err = l.ApplyAgentDelta(ctx, "agent-1", domain.AgentDelta{SharesDelta: testCap, PromptDelta: 1})
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)

	// Rejections leave the state untouched.
	agent, err := l.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, 100.0, agent.SharesSold)
}

func TestGraduationLatchesExactlyOnce(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	// 40 concurrent deltas of 400 each; the threshold of 10000 falls inside
	// the sequence, so exactly one delta must observe the latch.
	var (
		mu        sync.Mutex
		graduated int
		rejected  int
	)
	g := new(errgroup.Group)
	for i := 0; i < 40; i++ {
		g.Go(func() error {
			upd, err := l.ApplyAgentDelta(ctx, "agent-1", domain.AgentDelta{
				SharesDelta: 10,
				PromptDelta: 400,
				NewPrice:    0.02,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && upd.ShouldGraduate:
				graduated++
			case err != nil:
				rejected++
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, 1, graduated, "exactly one delta latches the transition")

	agent, err := l.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, domain.PhaseGraduated, agent.Phase)
	require.GreaterOrEqual(t, agent.PromptRaised, testThreshold)

	// Everything after the latch is rejected.
	_, err = l.ApplyAgentDelta(ctx, "agent-1", domain.AgentDelta{SharesDelta: 1, PromptDelta: 1})
	require.ErrorIs(t, err, domain.ErrAlreadyGraduated)
}

func TestApplyPositionDelta(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	// First buy creates the row.
	bal, err := l.ApplyPositionDelta(ctx, "agent-1", holderA, 50)
	require.NoError(t, err)
	require.Equal(t, 50.0, bal)

	// Selling more than held is rejected and leaves the balance alone.
	_, err = l.ApplyPositionDelta(ctx, "agent-1", holderA, -60)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	pos, err := l.GetPosition(ctx, "agent-1", holderA)
	require.NoError(t, err)
	require.Equal(t, 50.0, pos.TokenBalance)

	// Selling with no row at all.
	_, err = l.ApplyPositionDelta(ctx, "agent-1", holderB, -1)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Down to exactly zero is fine.
	bal, err = l.ApplyPositionDelta(ctx, "agent-1", holderA, -50)
	require.NoError(t, err)
	require.Equal(t, 0.0, bal)
}

func TestConcurrentPositionDeltasSumExactly(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	const workers = 64
	g := new(errgroup.Group)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			_, err := l.ApplyPositionDelta(ctx, "agent-1", holderA, 1)
			return err
		})
	}
	require.NoError(t, g.Wait())

	pos, err := l.GetPosition(ctx, "agent-1", holderA)
	require.NoError(t, err)
	require.Equal(t, float64(workers), pos.TokenBalance)
}

func TestConcurrentBuysSumExactly(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	// Threshold is 10,000 and each buy raises 10, so none of the 64 buys
	// can graduate the agent; every one must commit and the aggregates
	// must equal the exact sums with no lost updates.
	const (
		workers     = 64
		shareSize   = 10.0
		promptDelta = 10.0
	)
	g := new(errgroup.Group)
	for i := 0; i < workers; i++ {
		app := tradeApp(fmt.Sprintf("buy-%d", i), promptDelta)
		g.Go(func() error {
			_, err := l.ApplyTrade(ctx, app)
			return err
		})
	}
	require.NoError(t, g.Wait())

	agent, err := l.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, workers*shareSize, agent.SharesSold)
	require.Equal(t, workers*promptDelta, agent.PromptRaised)
	require.Equal(t, domain.PhaseActive, agent.Phase)

	pos, err := l.GetPosition(ctx, "agent-1", holderA)
	require.NoError(t, err)
	require.Equal(t, workers*shareSize, pos.TokenBalance)
}

func tradeApp(idem string, promptDelta float64) domain.TradeApplication {
	return domain.TradeApplication{
		AgentID:       "agent-1",
		HolderAddress: holderA,
		Agent: domain.AgentDelta{
			SharesDelta: 10,
			PromptDelta: promptDelta,
			NewPrice:    0.011,
		},
		PositionDelta: 10,
		Accruals: []domain.FeeAccrual{
			{Address: holderA, RewardType: domain.RewardCreator, Amount: 2},
			{Address: holderB, RewardType: domain.RewardVault, Amount: 2},
			{Address: holderB, RewardType: domain.RewardTreasury, Amount: 1},
		},
		Record: domain.TradeRecord{
			ID:             "trade-" + idem,
			AgentID:        "agent-1",
			HolderAddress:  holderA,
			Side:           domain.SideBuy,
			InputAmount:    100,
			OutputAmount:   10,
			FeeAmount:      5,
			IdempotencyKey: idem,
		},
	}
}

func TestApplyTradeCommitsEverything(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	res, err := l.ApplyTrade(ctx, tradeApp("k1", 95))
	require.NoError(t, err)
	require.Equal(t, 10.0, res.SharesSold)
	require.Equal(t, 95.0, res.PromptRaised)
	require.Equal(t, 10.0, res.NewBalance)
	require.False(t, res.Graduated)

	pos, err := l.GetPosition(ctx, "agent-1", holderA)
	require.NoError(t, err)
	require.Equal(t, 10.0, pos.TokenBalance)

	creator, err := l.GetReward(ctx, "agent-1", holderA, domain.RewardCreator)
	require.NoError(t, err)
	require.Equal(t, 2.0, creator.Accrued)

	trades, err := l.ListByAgent(ctx, "agent-1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.False(t, trades[0].CreatedAt.IsZero())
}

func TestApplyTradeIdempotency(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ApplyTrade(ctx, tradeApp("same-key", 95))
	require.NoError(t, err)

	_, err = l.ApplyTrade(ctx, tradeApp("same-key", 95))
	require.ErrorIs(t, err, domain.ErrDuplicateRequest)

	// The replay applied nothing.
	agent, err := l.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, 10.0, agent.SharesSold)

	trades, err := l.ListByAgent(ctx, "agent-1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
}

func TestIdempotencyKeyUniqueAcrossAgents(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	err := l.CreateAgent(ctx, domain.AgentCurveState{
		AgentID:        "agent-2",
		CreatorAddress: holderB,
		P0:             0.01,
		P1:             0.05,
	})
	require.NoError(t, err)

	// The same key submitted concurrently against two different agents
	// must commit exactly once.
	const workers = 16
	apps := make([]domain.TradeApplication, workers)
	for i := range apps {
		app := tradeApp("shared-key", 10)
		if i%2 == 1 {
			app.AgentID = "agent-2"
			app.Record.AgentID = "agent-2"
		}
		app.Record.ID = fmt.Sprintf("trade-%d", i)
		apps[i] = app
	}

	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.ApplyTrade(ctx, apps[i])
		}(i)
	}
	wg.Wait()

	var committed int
	for _, err := range errs {
		if err == nil {
			committed++
			continue
		}
		require.ErrorIs(t, err, domain.ErrDuplicateRequest)
	}
	require.Equal(t, 1, committed)
}

func TestIdempotencyKeyReleasedOnFailedTrade(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	app := tradeApp("retry-key", 95)
	app.Agent.SharesDelta = -10
	app.Agent.PromptDelta = -95
	app.PositionDelta = -10

	_, err := l.ApplyTrade(ctx, app)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// The failed attempt must not burn the key.
	_, err = l.ApplyTrade(ctx, tradeApp("retry-key", 95))
	require.NoError(t, err)
}

func TestApplyTradeRejectedSellAppliesNothing(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	app := tradeApp("", 95)
	app.Agent.SharesDelta = -10
	app.Agent.PromptDelta = -95
	app.PositionDelta = -10

	_, err := l.ApplyTrade(ctx, app)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	agent, err := l.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, 0.0, agent.SharesSold)
	require.Equal(t, 0.0, agent.PromptRaised)
}

func TestClaimRewardPaysOnce(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.AccrueReward(ctx, "agent-1", holderA, domain.RewardCreator, 100))

	var (
		mu       sync.Mutex
		paid     float64
		payouts  int
		rejected int
	)
	g := new(errgroup.Group)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			res, err := l.ClaimReward(ctx, "agent-1", holderA, domain.RewardCreator)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rejected++
				return nil
			}
			paid += res.ClaimedAmount
			payouts++
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, 1, payouts, "concurrent claims pay at most once")
	require.Equal(t, 7, rejected)
	require.Equal(t, 100.0, paid)

	// Nothing left afterward.
	_, err := l.ClaimReward(ctx, "agent-1", holderA, domain.RewardCreator)
	require.ErrorIs(t, err, domain.ErrNothingToClaim)

	// New accruals open a fresh claimable delta.
	require.NoError(t, l.AccrueReward(ctx, "agent-1", holderA, domain.RewardCreator, 25))
	res, err := l.ClaimReward(ctx, "agent-1", holderA, domain.RewardCreator)
	require.NoError(t, err)
	require.Equal(t, 25.0, res.ClaimedAmount)
	require.Equal(t, 125.0, res.TotalReward)
}

func TestTradeLogRetention(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.ApplyTrade(ctx, tradeApp(fmt.Sprintf("r%d", i), 10))
		require.NoError(t, err)
	}

	cutoff := time.Now().Add(time.Second)

	old, err := l.ListBefore(ctx, cutoff, 3)
	require.NoError(t, err)
	require.Len(t, old, 3)
	require.True(t, old[0].CreatedAt.Before(old[2].CreatedAt) || old[0].CreatedAt.Equal(old[2].CreatedAt))

	ids := make([]string, len(old))
	for i, tr := range old {
		ids[i] = tr.ID
	}
	removed, err := l.Delete(ctx, ids)
	require.NoError(t, err)
	require.Equal(t, int64(3), removed)

	trades, err := l.ListByAgent(ctx, "agent-1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, trades, 2)
	for _, tr := range trades {
		require.NotContains(t, ids, tr.ID)
	}
}
