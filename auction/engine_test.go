package auction_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livebid/auction"
)

var self = auction.Bidder{ID: "local-user", Name: "You"}

// recordNotifier 記錄收到的語意事件供斷言使用
type recordNotifier struct {
	mu        sync.Mutex
	placed    []decimal.Decimal
	outbid    []decimal.Decimal
	won       []decimal.Decimal
	reminders []string
}

func (n *recordNotifier) BidPlaced(_ string, amount decimal.Decimal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.placed = append(n.placed, amount)
}

func (n *recordNotifier) Outbid(_ string, amount decimal.Decimal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outbid = append(n.outbid, amount)
}

func (n *recordNotifier) AuctionWon(_ string, amount decimal.Decimal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.won = append(n.won, amount)
}

func (n *recordNotifier) PaymentReminder(auctionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reminders = append(n.reminders, auctionID)
}

// recordSender 記錄送出的出價，可設定為回傳錯誤
type recordSender struct {
	mu   sync.Mutex
	sent []auction.OutboundBid
	err  error
}

func (s *recordSender) SendBid(_ context.Context, bid auction.OutboundBid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, bid)
	return nil
}

type engineFixture struct {
	registry *auction.Registry
	ledger   *auction.Ledger
	tracker  *auction.SettlementTracker
	engine   *auction.Engine
	notifier *recordNotifier
	sender   *recordSender
}

func newEngineFixture(t *testing.T, balance int64, trackerOpts ...auction.TrackerOption) *engineFixture {
	t.Helper()
	f := &engineFixture{
		registry: auction.NewRegistry(),
		ledger:   auction.NewLedger(decimal.NewFromInt(balance)),
		notifier: &recordNotifier{},
		sender:   &recordSender{},
	}
	opts := append([]auction.TrackerOption{auction.WithTrackerNotifier(f.notifier)}, trackerOpts...)
	f.tracker = auction.NewSettlementTracker(f.ledger, opts...)
	f.engine = auction.NewEngine(
		f.registry, f.ledger, f.tracker, self,
		auction.WithEngineSender(f.sender),
		auction.WithEngineNotifier(f.notifier),
	)
	require.NoError(t, f.registry.Seed(seedParams("item-1")))
	return f
}

func TestPlaceBidValidationOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("逾期義務優先於其他所有檢查", func(t *testing.T) {
		f := newEngineFixture(t, 1000, auction.WithGracePeriod(-time.Minute))
		f.tracker.CreateObligation("old-item", "Old Item", decimal.NewFromInt(50))

		// 連拍賣存在性都不看，直接拒絕
		_, err := f.engine.PlaceBid(ctx, "nonexistent", decimal.NewFromInt(200))
		assert.ErrorIs(t, err, auction.ErrOverdueBalance)
	})

	t.Run("不存在的拍賣", func(t *testing.T) {
		f := newEngineFixture(t, 1000)
		_, err := f.engine.PlaceBid(ctx, "nonexistent", decimal.NewFromInt(200))
		assert.ErrorIs(t, err, auction.ErrAuctionNotFound)
	})

	t.Run("已結束的拍賣", func(t *testing.T) {
		f := newEngineFixture(t, 1000)
		f.registry.Finalize("item-1")
		_, err := f.engine.PlaceBid(ctx, "item-1", decimal.NewFromInt(200))
		assert.ErrorIs(t, err, auction.ErrAuctionEnded)
	})

	t.Run("金額必須嚴格大於目前最高價", func(t *testing.T) {
		f := newEngineFixture(t, 1000)
		_, err := f.engine.PlaceBid(ctx, "item-1", decimal.NewFromInt(100))
		assert.ErrorIs(t, err, auction.ErrBidTooLow)
	})

	t.Run("資金檢查在金額檢查之後", func(t *testing.T) {
		f := newEngineFixture(t, 1000)
		// 1001超過餘額，但101不超過
		_, err := f.engine.PlaceBid(ctx, "item-1", decimal.NewFromInt(1001))
		assert.ErrorIs(t, err, auction.ErrInsufficientFunds)
		_, err = f.engine.PlaceBid(ctx, "item-1", decimal.NewFromInt(101))
		assert.NoError(t, err)
	})
}

func TestPlaceBidFundsBoundary(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, 1000)

	// 剛好等於餘額的出價可行
	updated, err := f.engine.PlaceBid(ctx, "item-1", decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.Equal(t, self.ID, updated.HighestBidderID)
	reserved, ok := f.ledger.Reservation("item-1")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(1000).Equal(reserved))
}

func TestPlaceBidConcurrentFundsGate(t *testing.T) {
	ctx := context.Background()

	// 不同拍賣上同時出價，通過資金檢查的暫扣總和不能超過餘額
	for i := 0; i < 100; i++ {
		f := newEngineFixture(t, 1000)
		ids := []string{"c-1", "c-2", "c-3", "c-4"}
		for _, id := range ids {
			require.NoError(t, f.registry.Seed(seedParams(id)))
		}

		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, _ = f.engine.PlaceBid(ctx, id, decimal.NewFromInt(400))
			}(id)
		}
		wg.Wait()

		assert.True(t, f.ledger.BlockedAmount().LessThanOrEqual(decimal.NewFromInt(1000)))
	}
}

func TestPlaceBidRaiseOwnBid(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, 1000)

	_, err := f.engine.PlaceBid(ctx, "item-1", decimal.NewFromInt(600))
	require.NoError(t, err)

	// 自己領先時加價只需補差額，600到1000只多需要400
	_, err = f.engine.PlaceBid(ctx, "item-1", decimal.NewFromInt(1000))
	require.NoError(t, err)
	reserved, _ := f.ledger.Reservation("item-1")
	assert.True(t, decimal.NewFromInt(1000).Equal(reserved))
	assert.True(t, decimal.NewFromInt(1000).Equal(f.ledger.BlockedAmount()))
}

func TestPlaceBidSendsOverTransport(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, 1000)

	_, err := f.engine.PlaceBid(ctx, "item-1", decimal.NewFromInt(150))
	require.NoError(t, err)
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "item-1", f.sender.sent[0].AuctionID)
	assert.Equal(t, self.ID, f.sender.sent[0].BidderID)
	assert.Len(t, f.notifier.placed, 1)
}

func TestPlaceBidTransportFailureKeepsLocalState(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, 1000)
	f.sender.err = errors.New("connection reset")

	// 傳輸層失敗不回滾樂觀更新
	updated, err := f.engine.PlaceBid(ctx, "item-1", decimal.NewFromInt(150))
	require.NoError(t, err)
	assert.Equal(t, self.ID, updated.HighestBidderID)
	_, ok := f.ledger.Reservation("item-1")
	assert.True(t, ok)
}

func TestApplyRemoteBidOutbidsLocalUser(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, 1000)

	_, err := f.engine.PlaceBid(ctx, "item-1", decimal.NewFromInt(600))
	require.NoError(t, err)

	// 被遠端超越時立即釋放暫扣並通知
	_, err = f.engine.ApplyRemoteBid("item-1", "rival", "Rival", decimal.NewFromInt(700))
	require.NoError(t, err)
	_, ok := f.ledger.Reservation("item-1")
	assert.False(t, ok)
	require.Len(t, f.notifier.outbid, 1)
	assert.True(t, decimal.NewFromInt(700).Equal(f.notifier.outbid[0]))

	// 釋放後資金可立即用於其他拍賣
	assert.True(t, f.ledger.CanAfford(decimal.NewFromInt(1000)))
}

func TestApplyRemoteBidStaleRejected(t *testing.T) {
	f := newEngineFixture(t, 1000)

	_, err := f.engine.ApplyRemoteBid("item-1", "r1", "R1", decimal.NewFromInt(300))
	require.NoError(t, err)

	// 過期的遠端出價被拒絕且不影響狀態
	_, err = f.engine.ApplyRemoteBid("item-1", "r2", "R2", decimal.NewFromInt(250))
	assert.ErrorIs(t, err, auction.ErrBidTooLow)
	a, _ := f.registry.Get("item-1")
	assert.Equal(t, "r1", a.HighestBidderID)
	assert.Empty(t, f.notifier.outbid)
}

func TestCompleteLocalWin(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, 1000)

	_, err := f.engine.PlaceBid(ctx, "item-1", decimal.NewFromInt(400))
	require.NoError(t, err)
	require.True(t, f.registry.Finalize("item-1"))
	f.engine.Complete("item-1")

	// 暫扣轉為付款義務
	_, ok := f.ledger.Reservation("item-1")
	assert.False(t, ok)
	obligations := f.tracker.Outstanding()
	require.Len(t, obligations, 1)
	assert.True(t, decimal.NewFromInt(400).Equal(obligations[0].Amount))
	assert.Len(t, f.notifier.won, 1)
	assert.Len(t, f.notifier.reminders, 1)

	// 結算不動可用餘額，付款才會
	assert.True(t, decimal.NewFromInt(1000).Equal(f.ledger.AvailableBalance()))
}

func TestCompleteNoObligationWhenNotWinner(t *testing.T) {
	f := newEngineFixture(t, 1000)

	// 無人出價
	require.True(t, f.registry.Finalize("item-1"))
	f.engine.Complete("item-1")
	assert.Empty(t, f.tracker.Outstanding())

	// 遠端勝出
	require.NoError(t, f.registry.Seed(seedParams("item-2")))
	_, err := f.engine.ApplyRemoteBid("item-2", "rival", "Rival", decimal.NewFromInt(300))
	require.NoError(t, err)
	require.True(t, f.registry.Finalize("item-2"))
	f.engine.Complete("item-2")
	assert.Empty(t, f.tracker.Outstanding())
}

func TestPlaceBidBuyNow(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, 1000)

	params := seedParams("item-bn")
	params.BuyNowPrice = lo.ToPtr(decimal.NewFromInt(500))
	require.NoError(t, f.registry.Seed(params))

	// 達到直購價的出價立即結束拍賣並結算
	updated, err := f.engine.PlaceBid(ctx, "item-bn", decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.True(t, updated.Ended())
	require.Len(t, f.tracker.Outstanding(), 1)
}
