package auction_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livebid/auction"
)

func seedParams(id string) auction.SeedParams {
	return auction.SeedParams{
		AuctionID:    id,
		Title:        "Vintage Camera",
		StartingBid:  decimal.NewFromInt(100),
		BidIncrement: decimal.NewFromInt(10),
		Duration:     30 * time.Second,
	}
}

func TestRegistrySeed(t *testing.T) {
	r := auction.NewRegistry()

	// 正常播種
	require.NoError(t, r.Seed(seedParams("item-1")))
	a, ok := r.Get("item-1")
	require.True(t, ok)
	assert.Equal(t, auction.StateActive, a.State)
	assert.Equal(t, 30, a.TimeRemaining)
	assert.True(t, decimal.NewFromInt(100).Equal(a.CurrentBid))

	// 空ID與過短的時長應被拒絕
	assert.Error(t, r.Seed(auction.SeedParams{}))
	invalid := seedParams("item-2")
	invalid.Duration = 500 * time.Millisecond
	assert.Error(t, r.Seed(invalid))
}

func TestRegistrySeedIdempotent(t *testing.T) {
	r := auction.NewRegistry()
	require.NoError(t, r.Seed(seedParams("item-1")))

	// 先出一筆價
	_, err := r.ApplyBid("item-1", "u1", "Alice", decimal.NewFromInt(150), false)
	require.NoError(t, err)

	// 重複播種不能回退出價狀態
	require.NoError(t, r.Seed(seedParams("item-1")))
	a, ok := r.Get("item-1")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(150).Equal(a.CurrentBid))
	assert.Equal(t, 1, a.TotalBids)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryApplyBid(t *testing.T) {
	r := auction.NewRegistry()
	require.NoError(t, r.Seed(seedParams("item-1")))

	// 不存在的拍賣
	_, err := r.ApplyBid("nope", "u1", "Alice", decimal.NewFromInt(150), false)
	assert.ErrorIs(t, err, auction.ErrAuctionNotFound)

	// 等於目前最高價的出價應被拒絕
	_, err = r.ApplyBid("item-1", "u1", "Alice", decimal.NewFromInt(100), false)
	assert.ErrorIs(t, err, auction.ErrBidTooLow)

	// 合法出價
	a, err := r.ApplyBid("item-1", "u1", "Alice", decimal.NewFromInt(150), true)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(150).Equal(a.CurrentBid))
	assert.Equal(t, "u1", a.HighestBidderID)
	assert.Equal(t, 1, a.TotalBids)
	require.Len(t, a.BidHistory, 1)
	assert.True(t, a.BidHistory[0].IsSelf)

	// 歷史紀錄最新的在最前面
	a, err = r.ApplyBid("item-1", "u2", "Bob", decimal.NewFromInt(160), false)
	require.NoError(t, err)
	require.Len(t, a.BidHistory, 2)
	assert.Equal(t, "u2", a.BidHistory[0].BidderID)
	assert.Equal(t, "u1", a.BidHistory[1].BidderID)

	// 結束後的出價應被拒絕
	require.True(t, r.Finalize("item-1"))
	_, err = r.ApplyBid("item-1", "u3", "Carol", decimal.NewFromInt(200), false)
	assert.ErrorIs(t, err, auction.ErrAuctionEnded)
}

func TestRegistryTick(t *testing.T) {
	r := auction.NewRegistry()
	params := seedParams("item-1")
	params.Duration = 2 * time.Second
	require.NoError(t, r.Seed(params))

	// 第一次tick還沒歸零
	assert.False(t, r.Tick("item-1"))
	a, _ := r.Get("item-1")
	assert.Equal(t, 1, a.TimeRemaining)
	assert.Equal(t, auction.StateActive, a.State)

	// 歸零時回報轉移，且只回報一次
	assert.True(t, r.Tick("item-1"))
	a, _ = r.Get("item-1")
	assert.Equal(t, auction.StateEnded, a.State)
	assert.False(t, r.Tick("item-1"))

	// 不存在的拍賣
	assert.False(t, r.Tick("nope"))
}

func TestRegistryFinalizeOnce(t *testing.T) {
	r := auction.NewRegistry()
	require.NoError(t, r.Seed(seedParams("item-1")))

	assert.True(t, r.Finalize("item-1"))
	assert.False(t, r.Finalize("item-1"))
	a, _ := r.Get("item-1")
	assert.Equal(t, 0, a.TimeRemaining)
	assert.True(t, a.Ended())
}

func TestRegistryRemove(t *testing.T) {
	r := auction.NewRegistry()
	require.NoError(t, r.Seed(seedParams("item-1")))
	require.True(t, r.Finalize("item-1"))

	// 結束的拍賣不會被自動驅逐
	_, ok := r.Get("item-1")
	assert.True(t, ok)

	r.Remove("item-1")
	_, ok = r.Get("item-1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	r := auction.NewRegistry()
	require.NoError(t, r.Seed(seedParams("item-1")))
	_, err := r.ApplyBid("item-1", "u1", "Alice", decimal.NewFromInt(150), false)
	require.NoError(t, err)

	// 竄改快照不能影響內部狀態
	a, _ := r.Get("item-1")
	a.BidHistory[0].BidderID = "hacked"
	fresh, _ := r.Get("item-1")
	assert.Equal(t, "u1", fresh.BidHistory[0].BidderID)
}

func TestRegistryActiveIDs(t *testing.T) {
	r := auction.NewRegistry()
	require.NoError(t, r.Seed(seedParams("item-1")))
	require.NoError(t, r.Seed(seedParams("item-2")))
	require.True(t, r.Finalize("item-2"))

	ids := r.ActiveIDs()
	assert.Equal(t, []string{"item-1"}, ids)
}
