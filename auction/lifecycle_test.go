package auction_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"livebid/auction"
)

func newDriverFixture(t *testing.T, opts ...auction.DriverOption) (*engineFixture, *auction.Driver) {
	t.Helper()
	f := newEngineFixture(t, 1000)
	driver, err := auction.NewDriver(f.registry, f.engine, opts...)
	require.NoError(t, err)
	return f, driver
}

func TestDriverCountdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	f, driver := newDriverFixture(t, auction.WithTickInterval(5*time.Millisecond))
	params := seedParams("item-tick")
	params.Duration = 3 * time.Second
	require.NoError(t, f.registry.Seed(params))

	driver.Start()
	defer driver.Close()

	// 每個節拍扣一秒，歸零時轉為結束
	assert.Eventually(t, func() bool {
		a, ok := f.registry.Get("item-tick")
		return ok && a.Ended()
	}, time.Second, 5*time.Millisecond)

	// 無人出價的結束不產生付款義務
	assert.Empty(t, f.tracker.Outstanding())
}

func TestDriverCompletesLocalWinOnExpiry(t *testing.T) {
	defer goleak.VerifyNone(t)

	f, driver := newDriverFixture(t, auction.WithTickInterval(5*time.Millisecond))
	params := seedParams("item-win")
	params.Duration = 2 * time.Second
	require.NoError(t, f.registry.Seed(params))

	_, err := f.engine.PlaceBid(context.Background(), "item-win", decimal.NewFromInt(200))
	require.NoError(t, err)

	driver.Start()
	defer driver.Close()

	// 倒數歸零後本地勝出轉為付款義務
	assert.Eventually(t, func() bool {
		return len(f.tracker.Outstanding()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDriverSyntheticBids(t *testing.T) {
	defer goleak.VerifyNone(t)

	f, driver := newDriverFixture(t,
		auction.WithTickInterval(time.Hour),
		auction.WithSyntheticBids(true),
		auction.WithSyntheticInterval(5*time.Millisecond),
		auction.WithSyntheticChance(0.5),
		auction.WithRandFloat(func() float64 { return 0 }),
	)

	driver.Start()
	defer driver.Close()

	// 合成出價以增額推進目前最高價
	assert.Eventually(t, func() bool {
		a, ok := f.registry.Get("item-1")
		return ok && a.TotalBids > 0 && a.HighestBidderID == auction.SyntheticBidder.ID
	}, time.Second, 5*time.Millisecond)
}

func TestDriverSyntheticBidsDisabledByChance(t *testing.T) {
	defer goleak.VerifyNone(t)

	f, driver := newDriverFixture(t,
		auction.WithTickInterval(time.Hour),
		auction.WithSyntheticBids(true),
		auction.WithSyntheticInterval(time.Millisecond),
		auction.WithSyntheticChance(0.5),
		auction.WithRandFloat(func() float64 { return 1 }),
	)

	driver.Start()
	time.Sleep(50 * time.Millisecond)
	driver.Close()

	a, _ := f.registry.Get("item-1")
	assert.Equal(t, 0, a.TotalBids)
}

func TestDriverCloseIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	_, driver := newDriverFixture(t, auction.WithTickInterval(time.Millisecond))
	driver.Start()
	driver.Close()
	driver.Close()
}

func TestDriverConcurrentStartClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	_, driver := newDriverFixture(t, auction.WithTickInterval(time.Millisecond))

	// 同時呼叫Start只會真正啟動一次，之後同時呼叫Close也只關閉一次
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			driver.Start()
		}()
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			driver.Close()
		}()
	}
	wg.Wait()
}
