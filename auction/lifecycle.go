package auction

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// SyntheticBidder 是沒有後端時用來產生模擬遠端出價的身分。
// 合成出價走的是與真實遠端出價完全相同的套用路徑，
// 對系統其餘部分而言兩者無法區分。
var SyntheticBidder = Bidder{ID: "synthetic-bidder", Name: "Live Bidder"}

// Driver 以固定節奏推進每個進行中拍賣的倒數計時，
// 並在歸零時驅動結束轉移與結算交接。
// 合成出價產生器是獨立的週期性任務，可單獨停用，
// 不影響倒數計時的核心邏輯。
type Driver struct {
	registry *Registry
	engine   *Engine

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	options    driverOptions
}

type driverOptions struct {
	logger            *slog.Logger
	tickInterval      time.Duration
	synthetic         bool
	syntheticInterval time.Duration
	syntheticChance   float64
	randFloat         func() float64
}

type DriverOption func(*driverOptions)

// WithDriverLogger 設定日誌記錄器
func WithDriverLogger(logger *slog.Logger) DriverOption {
	return func(o *driverOptions) {
		o.logger = logger
	}
}

// WithTickInterval 設定倒數節奏（預設一秒）
func WithTickInterval(d time.Duration) DriverOption {
	return func(o *driverOptions) {
		o.tickInterval = d
	}
}

// WithSyntheticBids 啟用或停用合成出價產生器
func WithSyntheticBids(enabled bool) DriverOption {
	return func(o *driverOptions) {
		o.synthetic = enabled
	}
}

// WithSyntheticInterval 設定合成出價的產生節奏（預設五秒）
func WithSyntheticInterval(d time.Duration) DriverOption {
	return func(o *driverOptions) {
		o.syntheticInterval = d
	}
}

// WithSyntheticChance 設定每個節拍對每個拍賣產生合成出價的機率
func WithSyntheticChance(p float64) DriverOption {
	return func(o *driverOptions) {
		o.syntheticChance = p
	}
}

// WithRandFloat 設定亂數來源，測試時用來讓合成出價可預期
func WithRandFloat(fn func() float64) DriverOption {
	return func(o *driverOptions) {
		o.randFloat = fn
	}
}

// NewDriver 建立生命週期驅動器
func NewDriver(registry *Registry, engine *Engine, opts ...DriverOption) (*Driver, error) {
	const op = "NewDriver"
	if registry == nil || engine == nil {
		return nil, fmt.Errorf("[%s] registry and engine cannot be nil", op)
	}

	options := driverOptions{
		logger:            slog.Default(),
		tickInterval:      time.Second,
		synthetic:         false,
		syntheticInterval: 5 * time.Second,
		syntheticChance:   0.35,
		randFloat:         rand.Float64,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Driver{
		registry: registry,
		engine:   engine,
		closed:   true,
		logger:   options.logger.With(slog.String("caller", "Driver")),
		options:  options,
	}, nil
}

// Start 啟動倒數計時迴圈，以及（若啟用）合成出價產生器
func (d *Driver) Start() {
	d.mu.Lock()
	if !d.closed {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancelFunc = cancel
	d.closed = false
	d.mu.Unlock()

	d.logger.Info("starting lifecycle driver")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.logger.Info("countdown loop stopped")

		ticker := time.NewTicker(d.options.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, id := range d.registry.ActiveIDs() {
					if d.registry.Tick(id) {
						d.engine.Complete(id)
					}
				}
			}
		}
	}()

	if d.options.synthetic {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.logger.Info("synthetic bid generator stopped")

			ticker := time.NewTicker(d.options.syntheticInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					d.generateSyntheticBids()
				}
			}
		}()
	}
}

// generateSyntheticBids 對每個進行中的拍賣以有界機率產生一筆
// 加一個增額的模擬遠端出價
func (d *Driver) generateSyntheticBids() {
	for _, id := range d.registry.ActiveIDs() {
		if d.options.randFloat() >= d.options.syntheticChance {
			continue
		}
		a, ok := d.registry.Get(id)
		if !ok || a.Ended() {
			continue
		}
		amount := a.CurrentBid.Add(a.BidIncrement)
		if _, err := d.engine.ApplyRemoteBid(id, SyntheticBidder.ID, SyntheticBidder.Name, amount); err != nil {
			d.logger.Debug("synthetic bid rejected",
				slog.String("auctionID", id),
				slog.Any("error", err))
			continue
		}
		d.logger.Debug("synthetic bid applied",
			slog.String("auctionID", id),
			slog.String("amount", amount.String()))
	}
}

// Close 停止所有週期性任務並等待它們結束
func (d *Driver) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.logger.Info("closing lifecycle driver")
	d.cancelFunc()
	d.wg.Wait()
	d.logger.Info("lifecycle driver closed")
}
