package auction

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Engine 是出價的驗證與執行引擎。
// 本地出價與遠端出價是進到同一個序列化變更路徑的兩個入口，
// 金額檢查就是天然的衝突裁決者，不需要額外的合併演算法。
type Engine struct {
	registry *Registry
	ledger   *Ledger
	tracker  *SettlementTracker
	sender   Sender
	notifier Notifier
	self     Bidder
	logger   *slog.Logger
}

type engineOptions struct {
	sender   Sender
	notifier Notifier
	logger   *slog.Logger
}

type EngineOption func(*engineOptions)

// WithEngineSender 設定出價的傳輸層
func WithEngineSender(s Sender) EngineOption {
	return func(o *engineOptions) {
		o.sender = s
	}
}

// WithEngineNotifier 設定通知協作者
func WithEngineNotifier(n Notifier) EngineOption {
	return func(o *engineOptions) {
		o.notifier = n
	}
}

// WithEngineLogger 設定日誌記錄器
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// NewEngine 建立出價引擎。self 是本地使用者的身分，
// 餘額與逾期檢查只套用在這個身分上。
func NewEngine(registry *Registry, ledger *Ledger, tracker *SettlementTracker, self Bidder, opts ...EngineOption) *Engine {
	options := engineOptions{
		sender:   NopSender{},
		notifier: NopNotifier{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Engine{
		registry: registry,
		ledger:   ledger,
		tracker:  tracker,
		sender:   options.sender,
		notifier: options.notifier,
		self:     self,
		logger:   options.logger.With(slog.String("caller", "Engine")),
	}
}

// PlaceBid 處理本地使用者的出價請求。
// 驗證依固定順序執行，第一個失敗的檢查決定拒絕原因：
//  1. 逾期義務檢查（ErrOverdueBalance，全域凍結）
//  2. 拍賣存在性與狀態檢查（ErrAuctionNotFound / ErrAuctionEnded）
//  3. 金額檢查：必須嚴格大於目前最高價（ErrBidTooLow）
//  4. 資金檢查：暫扣總額加上新增需求不得超過可用餘額（ErrInsufficientFunds）
//
// 任何一個檢查失敗都不會留下部分變更。
// 資金檢查與暫扣設定由帳本在單一臨界區內完成，
// 並發的出價不可能同時通過檢查而超扣錢包。
// 成功時先更新暫扣與註冊表（樂觀更新），再發送傳輸層訊息與通知；
// 傳輸層失敗只記警告，不回滾本地狀態。
func (e *Engine) PlaceBid(ctx context.Context, auctionID string, amount decimal.Decimal) (Auction, error) {
	if e.tracker.HasBlockingObligation() {
		return Auction{}, ErrOverdueBalance
	}

	current, ok := e.registry.Get(auctionID)
	if !ok {
		return Auction{}, ErrAuctionNotFound
	}
	if current.Ended() {
		return Auction{}, ErrAuctionEnded
	}
	if !amount.GreaterThan(current.CurrentBid) {
		return Auction{}, ErrBidTooLow
	}

	prior, hadPrior := e.ledger.Reservation(auctionID)
	if !e.ledger.TryReserve(auctionID, amount) {
		return Auction{}, ErrInsufficientFunds
	}
	updated, err := e.registry.ApplyBid(auctionID, e.self.ID, e.self.Name, amount, true)
	if err != nil {
		// 與近乎同時抵達的遠端出價輸掉競爭，還原暫扣
		if hadPrior {
			e.ledger.Reserve(auctionID, prior)
		} else {
			e.ledger.Release(auctionID)
		}
		return Auction{}, err
	}

	if err := e.sender.SendBid(ctx, OutboundBid{
		AuctionID:  auctionID,
		BidderID:   e.self.ID,
		BidderName: e.self.Name,
		Amount:     amount,
		PlacedAt:   updated.BidHistory[0].CreatedAt,
	}); err != nil {
		e.logger.Warn("fail to send bid over transport",
			slog.String("auctionID", auctionID),
			slog.Any("error", err))
	}
	e.notifier.BidPlaced(auctionID, amount)
	e.logger.Info("bid accepted",
		slog.String("auctionID", auctionID),
		slog.String("amount", amount.String()))

	if updated.ReachedBuyNow(amount) && e.registry.Finalize(auctionID) {
		e.Complete(auctionID)
		updated, _ = e.registry.Get(auctionID)
	}
	return updated, nil
}

// ApplyRemoteBid 套用來自傳輸層（或合成出價產生器）的遠端出價。
// 遠端出價不經過本地的資金與逾期檢查，但仍受狀態與金額檢查約束；
// 過期的遠端出價（金額不再領先）會被安靜地拒絕。
// 若本地使用者因此被超越，立即釋放該拍賣的暫扣並發出「被超越」通知。
func (e *Engine) ApplyRemoteBid(auctionID, bidderID, bidderName string, amount decimal.Decimal) (Auction, error) {
	previous, ok := e.registry.Get(auctionID)
	if !ok {
		return Auction{}, ErrAuctionNotFound
	}
	wasLeading := previous.HighestBidderID == e.self.ID && bidderID != e.self.ID

	updated, err := e.registry.ApplyBid(auctionID, bidderID, bidderName, amount, bidderID == e.self.ID)
	if err != nil {
		return Auction{}, err
	}

	if wasLeading {
		e.ledger.Release(auctionID)
		e.notifier.Outbid(auctionID, amount)
		e.logger.Info("outbid by remote bidder",
			slog.String("auctionID", auctionID),
			slog.String("bidder", bidderID),
			slog.String("amount", amount.String()))
	}

	if updated.ReachedBuyNow(amount) && e.registry.Finalize(auctionID) {
		e.Complete(auctionID)
		updated, _ = e.registry.Get(auctionID)
	}
	return updated, nil
}

// Complete 處理拍賣結束後的結算交接。
// 本地使用者勝出時，釋放暫扣並轉為付款義務；
// 落敗或無人出價時只釋放殘留的暫扣。每個拍賣只會交接一次，
// 由 Registry 的單次狀態轉移保證。
func (e *Engine) Complete(auctionID string) {
	a, ok := e.registry.Get(auctionID)
	if !ok {
		return
	}

	e.ledger.Release(auctionID)
	if a.TotalBids > 0 && a.HighestBidderID == e.self.ID {
		obligation := e.tracker.CreateObligation(a.ID, a.Title, a.CurrentBid)
		e.logger.Info("auction won, payment obligation created",
			slog.String("auctionID", a.ID),
			slog.String("amount", a.CurrentBid.String()),
			slog.Time("dueAt", obligation.DueAt))
		return
	}
	e.logger.Info("auction ended",
		slog.String("auctionID", a.ID),
		slog.String("winner", a.HighestBidderID),
		slog.String("finalBid", a.CurrentBid.String()))
}

// Self 回傳本地使用者身分
func (e *Engine) Self() Bidder {
	return e.self
}
