package api

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"livebid/adapters/sse"
	"livebid/auction"
	"livebid/monitoring"
)

// eventNotifier 把核心的語意事件轉成 SSE 頻道上的拍賣事件，
// 並順手更新對應的指標。遞送本身是盡力而為：
// 核心狀態在呼叫前已經一致，這裡的失敗只記日誌。
type eventNotifier struct {
	manager sse.IConnectionManager[auction.Event]
	logger  *slog.Logger
}

func newEventNotifier(manager sse.IConnectionManager[auction.Event], logger *slog.Logger) *eventNotifier {
	return &eventNotifier{
		manager: manager,
		logger:  logger.With(slog.String("caller", "EventNotifier")),
	}
}

func (n *eventNotifier) publish(kind auction.EventKind, auctionID string, amount decimal.Decimal) {
	err := n.manager.Publish(auctionID, auction.Event{
		Kind:      kind,
		AuctionID: auctionID,
		Amount:    amount,
		At:        time.Now(),
	})
	if err != nil {
		n.logger.Warn("fail to publish event",
			slog.String("kind", string(kind)),
			slog.String("auctionID", auctionID),
			slog.Any("error", err))
	}
}

func (n *eventNotifier) BidPlaced(auctionID string, amount decimal.Decimal) {
	monitoring.ObserveBidAccepted(monitoring.SourceLocal)
	n.publish(auction.EventBidPlaced, auctionID, amount)
}

func (n *eventNotifier) Outbid(auctionID string, newAmount decimal.Decimal) {
	n.publish(auction.EventOutbid, auctionID, newAmount)
}

func (n *eventNotifier) AuctionWon(auctionID string, finalPrice decimal.Decimal) {
	n.publish(auction.EventWon, auctionID, finalPrice)
}

func (n *eventNotifier) PaymentReminder(auctionID string) {
	n.publish(auction.EventPaymentReminder, auctionID, decimal.Zero)
}
