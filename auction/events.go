package auction

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind 是語意事件的種類
type EventKind string

const (
	EventBidPlaced       EventKind = "bid_placed"
	EventOutbid          EventKind = "outbid"
	EventEndingSoon      EventKind = "ending_soon"
	EventEnded           EventKind = "ended"
	EventWon             EventKind = "won"
	EventPaymentReminder EventKind = "payment_reminder"
)

// Event 是核心對外發出的語意事件。
// 實際的遞送方式（SSE、推播、toast）完全由協作者決定。
type Event struct {
	Kind      EventKind       `json:"kind"`
	AuctionID string          `json:"auctionId"`
	Amount    decimal.Decimal `json:"amount"`
	Bidder    string          `json:"bidder,omitempty"`
	At        time.Time       `json:"at"`
}

// Notifier 定義了核心呼叫通知協作者的介面
type Notifier interface {
	// BidPlaced 本地使用者的出價已被接受
	BidPlaced(auctionID string, amount decimal.Decimal)
	// Outbid 本地使用者的出價被更高的出價超越
	Outbid(auctionID string, newAmount decimal.Decimal)
	// AuctionWon 本地使用者贏得拍賣
	AuctionWon(auctionID string, finalPrice decimal.Decimal)
	// PaymentReminder 提醒本地使用者在期限內完成付款
	PaymentReminder(auctionID string)
}

// NopNotifier 是不做任何事的 Notifier，用於測試與未接上通知協作者的情境
type NopNotifier struct{}

func (NopNotifier) BidPlaced(string, decimal.Decimal)  {}
func (NopNotifier) Outbid(string, decimal.Decimal)     {}
func (NopNotifier) AuctionWon(string, decimal.Decimal) {}
func (NopNotifier) PaymentReminder(string)             {}

// Sender 定義了將出價送往遠端的最小介面。
// 傳輸層的失敗不會回滾本地已套用的樂觀狀態，只會以警告方式呈現。
type Sender interface {
	SendBid(ctx context.Context, bid OutboundBid) error
}

// NopSender 丟棄所有出價訊息，用於沒有後端的純本地模式
type NopSender struct{}

func (NopSender) SendBid(context.Context, OutboundBid) error { return nil }
