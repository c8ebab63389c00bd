package auction

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State 代表拍賣的生命週期狀態
type State string

const (
	// StateActive 表示拍賣進行中，倒數計時尚未歸零
	StateActive State = "active"
	// StateEnded 表示拍賣已結束，為終態，不可逆轉
	StateEnded State = "ended"
)

// 出價被拒絕的原因。這些都是預期中的業務結果，
// 會同步回傳給呼叫者，不會被當成系統性錯誤拋出。
var (
	ErrOverdueBalance    = errors.New("an unsettled payment obligation is overdue")
	ErrAuctionNotFound   = errors.New("auction not found")
	ErrAuctionEnded      = errors.New("auction already ended")
	ErrBidTooLow         = errors.New("bid must exceed the current bid")
	ErrInsufficientFunds = errors.New("insufficient available balance")
)

// BidHistoryItem 代表一筆已被接受的出價紀錄，建立後不可變更
type BidHistoryItem struct {
	ID         uuid.UUID       `json:"id"`
	BidderID   string          `json:"bidderId"`
	BidderName string          `json:"bidderName"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"createdAt"`
	IsSelf     bool            `json:"isSelf"`
}

// Auction 代表單一商品的拍賣狀態。
// CurrentBid 只增不減；State 只會從 Active 單向轉移到 Ended 一次。
type Auction struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	CurrentBid      decimal.Decimal  `json:"currentBid"`
	BidIncrement    decimal.Decimal  `json:"bidIncrement"`
	BuyNowPrice     *decimal.Decimal `json:"buyNowPrice,omitempty"`
	HighestBidderID string           `json:"highestBidderId"`
	TotalBids       int              `json:"totalBids"`
	TimeRemaining   int              `json:"timeRemainingSeconds"`
	State           State            `json:"state"`

	// BidHistory 依套用順序排序，最新的在最前面
	BidHistory []BidHistoryItem `json:"bidHistory"`
}

// Ended 回報拍賣是否已進入終態
func (a Auction) Ended() bool {
	return a.State == StateEnded
}

// ReachedBuyNow 回報出價金額是否已達直購價
func (a Auction) ReachedBuyNow(amount decimal.Decimal) bool {
	return a.BuyNowPrice != nil && amount.GreaterThanOrEqual(*a.BuyNowPrice)
}

// SeedParams 是從商品資料建立拍賣時的初始參數，
// 通常由商品的標籤編碼資訊（起標價、直購價、拍賣時長）解析而來。
type SeedParams struct {
	AuctionID    string
	Title        string
	StartingBid  decimal.Decimal
	BidIncrement decimal.Decimal
	BuyNowPrice  *decimal.Decimal
	Duration     time.Duration
}

// Bidder 標識一位出價者
type Bidder struct {
	ID   string
	Name string
}

// OutboundBid 是要透過傳輸層送出的出價訊息
type OutboundBid struct {
	AuctionID  string          `json:"auctionId"`
	BidderID   string          `json:"bidderId"`
	BidderName string          `json:"bidderName"`
	Amount     decimal.Decimal `json:"amount"`
	PlacedAt   time.Time       `json:"placedAt"`
}
