package auction

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Registry 持有本地所有被追蹤拍賣的權威狀態。
// 所有變更操作對單一拍賣而言都是原子的：
// 其他呼叫者不可能觀察到套用到一半的出價或倒數。
// Registry 本身不驗證出價合法性（那是 Engine 的工作），
// 但 ApplyBid 會原子性地重新確認狀態與金額，
// 讓本地樂觀出價與遠端出價的競爭自然由金額檢查裁決。
type Registry struct {
	mu       sync.RWMutex
	auctions map[string]*Auction
}

// NewRegistry 建立一個空的拍賣註冊表
func NewRegistry() *Registry {
	return &Registry{
		auctions: make(map[string]*Auction),
	}
}

// Seed 將拍賣寫入註冊表。若同一個 ID 已存在則完全不做事（冪等），
// 重複播種絕不能回退 CurrentBid 或重設 TotalBids。
func (r *Registry) Seed(params SeedParams) error {
	const op = "Registry.Seed"
	if params.AuctionID == "" {
		return fmt.Errorf("[%s] auction id cannot be empty", op)
	}
	seconds := int(params.Duration / time.Second)
	if seconds <= 0 {
		return fmt.Errorf("[%s] duration must be at least one second", op)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[params.AuctionID]; ok {
		return nil
	}
	r.auctions[params.AuctionID] = &Auction{
		ID:            params.AuctionID,
		Title:         params.Title,
		CurrentBid:    params.StartingBid,
		BidIncrement:  params.BidIncrement,
		BuyNowPrice:   params.BuyNowPrice,
		TimeRemaining: seconds,
		State:         StateActive,
	}
	return nil
}

// Get 回傳指定拍賣的快照，不產生任何副作用
func (r *Registry) Get(auctionID string) (Auction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return Auction{}, false
	}
	return snapshot(a), true
}

// ActiveIDs 回傳目前所有仍在進行中的拍賣 ID
func (r *Registry) ActiveIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.auctions))
	for id, a := range r.auctions {
		if a.State == StateActive {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len 回傳目前被追蹤的拍賣數量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.auctions)
}

// ApplyBid 是所有已驗證出價的唯一寫入點。
// 在鎖內重新確認存在性、狀態與金額，成功時：
// 新增一筆 BidHistoryItem（插在最前面）、更新 CurrentBid 與
// HighestBidderID、遞增 TotalBids，並回傳更新後的快照。
func (r *Registry) ApplyBid(auctionID, bidderID, bidderName string, amount decimal.Decimal, isSelf bool) (Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return Auction{}, ErrAuctionNotFound
	}
	if a.State == StateEnded {
		return Auction{}, ErrAuctionEnded
	}
	if !amount.GreaterThan(a.CurrentBid) {
		return Auction{}, ErrBidTooLow
	}

	item := BidHistoryItem{
		ID:         uuid.Must(uuid.NewV7()),
		BidderID:   bidderID,
		BidderName: bidderName,
		Amount:     amount,
		CreatedAt:  time.Now(),
		IsSelf:     isSelf,
	}
	a.BidHistory = append([]BidHistoryItem{item}, a.BidHistory...)
	a.CurrentBid = amount
	a.HighestBidderID = bidderID
	a.TotalBids++
	return snapshot(a), nil
}

// Tick 將進行中拍賣的剩餘時間減一秒。
// 當剩餘時間歸零時，State 會在同一個邏輯步驟內轉為 Ended，
// 並回傳 true 以通知呼叫者觸發結算（恰好一次）。
// 對已結束的拍賣呼叫 Tick 不做任何事。
func (r *Registry) Tick(auctionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[auctionID]
	if !ok || a.State != StateActive {
		return false
	}
	if a.TimeRemaining > 0 {
		a.TimeRemaining--
	}
	if a.TimeRemaining == 0 {
		a.State = StateEnded
		return true
	}
	return false
}

// Finalize 直接將拍賣轉為 Ended（直購價成交時使用）。
// 只有第一次呼叫會回傳 true，之後都是 no-op。
func (r *Registry) Finalize(auctionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[auctionID]
	if !ok || a.State != StateActive {
		return false
	}
	a.TimeRemaining = 0
	a.State = StateEnded
	return true
}

// Remove 將拍賣從註冊表釋放。已結束的拍賣不會被自動驅逐，
// 必須由最後一個觀察者明確釋放。
func (r *Registry) Remove(auctionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.auctions, auctionID)
}

// snapshot 複製拍賣狀態，避免呼叫者透過共享 slice 影響內部狀態
func snapshot(a *Auction) Auction {
	cp := *a
	cp.BidHistory = append([]BidHistoryItem(nil), a.BidHistory...)
	return cp
}
