package auction

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultGracePeriod 是付款義務的預設寬限期
const DefaultGracePeriod = 5 * time.Minute

// PaymentObligation 是贏得拍賣後產生的付款義務。
// 逾期未付的義務不會被自動取消，會一直封鎖新的出價直到付清為止。
type PaymentObligation struct {
	ID        uuid.UUID       `json:"id"`
	AuctionID string          `json:"auctionId"`
	Title     string          `json:"title"`
	Amount    decimal.Decimal `json:"amount"`
	DueAt     time.Time       `json:"dueAt"`
	Settled   bool            `json:"settled"`
}

// Overdue 回報此義務在 now 時點是否已逾期未付
func (o PaymentObligation) Overdue(now time.Time) bool {
	return !o.Settled && now.After(o.DueAt)
}

// SettlementTracker 將已結束且由本地使用者贏得的拍賣，
// 轉換為有期限的付款義務，並在義務逾期時封鎖所有新的出價。
// 每個拍賣最多只會有一筆未結清的義務。
type SettlementTracker struct {
	mu          sync.Mutex
	ledger      *Ledger
	notifier    Notifier
	grace       time.Duration
	obligations map[uuid.UUID]*PaymentObligation
	byAuction   map[string]uuid.UUID
}

type trackerOptions struct {
	grace    time.Duration
	notifier Notifier
}

type TrackerOption func(*trackerOptions)

// WithGracePeriod 設定付款寬限期
func WithGracePeriod(d time.Duration) TrackerOption {
	return func(o *trackerOptions) {
		o.grace = d
	}
}

// WithTrackerNotifier 設定通知協作者
func WithTrackerNotifier(n Notifier) TrackerOption {
	return func(o *trackerOptions) {
		o.notifier = n
	}
}

// NewSettlementTracker 建立結算追蹤器
func NewSettlementTracker(ledger *Ledger, opts ...TrackerOption) *SettlementTracker {
	options := trackerOptions{
		grace:    DefaultGracePeriod,
		notifier: NopNotifier{},
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &SettlementTracker{
		ledger:      ledger,
		notifier:    options.notifier,
		grace:       options.grace,
		obligations: make(map[uuid.UUID]*PaymentObligation),
		byAuction:   make(map[string]uuid.UUID),
	}
}

// CreateObligation 為贏得的拍賣建立付款義務，期限為 now + 寬限期。
// 同一個拍賣若已有未結清的義務，回傳既有的那一筆。
// 會發出「拍賣勝出」與「付款提醒」兩個語意事件。
func (t *SettlementTracker) CreateObligation(auctionID, title string, amount decimal.Decimal) PaymentObligation {
	t.mu.Lock()
	if id, ok := t.byAuction[auctionID]; ok {
		existing := *t.obligations[id]
		t.mu.Unlock()
		return existing
	}

	obligation := &PaymentObligation{
		ID:        uuid.Must(uuid.NewV7()),
		AuctionID: auctionID,
		Title:     title,
		Amount:    amount,
		DueAt:     time.Now().Add(t.grace),
	}
	t.obligations[obligation.ID] = obligation
	t.byAuction[auctionID] = obligation.ID
	created := *obligation
	t.mu.Unlock()

	t.notifier.AuctionWon(auctionID, amount)
	t.notifier.PaymentReminder(auctionID)
	return created
}

// Pay 結清指定的付款義務，全有或全無。
// 扣款成功時標記為已結清並從未結清集合移除；
// 餘額不足時義務維持未結清，並持續符合逾期封鎖條件。
func (t *SettlementTracker) Pay(obligationID uuid.UUID) error {
	const op = "SettlementTracker.Pay"

	t.mu.Lock()
	defer t.mu.Unlock()

	obligation, ok := t.obligations[obligationID]
	if !ok {
		return fmt.Errorf("[%s] obligation not found, id=%s", op, obligationID)
	}
	if obligation.Settled {
		return nil
	}
	if !t.ledger.Settle(obligation.Amount) {
		return ErrInsufficientFunds
	}
	obligation.Settled = true
	delete(t.byAuction, obligation.AuctionID)
	return nil
}

// HasBlockingObligation 回報是否有任何逾期未付的義務。
// Engine 在每次出價驗證的第一步都會查詢這裡。
func (t *SettlementTracker) HasBlockingObligation() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for _, obligation := range t.obligations {
		if obligation.Overdue(now) {
			return true
		}
	}
	return false
}

// Outstanding 回傳所有未結清義務的快照
func (t *SettlementTracker) Outstanding() []PaymentObligation {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]PaymentObligation, 0, len(t.byAuction))
	for _, id := range t.byAuction {
		out = append(out, *t.obligations[id])
	}
	return out
}
