package auction

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Ledger 是本地使用者錢包的唯一權威，
// 追蹤可用餘額以及被進行中領先出價暫扣（blocked）的金額。
// 每個拍賣最多只會有一筆暫扣；BlockedAmount 是所有暫扣的總和。
// 新出價的資金檢查必須走 TryReserve，檢查與設定在同一個臨界區內完成；
// Reserve 不做驗證，僅供還原已知合法的暫扣（回滾與會話還原）使用。
type Ledger struct {
	mu           sync.Mutex
	available    decimal.Decimal
	reservations map[string]decimal.Decimal
}

// NewLedger 以初始可用餘額建立錢包
func NewLedger(available decimal.Decimal) *Ledger {
	return &Ledger{
		available:    available,
		reservations: make(map[string]decimal.Decimal),
	}
}

// AvailableBalance 回傳可用餘額（不含暫扣）
func (l *Ledger) AvailableBalance() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available
}

// BlockedAmount 回傳目前所有暫扣金額的總和
func (l *Ledger) BlockedAmount() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blockedLocked()
}

func (l *Ledger) blockedLocked() decimal.Decimal {
	sum := decimal.Zero
	for _, amount := range l.reservations {
		sum = sum.Add(amount)
	}
	return sum
}

// Reserve 直接設定（或取代）指定拍賣的暫扣金額，不做資金檢查
func (l *Ledger) Reserve(auctionID string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reservations[auctionID] = amount
}

// TryReserve 在同一個臨界區內完成資金檢查與暫扣設定：
// 以 amount 取代該拍賣既有的暫扣之後，暫扣總額仍在可用餘額內才生效。
// 檢查失敗時不留下任何變更。兩個並發的出價不可能同時通過檢查。
func (l *Ledger) TryReserve(auctionID string, amount decimal.Decimal) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.blockedLocked().Sub(l.reservations[auctionID]).Add(amount)
	if next.GreaterThan(l.available) {
		return false
	}
	l.reservations[auctionID] = amount
	return true
}

// Release 移除指定拍賣的暫扣（被超越、落敗或結算時呼叫）
func (l *Ledger) Release(auctionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.reservations, auctionID)
}

// Reservation 回傳指定拍賣目前的暫扣金額
func (l *Ledger) Reservation(auctionID string) (decimal.Decimal, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	amount, ok := l.reservations[auctionID]
	return amount, ok
}

// Reservations 回傳目前所有暫扣的複本
func (l *Ledger) Reservations() map[string]decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make(map[string]decimal.Decimal, len(l.reservations))
	for id, amount := range l.reservations {
		cp[id] = amount
	}
	return cp
}

// CanAfford 回報在現有暫扣之外，再多扣 additional 是否仍在可用餘額內
func (l *Ledger) CanAfford(additional decimal.Decimal) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blockedLocked().Add(additional).LessThanOrEqual(l.available)
}

// Settle 執行最終扣款（與暫扣不同，這是真正的餘額減項）。
// 餘額不足時回傳 false 且不做任何變更；沒有部分扣款。
func (l *Ledger) Settle(amount decimal.Decimal) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.available.LessThan(amount) {
		return false
	}
	l.available = l.available.Sub(amount)
	return true
}

// Deposit 增加可用餘額（由外部儲值協作者呼叫）
func (l *Ledger) Deposit(amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.available = l.available.Add(amount)
}
