package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	balanceField      = "balance"
	reservationPrefix = "reserve:"
)

// WalletSnapshot 是錢包在某個時點的持久化狀態：
// 可用餘額與各拍賣的暫扣金額
type WalletSnapshot struct {
	Available    decimal.Decimal
	Reservations map[string]decimal.Decimal
}

// WalletStore 以 Redis hash 在會話之間保存錢包快照。
// 核心的錢包帳本不依賴它，由伺服器在啟動與關閉時負責載入與保存。
type WalletStore struct {
	client  *redis.Client
	options walletStoreOptions
}

type walletStoreOptions struct {
	prefix string
}

type WalletStoreOption func(*walletStoreOptions)

// WithWalletStorePrefix 設定 key 前綴
func WithWalletStorePrefix(prefix string) WalletStoreOption {
	return func(o *walletStoreOptions) {
		o.prefix = prefix
	}
}

// NewWalletStore 建立錢包快照儲存
func NewWalletStore(client *redis.Client, opts ...WalletStoreOption) *WalletStore {
	options := walletStoreOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	return &WalletStore{
		client:  client,
		options: options,
	}
}

// Load 載入指定使用者的錢包快照。
// 第二個回傳值表示快照是否存在：Save 一定會寫入餘額欄位，
// 所以花到零元的錢包仍然存在，與從未保存過的錢包可以區分。
func (s *WalletStore) Load(ctx context.Context, userID string) (WalletSnapshot, bool, error) {
	const op = "WalletStore.Load"
	key := s.options.prefix + userID

	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return WalletSnapshot{}, false, fmt.Errorf("[%s] failed to get hash, err=%w", op, err)
	}
	if len(fields) == 0 {
		return WalletSnapshot{}, false, nil
	}

	snapshot := WalletSnapshot{
		Available:    decimal.Zero,
		Reservations: make(map[string]decimal.Decimal),
	}
	for field, value := range fields {
		amount, err := decimal.NewFromString(value)
		if err != nil {
			return WalletSnapshot{}, false, fmt.Errorf("[%s] invalid amount in field %s, err=%w", op, field, err)
		}
		switch {
		case field == balanceField:
			snapshot.Available = amount
		case strings.HasPrefix(field, reservationPrefix):
			snapshot.Reservations[strings.TrimPrefix(field, reservationPrefix)] = amount
		}
	}
	return snapshot, true, nil
}

// saveScript 原子性地以新快照取代舊快照
var saveScript = redis.NewScript(`
local key = KEYS[1]
redis.call('DEL', key)
if #ARGV > 0 then
    redis.call('HSET', key, unpack(ARGV))
end
return 1
`)

// Save 保存錢包快照。先刪除舊資料再寫入新資料，整個過程是原子的。
func (s *WalletStore) Save(ctx context.Context, userID string, snapshot WalletSnapshot) error {
	const op = "WalletStore.Save"
	key := s.options.prefix + userID

	args := make([]any, 0, (len(snapshot.Reservations)+1)*2)
	args = append(args, balanceField, snapshot.Available.String())
	for auctionID, amount := range snapshot.Reservations {
		args = append(args, reservationPrefix+auctionID, amount.String())
	}

	if err := saveScript.Run(ctx, s.client, []string{key}, args...).Err(); err != nil {
		return fmt.Errorf("[%s] failed to execute save script, err=%w", op, err)
	}
	return nil
}
