//go:generate mockgen -package=redis -destination=mock.go -source=interfaces.go

package redis

import (
	"context"
)

// IProducer 定義了將訊息寫入 Redis Stream 的操作介面
type IProducer[T any] interface {
	Start()
	Publish(data T) error
	Close()
}

// IConsumer 定義了從 Redis Stream 尾端讀取訊息的操作介面。
// 每個節點獨立讀取，訊息會送達所有節點（用於即時出價事件的分發）。
type IConsumer[T any] interface {
	Start()
	Subscribe() <-chan T
	Close()
}

// IGroupConsumer 定義了以 consumer group 消費訊息的操作介面。
// 每條訊息只會被群組中的一個節點處理，且需要明確的 Done/Fail 確認
// （用於將已接受的出價持久化回資料庫）。
type IGroupConsumer[T any] interface {
	Start() error
	Subscribe() <-chan *Message[T]
	Close() error
}

// IAutoRenewMutex 定義了帶自動續期的分散式鎖介面
type IAutoRenewMutex interface {
	Lock(ctx context.Context) (context.Context, error)
	Unlock() (bool, error)
	Valid() bool
}
