package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"livebid/adapters/redis"
	"livebid/auction"
)

// ErrStaleBid 表示出價在送達共享訊息流之前已被更高的出價超越。
// 本地的樂觀狀態不需要回滾，之後的入站事件會自然把狀態修正回來。
var ErrStaleBid = errors.New("bid is no longer the highest on the stream")

// wireBid 是出價在 stream 上的序列化形式。
// 金額以字串傳輸，避免二進位編碼器碰到 decimal 的內部表示。
type wireBid struct {
	AuctionID  string    `msgpack:"auctionId"`
	BidderID   string    `msgpack:"bidderId"`
	BidderName string    `msgpack:"bidderName"`
	Amount     string    `msgpack:"amount"`
	PlacedAt   time.Time `msgpack:"placedAt"`
}

// BidGuardScript 在 stream 端原子性地把關出價。
//
//	KEYS[1] - 該拍賣的最高價鍵
//	KEYS[2] - 出價的 stream
//	ARGV[1] - 出價金額
//	ARGV[2] - 序列化後的出價訊息（base64）
//	ARGV[3] - 最高價鍵的存活秒數
//
// 返回值:
//
//	1 - 出價已寫入 stream
//	0 - 出價已不是最高，未寫入
//
// 最高價鍵不存在時視為第一筆出價直接接受。
var BidGuardScript = goredis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1])) or 0
local amount = tonumber(ARGV[1])

if amount <= current and current ~= 0 then
    return 0
end

redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[3])
redis.call('XADD', KEYS[2], '*', 'data', ARGV[2])

return 1
`)

type redisTransportOptions struct {
	logger     *slog.Logger
	keyPrefix  string
	highTTL    time.Duration
	bufferSize int
}

type RedisTransportOption func(*redisTransportOptions)

// WithRedisTransportLogger 設定日誌記錄器
func WithRedisTransportLogger(logger *slog.Logger) RedisTransportOption {
	return func(o *redisTransportOptions) {
		o.logger = logger
	}
}

// WithRedisTransportKeyPrefix 設定所有 key 的前綴
func WithRedisTransportKeyPrefix(prefix string) RedisTransportOption {
	return func(o *redisTransportOptions) {
		o.keyPrefix = prefix
	}
}

// WithRedisTransportHighTTL 設定最高價鍵的存活時間
func WithRedisTransportHighTTL(d time.Duration) RedisTransportOption {
	return func(o *redisTransportOptions) {
		o.highTTL = d
	}
}

// WithRedisTransportBufferSize 設定入站通道的緩衝大小
func WithRedisTransportBufferSize(size int) RedisTransportOption {
	return func(o *redisTransportOptions) {
		o.bufferSize = size
	}
}

// RedisTransport 以 Redis Stream 實作傳輸合約。
// 出價經過分散式鎖與 Lua 把關腳本後寫入 stream；
// 入站側每個節點各自讀取 stream 尾端，把已訂閱拍賣的出價
// 轉成入站事件。
type RedisTransport struct {
	client   *goredis.Client
	stream   string
	consumer redis.IConsumer[wireBid]

	mu         sync.Mutex
	subscribed map[string]struct{}
	inbound    chan Event
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	options    redisTransportOptions
}

// NewRedisTransport 建立 Redis Stream 傳輸
func NewRedisTransport(client *goredis.Client, stream string, opts ...RedisTransportOption) (*RedisTransport, error) {
	const op = "NewRedisTransport"
	if client == nil {
		return nil, fmt.Errorf("[%s] redis client cannot be nil", op)
	}
	if stream == "" {
		return nil, fmt.Errorf("[%s] stream cannot be empty", op)
	}

	options := redisTransportOptions{
		logger:     slog.Default(),
		keyPrefix:  "",
		highTTL:    time.Hour,
		bufferSize: 100,
	}
	for _, opt := range opts {
		opt(&options)
	}

	consumer, err := redis.NewConsumer[wireBid](
		client,
		stream,
		redis.WithConsumerLogger[wireBid](options.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] fail to create stream consumer, err=%w", op, err)
	}

	return &RedisTransport{
		client:     client,
		stream:     stream,
		consumer:   consumer,
		subscribed: make(map[string]struct{}),
		closed:     true,
		logger:     options.logger.With(slog.String("caller", "RedisTransport"), slog.String("stream", stream)),
		options:    options,
	}, nil
}

func (t *RedisTransport) Start() {
	t.mu.Lock()
	if !t.closed {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancelFunc = cancel
	t.inbound = make(chan Event, t.options.bufferSize)
	t.closed = false
	t.mu.Unlock()

	t.consumer.Start()
	t.logger.Info("starting redis transport")

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(t.inbound)
		defer t.logger.Info("inbound pump stopped")

		for {
			select {
			case <-ctx.Done():
				return
			case bid, ok := <-t.consumer.Subscribe():
				if !ok {
					return
				}
				t.deliver(ctx, bid)
			}
		}
	}()
}

func (t *RedisTransport) deliver(ctx context.Context, bid wireBid) {
	t.mu.Lock()
	_, wanted := t.subscribed[bid.AuctionID]
	t.mu.Unlock()
	if !wanted {
		return
	}

	amount, err := decimal.NewFromString(bid.Amount)
	if err != nil {
		t.logger.Error("invalid bid amount on stream",
			slog.String("auctionID", bid.AuctionID),
			slog.String("amount", bid.Amount),
			slog.Any("error", err))
		return
	}

	event := Event{
		Kind:      EventBidPlaced,
		AuctionID: bid.AuctionID,
		Bid: &auction.OutboundBid{
			AuctionID:  bid.AuctionID,
			BidderID:   bid.BidderID,
			BidderName: bid.BidderName,
			Amount:     amount,
			PlacedAt:   bid.PlacedAt,
		},
	}
	select {
	case <-ctx.Done():
	case t.inbound <- event:
	}
}

// SendBid 將出價寫入共享 stream。
// 先取得該拍賣的分散式鎖，再由 Lua 腳本原子性地確認金額仍然領先；
// 已被超越的出價回傳 ErrStaleBid，不產生任何 stream 寫入。
func (t *RedisTransport) SendBid(ctx context.Context, bid auction.OutboundBid) error {
	const op = "RedisTransport.SendBid"

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.mu.Unlock()

	lockKey := fmt.Sprintf("%sauction:%s:lock", t.options.keyPrefix, bid.AuctionID)
	mutex := redis.NewAutoRenewMutex(t.client, lockKey)
	lockCtx, err := mutex.Lock(ctx)
	if err != nil {
		return fmt.Errorf("[%s] fail to acquire bid lock, err=%w", op, err)
	}
	defer func() {
		if _, err := mutex.Unlock(); err != nil {
			t.logger.Warn("fail to release bid lock",
				slog.String("auctionID", bid.AuctionID),
				slog.Any("error", err))
		}
	}()

	payload, err := redis.EncodeToMessage(wireBid{
		AuctionID:  bid.AuctionID,
		BidderID:   bid.BidderID,
		BidderName: bid.BidderName,
		Amount:     bid.Amount.String(),
		PlacedAt:   bid.PlacedAt,
	})
	if err != nil {
		return fmt.Errorf("[%s] fail to encode bid, err=%w", op, err)
	}

	highKey := fmt.Sprintf("%sauction:%s:high", t.options.keyPrefix, bid.AuctionID)
	status, err := BidGuardScript.Run(
		lockCtx,
		t.client,
		[]string{highKey, t.stream},
		bid.Amount.String(),
		payload["data"],
		int(t.options.highTTL.Seconds()),
	).Int()
	if err != nil {
		return fmt.Errorf("[%s] fail to run bid guard script, err=%w", op, err)
	}
	if status == 0 {
		return ErrStaleBid
	}
	return nil
}

func (t *RedisTransport) Subscribe(auctionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	t.subscribed[auctionID] = struct{}{}
	return nil
}

func (t *RedisTransport) Unsubscribe(auctionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subscribed, auctionID)
	return nil
}

func (t *RedisTransport) Inbound() <-chan Event {
	return t.inbound
}

func (t *RedisTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.logger.Info("closing redis transport")
	t.cancelFunc()
	t.consumer.Close()
	t.wg.Wait()
	t.logger.Info("redis transport closed")
}
