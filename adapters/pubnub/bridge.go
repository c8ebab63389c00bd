// Package pubnub 將傳輸合約橋接到 PubNub 頻道，
// 作為 Redis Stream 之外的另一種即時通道實作。
package pubnub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pn "github.com/pubnub/go/v7"
	"github.com/shopspring/decimal"

	"livebid/auction"
	"livebid/transport"
)

const channelPrefix = "auction."

// bridgeMessage 是出價在 PubNub 頻道上的 JSON 形式
type bridgeMessage struct {
	AuctionID  string `json:"auctionId"`
	BidderID   string `json:"bidderId"`
	BidderName string `json:"bidderName"`
	Amount     string `json:"amount"`
	PlacedAt   string `json:"placedAt"`
}

type bridgeOptions struct {
	logger     *slog.Logger
	bufferSize int
}

type BridgeOption func(*bridgeOptions)

// WithBridgeLogger 設定日誌記錄器
func WithBridgeLogger(logger *slog.Logger) BridgeOption {
	return func(o *bridgeOptions) {
		o.logger = logger
	}
}

// WithBridgeBufferSize 設定入站通道的緩衝大小
func WithBridgeBufferSize(size int) BridgeOption {
	return func(o *bridgeOptions) {
		o.bufferSize = size
	}
}

// Bridge 以 PubNub 頻道實作傳輸合約。
// 每個拍賣對應一個頻道；出價以 JSON 發布，
// 監聽到的訊息轉成入站事件交給引擎。
type Bridge struct {
	client   *pn.PubNub
	listener *pn.Listener

	mu         sync.Mutex
	subscribed map[string]struct{}
	inbound    chan transport.Event
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
}

// NewBridge 建立 PubNub 橋接
func NewBridge(client *pn.PubNub, opts ...BridgeOption) (*Bridge, error) {
	const op = "pubnub.NewBridge"
	if client == nil {
		return nil, fmt.Errorf("[%s] pubnub client cannot be nil", op)
	}

	options := bridgeOptions{
		logger:     slog.Default(),
		bufferSize: 100,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Bridge{
		client:     client,
		listener:   pn.NewListener(),
		subscribed: make(map[string]struct{}),
		closed:     true,
		logger:     options.logger.With(slog.String("caller", "PubNubBridge")),
		inbound:    make(chan transport.Event, options.bufferSize),
	}, nil
}

func (b *Bridge) Start() {
	b.mu.Lock()
	if !b.closed {
		b.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancelFunc = cancel
	b.closed = false
	b.mu.Unlock()

	b.client.AddListener(b.listener)
	b.logger.Info("starting pubnub bridge")

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(b.inbound)
		defer b.logger.Info("pubnub listener pump stopped")

		for {
			select {
			case <-ctx.Done():
				return
			case message := <-b.listener.Message:
				b.deliver(ctx, message)
			case status := <-b.listener.Status:
				b.logger.Debug("pubnub status changed",
					slog.Int("category", int(status.Category)))
			}
		}
	}()
}

func (b *Bridge) deliver(ctx context.Context, message *pn.PNMessage) {
	raw, err := json.Marshal(message.Message)
	if err != nil {
		b.logger.Error("fail to re-encode pubnub message", slog.Any("error", err))
		return
	}
	var msg bridgeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		b.logger.Error("fail to parse pubnub message", slog.Any("error", err))
		return
	}

	b.mu.Lock()
	_, wanted := b.subscribed[msg.AuctionID]
	b.mu.Unlock()
	if !wanted {
		return
	}

	amount, err := decimal.NewFromString(msg.Amount)
	if err != nil {
		b.logger.Error("invalid bid amount on channel",
			slog.String("auctionID", msg.AuctionID),
			slog.String("amount", msg.Amount))
		return
	}
	placedAt, _ := time.Parse(time.RFC3339Nano, msg.PlacedAt)

	event := transport.Event{
		Kind:      transport.EventBidPlaced,
		AuctionID: msg.AuctionID,
		Bid: &auction.OutboundBid{
			AuctionID:  msg.AuctionID,
			BidderID:   msg.BidderID,
			BidderName: msg.BidderName,
			Amount:     amount,
			PlacedAt:   placedAt,
		},
	}
	select {
	case <-ctx.Done():
	case b.inbound <- event:
	}
}

// SendBid 將出價發布到對應的拍賣頻道
func (b *Bridge) SendBid(_ context.Context, bid auction.OutboundBid) error {
	const op = "pubnub.Bridge.SendBid"

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return transport.ErrTransportClosed
	}
	b.mu.Unlock()

	_, _, err := b.client.Publish().
		Channel(channelPrefix + bid.AuctionID).
		Message(bridgeMessage{
			AuctionID:  bid.AuctionID,
			BidderID:   bid.BidderID,
			BidderName: bid.BidderName,
			Amount:     bid.Amount.String(),
			PlacedAt:   bid.PlacedAt.Format(time.RFC3339Nano),
		}).
		Execute()
	if err != nil {
		return fmt.Errorf("[%s] fail to publish bid, err=%w", op, err)
	}
	return nil
}

func (b *Bridge) Subscribe(auctionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return transport.ErrTransportClosed
	}
	b.subscribed[auctionID] = struct{}{}
	b.client.Subscribe().
		Channels([]string{channelPrefix + auctionID}).
		Execute()
	return nil
}

func (b *Bridge) Unsubscribe(auctionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribed, auctionID)
	b.client.Unsubscribe().
		Channels([]string{channelPrefix + auctionID}).
		Execute()
	return nil
}

func (b *Bridge) Inbound() <-chan transport.Event {
	return b.inbound
}

func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.logger.Info("closing pubnub bridge")
	b.client.UnsubscribeAll()
	b.client.RemoveListener(b.listener)
	b.cancelFunc()
	b.wg.Wait()
	b.logger.Info("pubnub bridge closed")
}
