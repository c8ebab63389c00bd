package transport

import (
	"context"
	"log/slog"
	"sync"

	"livebid/auction"
)

// Loopback 是行程內的迴路傳輸，用於沒有後端的展示模式。
// 送出的出價會直接以入站 bid_placed 事件回流，
// 讓展示模式與後端驅動模式對下游而言無法區分。
type Loopback struct {
	mu         sync.Mutex
	subscribed map[string]struct{}
	inbound    chan Event
	closed     bool
	logger     *slog.Logger
}

type loopbackOptions struct {
	logger     *slog.Logger
	bufferSize int
}

type LoopbackOption func(*loopbackOptions)

// WithLoopbackLogger 設定日誌記錄器
func WithLoopbackLogger(logger *slog.Logger) LoopbackOption {
	return func(o *loopbackOptions) {
		o.logger = logger
	}
}

// WithLoopbackBufferSize 設定入站通道的緩衝大小
func WithLoopbackBufferSize(size int) LoopbackOption {
	return func(o *loopbackOptions) {
		o.bufferSize = size
	}
}

// NewLoopback 建立迴路傳輸
func NewLoopback(opts ...LoopbackOption) *Loopback {
	options := loopbackOptions{
		logger:     slog.Default(),
		bufferSize: 100,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Loopback{
		subscribed: make(map[string]struct{}),
		inbound:    make(chan Event, options.bufferSize),
		closed:     true,
		logger:     options.logger.With(slog.String("caller", "LoopbackTransport")),
	}
}

func (l *Loopback) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = false
}

// SendBid 將出價回送為入站事件。未訂閱的拍賣會被丟棄，
// 與真實後端只推送已加入房間的事件一致。
func (l *Loopback) SendBid(_ context.Context, bid auction.OutboundBid) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrTransportClosed
	}
	if _, ok := l.subscribed[bid.AuctionID]; !ok {
		return nil
	}

	select {
	case l.inbound <- Event{Kind: EventBidPlaced, AuctionID: bid.AuctionID, Bid: &bid}:
	default:
		l.logger.Warn("inbound buffer full, dropping loopback event",
			slog.String("auctionID", bid.AuctionID))
	}
	return nil
}

func (l *Loopback) Subscribe(auctionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrTransportClosed
	}
	l.subscribed[auctionID] = struct{}{}
	return nil
}

func (l *Loopback) Unsubscribe(auctionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subscribed, auctionID)
	return nil
}

func (l *Loopback) Inbound() <-chan Event {
	return l.inbound
}

func (l *Loopback) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.inbound)
}
