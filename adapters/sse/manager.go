package sse

import (
	"context"
	"log/slog"
	"sync"
)

// connectionManager 管理多個頻道的訂閱與發布。
// 沒有橋接時，Publish 直接廣播給本地訂閱者；
// 接上 IBridge 後，訊息會先經過共享訊息流再回到每個節點廣播，
// 讓多個服務實例看到同一串拍賣事件。
type connectionManager[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.RWMutex
	wg     sync.WaitGroup
	active bool

	bridge   IBridge[T]
	channels map[string]*Channel[T]
}

type managerOptions[T any] struct {
	logger *slog.Logger
	bridge IBridge[T]
}

type ManagerOption[T any] func(*managerOptions[T])

// WithManagerLogger 設定日誌記錄器
func WithManagerLogger[T any](logger *slog.Logger) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.logger = logger
	}
}

// WithManagerBridge 設定跨節點廣播的橋接
func WithManagerBridge[T any](bridge IBridge[T]) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.bridge = bridge
	}
}

// NewConnectionManager 建立一個新的連線管理器
func NewConnectionManager[T any](opts ...ManagerOption[T]) IConnectionManager[T] {
	options := managerOptions[T]{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &connectionManager[T]{
		ctx:      ctx,
		cancel:   cancel,
		logger:   options.logger.With(slog.String("caller", "ConnectionManager")),
		bridge:   options.bridge,
		channels: make(map[string]*Channel[T]),
		active:   true,
	}
}

// Start 啟動連線管理器。有橋接時啟動訊息回流的 goroutine。
func (cm *connectionManager[T]) Start() {
	if cm.bridge == nil {
		return
	}

	cm.wg.Add(1)
	go func() {
		defer cm.wg.Done()
		for {
			select {
			case <-cm.ctx.Done():
				return
			case req, ok := <-cm.bridge.Subscribe():
				if !ok {
					return
				}
				cm.broadcast(req.Channel, req.Message)
			}
		}
	}()
}

// Done 停止連線管理器的運作
func (cm *connectionManager[T]) Done() {
	cm.mu.Lock()
	if !cm.active {
		cm.mu.Unlock()
		return
	}
	cm.active = false
	cm.mu.Unlock()

	cm.cancel()
	cm.wg.Wait()

	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, channel := range cm.channels {
		channel.UnsubscribeAll()
	}
	clear(cm.channels)
}

// Subscribe 訂閱指定頻道，回傳接收訊息的唯讀通道
func (cm *connectionManager[T]) Subscribe(channelName string) (<-chan T, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.active {
		return nil, context.Canceled
	}

	c, ok := cm.channels[channelName]
	if !ok {
		c = NewChannel[T]().(*Channel[T])
		cm.channels[channelName] = c
	}
	return c.Subscribe(), nil
}

// Publish 發布訊息到指定頻道
func (cm *connectionManager[T]) Publish(channelName string, data T) error {
	cm.mu.RLock()
	if !cm.active {
		cm.mu.RUnlock()
		return context.Canceled
	}
	bridge := cm.bridge
	cm.mu.RUnlock()

	if bridge != nil {
		return bridge.Publish(PublishRequest[T]{
			Channel: channelName,
			Message: data,
		})
	}
	cm.broadcast(channelName, data)
	return nil
}

// Unsubscribe 取消訂閱指定頻道，最後一個訂閱者離開時移除頻道
func (cm *connectionManager[T]) Unsubscribe(channelName string, ch <-chan T) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	c, ok := cm.channels[channelName]
	if !ok {
		return
	}

	c.Unsubscribe(ch)
	if c.IsIdle() {
		delete(cm.channels, channelName)
	}
}

func (cm *connectionManager[T]) broadcast(channelName string, data T) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if channel, ok := cm.channels[channelName]; ok {
		channel.Broadcast(data)
	}
}
