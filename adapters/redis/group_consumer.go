package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrConsumerClosed 表示消費者已關閉
	ErrConsumerClosed = errors.New("consumer is closed")
)

// Message 封裝一條待確認的訊息。
// 處理成功呼叫 Done（XACK），處理失敗呼叫 Fail
// （搬進 dead-letter stream 後再 XACK，讓群組不會卡住）。
type Message[T any] struct {
	Data T

	client    *redis.Client
	done      bool
	messageID string
	stream    string
	group     string
	raw       map[string]any
}

// Done 確認訊息已處理完成
func (m *Message[T]) Done(ctx context.Context) error {
	const op = "Message.Done"
	if m.done {
		return nil
	}
	if err := m.client.XAck(ctx, m.stream, m.group, m.messageID).Err(); err != nil {
		return fmt.Errorf("[%s] failed to ack message: %w", op, err)
	}
	m.done = true
	return nil
}

// Fail 將處理失敗的訊息搬進 dead-letter stream 並確認
func (m *Message[T]) Fail(ctx context.Context, failErr error) error {
	const op = "Message.Fail"
	if m.done {
		return nil
	}

	m.raw["error"] = failErr.Error()
	if err := m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.stream + ":dead-letter",
		Values: m.raw,
	}).Err(); err != nil {
		return fmt.Errorf("[%s] failed to move message to dead letter queue: %w", op, err)
	}

	if err := m.client.XAck(ctx, m.stream, m.group, m.messageID).Err(); err != nil {
		return fmt.Errorf("[%s] failed to ack failed message: %w", op, err)
	}
	m.done = true
	return nil
}

type groupConsumerOptions[T any] struct {
	logger       *slog.Logger
	decodeFunc   func(map[string]any) (T, error)
	bufferSize   int
	blockTimeout time.Duration
}

type GroupConsumerOption[T any] func(*groupConsumerOptions[T])

// WithGroupConsumerLogger 設置日誌記錄器
func WithGroupConsumerLogger[T any](logger *slog.Logger) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.logger = logger
	}
}

// WithGroupConsumerDecodeFunc 設置訊息解析函數
func WithGroupConsumerDecodeFunc[T any](fn func(map[string]any) (T, error)) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.decodeFunc = fn
	}
}

// WithGroupConsumerBufferSize 設置下游 channel 的緩衝大小
func WithGroupConsumerBufferSize[T any](size int) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.bufferSize = size
	}
}

// WithGroupConsumerBlockTimeout 設置阻塞讀取的超時時間
func WithGroupConsumerBlockTimeout[T any](d time.Duration) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.blockTimeout = d
	}
}

// GroupConsumer 以 consumer group 語意消費 Redis Stream，
// 讓多個節點分攤持久化工作而不重複處理同一筆出價。
type GroupConsumer[T any] struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	downStream chan *Message[T]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	options    groupConsumerOptions[T]
}

func NewGroupConsumer[T any](
	client *redis.Client,
	stream, group, consumer string,
	opts ...GroupConsumerOption[T],
) (IGroupConsumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" || group == "" || consumer == "" {
		return nil, errors.New("stream, group and consumer cannot be empty")
	}

	options := groupConsumerOptions[T]{
		logger:       slog.Default(),
		decodeFunc:   DecodeFromMessage[T],
		bufferSize:   1,
		blockTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &GroupConsumer[T]{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		closed:   true,
		logger: options.logger.With(
			slog.String("caller", "GroupConsumer"),
			slog.String("stream", stream),
			slog.String("group", group),
			slog.String("consumer", consumer)),
		options: options,
	}, nil
}

func (s *GroupConsumer[T]) Start() error {
	const op = "GroupConsumer.Start"
	if !s.closed {
		return nil
	}

	// 群組不存在時建立，從 stream 起點開始消費
	if err := s.client.XGroupCreateMkStream(context.Background(), s.stream, s.group, "0").Err(); err != nil {
		// BUSYGROUP 代表群組已存在
		if !isBusyGroupErr(err) {
			return fmt.Errorf("[%s] failed to create consumer group: %w", op, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.downStream = make(chan *Message[T], s.options.bufferSize)
	s.cancelFunc = cancel
	s.closed = false
	s.logger.Info("starting group consumer")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("group consumer goroutine stopped")
		defer close(s.downStream)

		for {
			select {
			case <-ctx.Done():
				return
			default:
				if err := s.consumeNext(ctx); err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					s.logger.Error("error processing message", slog.Any("error", err))
				}
			}
		}
	}()
	return nil
}

func (s *GroupConsumer[T]) consumeNext(ctx context.Context) error {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    1,
		Block:    s.options.blockTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil
	}

	message := streams[0].Messages[0]
	msg := &Message[T]{
		client:    s.client,
		messageID: message.ID,
		stream:    s.stream,
		group:     s.group,
		raw:       message.Values,
	}

	data, err := s.options.decodeFunc(message.Values)
	if err != nil {
		// 解析失敗不會因重試而成功，直接送進 dead-letter
		s.logger.Error("failed to decode message",
			slog.String("messageId", message.ID),
			slog.Any("error", err))
		return msg.Fail(ctx, err)
	}
	msg.Data = data

	select {
	case <-ctx.Done():
		// 未送達下游的訊息會以 pending 形式留在 stream，下次啟動可被重新認領
		return ctx.Err()
	case s.downStream <- msg:
		return nil
	}
}

// Subscribe 訂閱 Stream，返回 Message 通道
func (s *GroupConsumer[T]) Subscribe() <-chan *Message[T] {
	return s.downStream
}

func (s *GroupConsumer[T]) Close() error {
	if s.closed {
		return nil
	}
	s.logger.Info("closing group consumer")
	s.closed = true
	s.cancelFunc()
	s.wg.Wait()
	s.logger.Info("group consumer closed gracefully")
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}
