package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	redisAdapter "livebid/adapters/redis"
	"livebid/adapters/sse"
	"livebid/auction"
)

// eventRequest 是跨節點廣播的事件訊息
type eventRequest = sse.PublishRequest[auction.Event]

// encodeEventRequest 以 JSON 序列化事件。
// 事件帶有 decimal 金額，JSON 編碼器能正確處理，
// 出價訊息用的二進位編碼器則不行。
func encodeEventRequest(req eventRequest) (map[string]any, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("fail to marshal event request, err=%w", err)
	}
	return map[string]any{"data": base64.StdEncoding.EncodeToString(raw)}, nil
}

func decodeEventRequest(values map[string]any) (eventRequest, error) {
	var req eventRequest
	data, ok := values["data"].(string)
	if !ok {
		return req, errors.New("message data is not a string")
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return req, fmt.Errorf("fail to decode base64 data, err=%w", err)
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("fail to unmarshal event request, err=%w", err)
	}
	return req, nil
}

// streamBridge 以 Redis Stream 實作 sse.IBridge。
// 每個節點把事件寫進共享的事件流，再各自讀回並廣播給本地訂閱者，
// 讓多個服務實例的 SSE 客戶端看到同一串拍賣事件。
type streamBridge struct {
	producer *redisAdapter.Producer[eventRequest]
	consumer redisAdapter.IConsumer[eventRequest]
}

func newStreamBridge(client *goredis.Client, stream string, logger *slog.Logger) (*streamBridge, error) {
	const op = "NewStreamBridge"

	producer, err := redisAdapter.NewProducer[eventRequest](
		client,
		stream,
		redisAdapter.WithProducerLogger[eventRequest](logger),
		redisAdapter.WithProducerEncodeFunc[eventRequest](encodeEventRequest),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] fail to create event producer, err=%w", op, err)
	}

	consumer, err := redisAdapter.NewConsumer[eventRequest](
		client,
		stream,
		redisAdapter.WithConsumerLogger[eventRequest](logger),
		redisAdapter.WithConsumerDecodeFunc[eventRequest](decodeEventRequest),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] fail to create event consumer, err=%w", op, err)
	}

	return &streamBridge{producer: producer, consumer: consumer}, nil
}

func (b *streamBridge) Start() {
	b.producer.Start()
	b.consumer.Start()
}

func (b *streamBridge) Publish(req eventRequest) error {
	return b.producer.Publish(req)
}

func (b *streamBridge) Subscribe() <-chan eventRequest {
	return b.consumer.Subscribe()
}

func (b *streamBridge) Close() {
	b.producer.Close()
	b.consumer.Close()
}
