package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestNewProducer(t *testing.T) {
	tests := []struct {
		name    string
		client  *redis.Client
		stream  string
		wantErr string
	}{
		{
			name:   "valid configuration",
			client: redis.NewClient(&redis.Options{}),
			stream: "test-stream",
		},
		{
			name:    "nil client",
			client:  nil,
			stream:  "test-stream",
			wantErr: "redis client cannot be nil",
		},
		{
			name:    "empty stream",
			client:  redis.NewClient(&redis.Options{}),
			stream:  "",
			wantErr: "stream cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)

			producer, err := NewProducer[TestMessage](tt.client, tt.stream)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				assert.Nil(t, producer)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, producer)
				producer.Close()
			}
			if tt.client != nil {
				tt.client.Close()
			}
		})
	}
}

func TestProducerPublish(t *testing.T) {
	defer goleak.VerifyNone(t)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	producer, err := NewProducer[TestMessage](client, "test-stream")
	require.NoError(t, err)

	// 未啟動前不接受訊息
	assert.ErrorIs(t, producer.Publish(TestMessage{ID: "1"}), ErrConsumerClosed)

	producer.Start()
	require.NoError(t, producer.Publish(TestMessage{ID: "1", Data: "hello"}))
	require.NoError(t, producer.Publish(TestMessage{ID: "2", Data: "world"}))

	// 寫入是非同步的
	assert.Eventually(t, func() bool {
		length, err := client.XLen(context.Background(), "test-stream").Result()
		return err == nil && length == 2
	}, time.Second, 10*time.Millisecond)

	producer.Close()
}
