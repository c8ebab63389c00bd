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

func TestNewGroupConsumer(t *testing.T) {
	client := redis.NewClient(&redis.Options{})
	defer client.Close()

	tests := []struct {
		name     string
		client   *redis.Client
		stream   string
		group    string
		consumer string
		wantErr  bool
	}{
		{"valid configuration", client, "s", "g", "c", false},
		{"nil client", nil, "s", "g", "c", true},
		{"empty stream", client, "", "g", "c", true},
		{"empty group", client, "s", "", "c", true},
		{"empty consumer", client, "s", "g", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			consumer, err := NewGroupConsumer[TestMessage](tt.client, tt.stream, tt.group, tt.consumer)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, consumer)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, consumer)
			}
		})
	}
}

func TestGroupConsumerConsume(t *testing.T) {
	defer goleak.VerifyNone(t)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()

	// 先寫入一則訊息，群組從stream起點開始消費
	payload, err := EncodeToMessage(TestMessage{ID: "1", Data: "hello"})
	require.NoError(t, err)
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: "bid-stream", Values: payload}).Err())

	consumer, err := NewGroupConsumer[TestMessage](client, "bid-stream", "sync-group", "node-1")
	require.NoError(t, err)
	require.NoError(t, consumer.Start())

	select {
	case msg := <-consumer.Subscribe():
		assert.Equal(t, "1", msg.Data.ID)
		assert.Equal(t, "hello", msg.Data.Data)
		require.NoError(t, msg.Done(ctx))
	case <-time.After(time.Second):
		t.Fatal("did not receive message in time")
	}

	require.NoError(t, consumer.Close())

	// 已確認的訊息不會留在pending
	pending, err := client.XPending(ctx, "bid-stream", "sync-group").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestGroupConsumerDeadLetter(t *testing.T) {
	defer goleak.VerifyNone(t)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()

	// 無法解析的訊息直接進dead-letter
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: "bid-stream",
		Values: map[string]any{"data": "!!broken!!"},
	}).Err())

	consumer, err := NewGroupConsumer[TestMessage](client, "bid-stream", "sync-group", "node-1")
	require.NoError(t, err)
	require.NoError(t, consumer.Start())

	assert.Eventually(t, func() bool {
		length, err := client.XLen(ctx, "bid-stream:dead-letter").Result()
		return err == nil && length == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, consumer.Close())
}
