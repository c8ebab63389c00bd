package transport

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBidGuardScript(t *testing.T) {
	// 設置 miniredis
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	const (
		highKey   = "auction:item-1:high"
		streamKey = "bid-stream"
	)

	run := func(amount, payload string) int {
		status, err := BidGuardScript.Run(ctx, client, []string{highKey, streamKey}, amount, payload, 3600).Int()
		require.NoError(t, err)
		return status
	}

	tests := []struct {
		name      string
		setupFunc func()
		amount    string
		want      int
	}{
		{
			name:      "最高價鍵不存在時第一筆出價直接接受",
			setupFunc: func() {},
			amount:    "100",
			want:      1,
		},
		{
			name: "低於目前最高價的出價被拒絕",
			setupFunc: func() {
				mr.Set(highKey, "200")
			},
			amount: "150",
			want:   0,
		},
		{
			name: "等於目前最高價的出價被拒絕",
			setupFunc: func() {
				mr.Set(highKey, "200")
			},
			amount: "200",
			want:   0,
		},
		{
			name: "高於目前最高價的出價被接受",
			setupFunc: func() {
				mr.Set(highKey, "200")
			},
			amount: "250",
			want:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr.FlushAll()
			tt.setupFunc()

			got := run(tt.amount, "payload-"+tt.amount)
			assert.Equal(t, tt.want, got)

			if tt.want == 1 {
				// 接受的出價更新最高價鍵並寫入stream
				value, err := client.Get(ctx, highKey).Result()
				require.NoError(t, err)
				assert.Equal(t, tt.amount, value)

				length, err := client.XLen(ctx, streamKey).Result()
				require.NoError(t, err)
				assert.Equal(t, int64(1), length)
			} else {
				// 拒絕的出價不產生任何stream寫入
				length, err := client.XLen(ctx, streamKey).Result()
				require.NoError(t, err)
				assert.Zero(t, length)
			}
		})
	}
}

func TestRedisTransportSubscriptionFilter(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	tr, err := NewRedisTransport(client, "bid-stream")
	require.NoError(t, err)
	tr.Start()
	defer tr.Close()

	require.NoError(t, tr.Subscribe("item-1"))
	require.NoError(t, tr.Unsubscribe("item-1"))

	// 關閉後操作回傳錯誤
	tr.Close()
	assert.ErrorIs(t, tr.Subscribe("item-1"), ErrTransportClosed)
}
