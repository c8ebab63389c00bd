package api

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livebid/adapters/sse"
	"livebid/auction"
)

func TestEventRequestCodec(t *testing.T) {
	input := eventRequest{
		Channel: "item-1",
		Message: auction.Event{
			Kind:      auction.EventBidPlaced,
			AuctionID: "item-1",
			Amount:    decimal.NewFromInt(150),
			At:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
	}

	encoded, err := encodeEventRequest(input)
	require.NoError(t, err)
	assert.Contains(t, encoded, "data")

	decoded, err := decodeEventRequest(encoded)
	require.NoError(t, err)
	assert.Equal(t, input.Channel, decoded.Channel)
	assert.Equal(t, input.Message.Kind, decoded.Message.Kind)
	// 金額經過JSON往返後數值不變
	assert.True(t, input.Message.Amount.Equal(decoded.Message.Amount))
	assert.True(t, input.Message.At.Equal(decoded.Message.At))
}

func TestDecodeEventRequestInvalid(t *testing.T) {
	_, err := decodeEventRequest(map[string]any{})
	assert.Error(t, err)

	_, err = decodeEventRequest(map[string]any{"data": "!!not-base64!!"})
	assert.Error(t, err)

	var _ sse.IBridge[auction.Event] = (*streamBridge)(nil)
}
