package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeToMessage(t *testing.T) {
	t.Run("normal struct", func(t *testing.T) {
		result, err := EncodeToMessage(TestMessage{ID: "1", Data: "hello"})
		require.NoError(t, err)
		assert.Contains(t, result, "data")
		assert.NotEmpty(t, result["data"])
	})

	t.Run("pointer is rejected", func(t *testing.T) {
		_, err := EncodeToMessage(&TestMessage{ID: "1"})
		assert.ErrorIs(t, err, ErrPointerType)
	})
}

func TestDecodeFromMessage(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		input := TestMessage{ID: "42", Data: "payload"}
		encoded, err := EncodeToMessage(input)
		require.NoError(t, err)

		decoded, err := DecodeFromMessage[TestMessage](encoded)
		require.NoError(t, err)
		assert.Equal(t, input, decoded)
	})

	t.Run("empty message returns zero value", func(t *testing.T) {
		decoded, err := DecodeFromMessage[TestMessage](map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, TestMessage{}, decoded)
	})

	t.Run("missing data field", func(t *testing.T) {
		_, err := DecodeFromMessage[TestMessage](map[string]any{"other": "x"})
		assert.Error(t, err)
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := DecodeFromMessage[TestMessage](map[string]any{"data": "!!not-base64!!"})
		assert.Error(t, err)
	})
}
