package outbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrderingKeyGroupsByDispute(t *testing.T) {
	key := orderingKey(map[string]any{"dispute_id": int64(7), "stake": 100})
	require.NotNil(t, key)
	require.Equal(t, "dispute:7", *key)

	other := orderingKey(map[string]any{"dispute_id": int64(8)})
	require.NotEqual(t, *key, *other)

	require.Nil(t, orderingKey(map[string]any{"from": "donor", "amount": 5}), "treasury deposits are unordered")
	require.Nil(t, orderingKey(map[string]any{"dispute_id": nil}))
}
