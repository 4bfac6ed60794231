package docstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeJSON_Shallow(t *testing.T) {
	out, err := MergeJSON([]byte(`{"a":1,"b":{"x":1},"c":"keep"}`), map[string]any{
		"a": 2,
		"b": map[string]int{"y": 2},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"a":2,"b":{"y":2},"c":"keep"}`, string(out))
}

func TestEncode_RejectsNonObject(t *testing.T) {
	_, err := Encode([]int{1, 2})
	require.Error(t, err)

	b, err := Encode(map[string]int{"n": 1})
	require.NoError(t, err)
	require.JSONEq(t, `{"n":1}`, string(b))
}

func TestUserOrders(t *testing.T) {
	require.Equal(t, "users/u1/orders", UserOrders("u1"))
	require.Equal(t, "orders/o1", Doc(CollectionOrders, "o1").String())
}

func TestClampLimit(t *testing.T) {
	require.Equal(t, 20, ClampLimit(0, 20, 100))
	require.Equal(t, 100, ClampLimit(500, 20, 100))
	require.Equal(t, 7, ClampLimit(7, 20, 100))
}
