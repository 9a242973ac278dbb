package valuetree

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueJSONRoundTrip(t *testing.T) {
	src := `{"chain_id":"chainA","created":"2024-01-01T00:00:00Z","weak_password":false,"n":3,"tags":["a","b"],"nested":{"x":1}}`
	var v Value
	require.NoError(t, json.Unmarshal([]byte(src), &v))

	out, err := json.Marshal(v)
	require.NoError(t, err)

	var roundTripped interface{}
	require.NoError(t, json.Unmarshal(out, &roundTripped))
	var original interface{}
	require.NoError(t, json.Unmarshal([]byte(src), &original))
	require.Equal(t, original, roundTripped)
}

func TestValueFieldAccessors(t *testing.T) {
	v := EmptyObject().
		WithField("chain_id", StringValue("chainA")).
		WithField("count", NumberValue(3)).
		WithField("ok", BoolValue(true))

	f, ok := v.Field("chain_id")
	require.True(t, ok)
	s, ok := f.String()
	require.True(t, ok)
	require.Equal(t, "chainA", s)

	_, ok = v.Field("missing")
	require.False(t, ok)

	require.Equal(t, []string{"chain_id", "count", "ok"}, v.Keys())
}

func TestValueWithoutField(t *testing.T) {
	v := EmptyObject().WithField("a", NumberValue(1)).WithField("b", NumberValue(2))
	v2 := v.WithoutField("a")
	_, ok := v2.Field("a")
	require.False(t, ok)
	_, ok = v2.Field("b")
	require.True(t, ok)

	// removing an absent key is a no-op that returns an equal tree
	v3 := v2.WithoutField("does-not-exist")
	require.True(t, Equal(v2, v3))
}

func TestEqualStructural(t *testing.T) {
	a := EmptyObject().WithField("k", StringValue("v")).WithField("n", NumberValue(1))
	b := EmptyObject().WithField("n", NumberValue(1)).WithField("k", StringValue("v"))
	require.True(t, Equal(a, b))

	c := a.WithField("n", NumberValue(2))
	require.False(t, Equal(a, c))

	require.True(t, Equal(NullValue(), NullValue()))
	require.False(t, Equal(NullValue(), BoolValue(false)))

	arrA := ArrayValue(NumberValue(1), NumberValue(2))
	arrB := ArrayValue(NumberValue(1), NumberValue(2))
	arrC := ArrayValue(NumberValue(1), NumberValue(3))
	require.True(t, Equal(arrA, arrB))
	require.False(t, Equal(arrA, arrC))
}
