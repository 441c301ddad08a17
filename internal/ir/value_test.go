package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRObjectSortedKeys(t *testing.T) {
	obj := NewIRObject(O("zeta", IRInt(1)), O("alpha", IRInt(2)), O("mid", IRInt(3)))
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, obj.SortedKeys())
}

func TestSortedKeysUTF16Order(t *testing.T) {
	// U+1F600 encodes as a surrogate pair (0xD83D...) which sorts before
	// U+FF5E (0xFF5E) in UTF-16 but after it in UTF-8.
	obj := IRObject{"\U0001F600": IRInt(1), "\uFF5E": IRInt(2)}
	assert.Equal(t, []string{"\U0001F600", "\uFF5E"}, obj.SortedKeys())
}

func TestUnmarshalIRValue(t *testing.T) {
	v, err := UnmarshalIRValue([]byte(`{"name":"north","rank":3,"open":true,"tags":["a","b"]}`))
	require.NoError(t, err)

	obj, ok := v.(IRObject)
	require.True(t, ok)
	assert.Equal(t, IRString("north"), obj["name"])
	assert.Equal(t, IRInt(3), obj["rank"])
	assert.Equal(t, IRBool(true), obj["open"])
	assert.Equal(t, IRArray{IRString("a"), IRString("b")}, obj["tags"])
}

func TestUnmarshalIRValueRejectsFloatsAndNull(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"float", `{"x": 1.5}`},
		{"exponent", `{"x": 1e3}`},
		{"null", `{"x": null}`},
		{"null in array", `[1, null]`},
		{"trailing data", `{} {}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalIRValue([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestUnmarshalIRObject(t *testing.T) {
	obj, err := UnmarshalIRObject([]byte("   "))
	require.NoError(t, err)
	assert.Empty(t, obj)

	obj, err = UnmarshalIRObject([]byte(`{"id": 7}`))
	require.NoError(t, err)
	assert.Equal(t, IRInt(7), obj["id"])

	_, err = UnmarshalIRObject([]byte(`[1, 2]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected JSON object")
}

func TestFromGoIntegralFloats(t *testing.T) {
	v, err := FromGo(float64(42))
	require.NoError(t, err)
	assert.Equal(t, IRInt(42), v)

	_, err = FromGo(0.5)
	assert.Error(t, err)

	v, err = FromGo(map[string]any{"n": 1, "s": "x", "b": false})
	require.NoError(t, err)
	assert.Equal(t, IRObject{"n": IRInt(1), "s": IRString("x"), "b": IRBool(false)}, v)
}

func TestMarshalIRValue(t *testing.T) {
	b, err := MarshalIRValue(IRObject{
		"b":    IRArray{IRInt(1), IRNull{}},
		"a":    IRString("x"),
		"flag": IRBool(true),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":[1,null],"flag":true}`, string(b))
}
