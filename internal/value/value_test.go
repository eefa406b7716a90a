package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_NumbersKeepIntegers(t *testing.T) {
	v, err := Parse([]byte(`{"weight": 700, "ratio": 1.5, "big": 9007199254740993, "exp": 1e3}`))
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	assert.Equal(t, Int(700), obj["weight"])
	assert.Equal(t, Float(1.5), obj["ratio"])
	assert.Equal(t, Int(9007199254740993), obj["big"], "integers must not lose precision")
	assert.Equal(t, Float(1000), obj["exp"])
}

func TestParse_AllShapes(t *testing.T) {
	v, err := Parse([]byte(`{"s":"x","b":true,"n":null,"a":[1,"two",false],"o":{"k":"v"}}`))
	require.NoError(t, err)

	obj := v.(Object)
	assert.Equal(t, String("x"), obj["s"])
	assert.Equal(t, Bool(true), obj["b"])
	assert.Equal(t, Null{}, obj["n"])
	assert.Equal(t, Array{Int(1), String("two"), Bool(false)}, obj["a"])
	assert.Equal(t, Object{"k": String("v")}, obj["o"])
}

func TestObject_UnmarshalJSON_RejectsNonObject(t *testing.T) {
	var obj Object
	err := json.Unmarshal([]byte(`[1,2]`), &obj)
	assert.Error(t, err)
}

func TestObject_MarshalJSON_SortedKeys(t *testing.T) {
	obj := Of(O("b", Int(2)), O("a", String("x")), O("c", Array{Bool(true)}))
	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":2,"c":[true]}`, string(data))
}

func TestObject_Accessors(t *testing.T) {
	obj := Of(
		O("text", String("hello")),
		O("size", Int(12)),
		O("whole", Float(3)),
		O("frac", Float(3.5)),
		O("italic", Bool(true)),
		O("color", Of(O("r", Int(255)))),
	)

	s, ok := obj.String("text")
	assert.True(t, ok)
	assert.Equal(t, "hello", s)

	n, ok := obj.Int("size")
	assert.True(t, ok)
	assert.Equal(t, int64(12), n)

	n, ok = obj.Int("whole")
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)

	_, ok = obj.Int("frac")
	assert.False(t, ok)

	b, ok := obj.Bool("italic")
	assert.True(t, ok)
	assert.True(t, b)

	c, ok := obj.Object("color")
	assert.True(t, ok)
	r, _ := c.Int("r")
	assert.Equal(t, int64(255), r)

	_, ok = obj.String("missing")
	assert.False(t, ok)
}

func TestObject_CloneIsDeep(t *testing.T) {
	orig := Of(O("nested", Of(O("k", String("v")))), O("list", Array{Int(1)}))
	clone := orig.Clone()

	clone["nested"].(Object)["k"] = String("changed")
	clone["list"].(Array)[0] = Int(2)

	assert.Equal(t, String("v"), orig["nested"].(Object)["k"])
	assert.Equal(t, Int(1), orig["list"].(Array)[0])
	assert.Nil(t, Object(nil).Clone())
}

func TestObject_Without(t *testing.T) {
	obj := Of(O("id", String("#1")), O("action", String("x")), O("text", String("t")))
	rest := obj.Without("id", "action")
	assert.Equal(t, Object{"text": String("t")}, rest)
	assert.Len(t, obj, 3, "original untouched")
}

func TestFromAny_YAMLShapes(t *testing.T) {
	v, err := FromAny(map[string]any{
		"count": 3,
		"ratio": 0.5,
		"tags":  []any{"a", int64(2)},
		"none":  nil,
	})
	require.NoError(t, err)

	obj := v.(Object)
	assert.Equal(t, Int(3), obj["count"])
	assert.Equal(t, Float(0.5), obj["ratio"])
	assert.Equal(t, Array{String("a"), Int(2)}, obj["tags"])
	assert.Equal(t, Null{}, obj["none"])

	_, err = FromAny(struct{}{})
	assert.Error(t, err)
}

func TestToAny_RoundTrip(t *testing.T) {
	obj := Of(O("s", String("x")), O("n", Int(1)), O("a", Array{Bool(true), Null{}}))
	back, err := FromAny(ToAny(obj))
	require.NoError(t, err)
	assert.Equal(t, obj, back)
}

func TestSortedKeys_UTF16Order(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D 0xDE00, which sort before U+FFFD
	// in UTF-16 even though its UTF-8 encoding sorts after.
	obj := Object{"\uFFFD": Int(1), "\U0001F600": Int(2), "a": Int(3)}
	assert.Equal(t, []string{"a", "\U0001F600", "\uFFFD"}, obj.SortedKeys())
}
