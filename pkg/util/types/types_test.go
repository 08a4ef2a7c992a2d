package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONObject_Value(t *testing.T) {
	var empty JSONObject
	value, err := empty.Value()
	assert.Nil(t, err)
	assert.Equal(t, []byte("{}"), value)

	obj := JSONObject{"prop1": 5}
	value, err = obj.Value()
	assert.Nil(t, err)
	assert.Equal(t, []byte(`{"prop1":5}`), value)
}

func TestJSONObject_Scan(t *testing.T) {
	obj := JSONObject{}
	err := obj.Scan([]byte(`{"prop1": 5, "nested": {"a": "b"}}`))
	assert.Nil(t, err)
	assert.Equal(t, float64(5), obj["prop1"])
	assert.Equal(t, map[string]interface{}{"a": "b"}, obj["nested"])

	err = obj.Scan(nil)
	assert.Nil(t, err)
	assert.Len(t, obj, 0)

	err = obj.Scan(5)
	assert.NotNil(t, err)
}

func TestJSONRaw_Scan(t *testing.T) {
	var raw JSONRaw
	err := raw.Scan([]byte(`{"name":"demo"}`))
	assert.Nil(t, err)
	assert.Equal(t, `{"name":"demo"}`, string(raw))

	value, err := raw.Value()
	assert.Nil(t, err)
	assert.Equal(t, []byte(`{"name":"demo"}`), value)
}
