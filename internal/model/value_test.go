package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Value
		wantErr string
	}{
		{"null", "null", Null{}, ""},
		{"string", `"x"`, String("x"), ""},
		{"int", "12", Int(12), ""},
		{"bool", "false", Bool(false), ""},
		{"array", `[1,"a"]`, Array{Int(1), String("a")}, ""},
		{"object", `{"k":{"n":1}}`, Object{"k": Object{"n": Int(1)}}, ""},
		{"float", "1.5", nil, "floats are not allowed"},
		{"exponent", "1e3", nil, "floats are not allowed"},
		{"overflow", "99999999999999999999", nil, "out of int64 range"},
		{"nested float", `{"a":[0.1]}`, nil, "floats are not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseValue([]byte(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToValue(t *testing.T) {
	v, err := ToValue(map[string]any{"n": 3, "list": []any{"a", uint64(4)}})
	require.NoError(t, err)
	assert.Equal(t, Object{"n": Int(3), "list": Array{String("a"), Int(4)}}, v)

	_, err = ToValue(uint64(1) << 63)
	require.Error(t, err)

	_, err = ToValue(struct{}{})
	require.Error(t, err)
}

func TestObjectJSON(t *testing.T) {
	obj := Object{"b": Int(1), "a": Array{Bool(true), Null{}}}
	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[true,null],"b":1}`, string(data))

	var back Object
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, obj, back)
}

func TestObjectClone(t *testing.T) {
	orig := Object{"inner": Object{"n": Int(1)}, "list": Array{Int(1)}}
	clone := orig.Clone()

	clone["inner"].(Object)["n"] = Int(2)
	clone["list"].(Array)[0] = Int(2)

	assert.Equal(t, Int(1), orig["inner"].(Object)["n"])
	assert.Equal(t, Int(1), orig["list"].(Array)[0])
	assert.Nil(t, Object(nil).Clone())
}

func TestObjectFromMap(t *testing.T) {
	obj, err := ObjectFromMap(nil)
	require.NoError(t, err)
	assert.Equal(t, Object{}, obj)

	obj, err = ObjectFromMap(map[string]any{"name": "Hammer"})
	require.NoError(t, err)
	assert.Equal(t, Object{"name": String("Hammer")}, obj)
}
