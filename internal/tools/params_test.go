package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownParams(t *testing.T) {
	known := []string{"query", "limit"}
	tests := []struct {
		name string
		args json.RawMessage
		want []string
	}{
		{"empty args", json.RawMessage(`{}`), nil},
		{"all known keys", json.RawMessage(`{"query":"art","limit":2}`), nil},
		{"one unknown key", json.RawMessage(`{"query":"art","ages":"5"}`), []string{"ages"}},
		{"sorted", json.RawMessage(`{"z":1,"a":2,"query":"x"}`), []string{"a", "z"}},
		{"not an object", json.RawMessage(`[1,2]`), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, unknownParams(tt.args, known))
		})
	}
}

func TestSchemaKeys(t *testing.T) {
	spec := newToolSpec[searchActivitiesArgs]("x", "y")
	assert.Equal(t, []string{"activity_type", "indoor_outdoor", "limit", "query"}, spec.keys)
}

func TestDecodeArgs(t *testing.T) {
	spec := newToolSpec[generateFromSuppliesArgs](GenerateFromSuppliesToolName, "")

	args, err := decodeArgs[generateFromSuppliesArgs](nil, spec, json.RawMessage(`{"supplies":["yarn"],"age_group":"7","mystery":true}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"yarn"}, args.Supplies)

	_, err = decodeArgs[generateFromSuppliesArgs](nil, spec, nil)
	require.Error(t, err)
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ErrInvalidParams, te.Type)
	assert.Equal(t, "supplies is required; age_group is required", te.Message)

	_, err = decodeArgs[generateFromSuppliesArgs](nil, spec, json.RawMessage(`{"supplies":"yarn"}`))
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Message, "invalid arguments")

	_, err = decodeArgs[generateFromSuppliesArgs](nil, spec, json.RawMessage(`{"supplies":["a"],"age_group":"7","indoor_outdoor":"roof"}`))
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "indoor_outdoor must be one of: indoor, outdoor, either", te.Message)
}
