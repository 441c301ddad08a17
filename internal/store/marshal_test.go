package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/liveq/internal/config"
	"github.com/roach88/liveq/internal/ir"
)

func TestRowIDsRoundTrip(t *testing.T) {
	data, err := marshalRowIDs([]int64{3, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, "[3,1,2]", data)

	ids, err := unmarshalRowIDs(data)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, ids)

	ids, err = unmarshalRowIDs("[]")
	require.NoError(t, err)
	assert.Equal(t, []int64{}, ids)
}

func TestScanValue(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		ct   config.ColumnType
		want ir.IRValue
	}{
		{"bool true", int64(1), config.ColumnBool, ir.IRBool(true)},
		{"bool false", int64(0), config.ColumnBool, ir.IRBool(false)},
		{"int", int64(-4), config.ColumnInt, ir.IRInt(-4)},
		{"string", "x", config.ColumnString, ir.IRString("x")},
		{"bytes", []byte("y"), config.ColumnString, ir.IRString("y")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := scanValue(tt.raw, tt.ct)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := scanValue(nil, config.ColumnInt)
	assert.Error(t, err)
}
