package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/liveq/internal/config"
	"github.com/roach88/liveq/internal/ir"
)

// marshalRowIDs converts row ids to canonical JSON TEXT for storage.
func marshalRowIDs(ids []int64) (string, error) {
	arr := make(ir.IRArray, len(ids))
	for i, id := range ids {
		arr[i] = ir.IRInt(id)
	}
	data, err := ir.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal row ids: %w", err)
	}
	return string(data), nil
}

// unmarshalRowIDs parses the canonical JSON TEXT written by marshalRowIDs.
func unmarshalRowIDs(data string) ([]int64, error) {
	ids := []int64{}
	if data == "" || data == "[]" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal row ids: %w", err)
	}
	return ids, nil
}

// scanValue converts a raw SQLite column value to an IRValue of the declared
// column type. NULL never appears: catalog columns are NOT NULL.
func scanValue(raw any, ct config.ColumnType) (ir.IRValue, error) {
	switch ct {
	case config.ColumnBool:
		n, ok := raw.(int64)
		if !ok {
			return nil, fmt.Errorf("bool column holds %T", raw)
		}
		return ir.IRBool(n != 0), nil
	case config.ColumnInt:
		n, ok := raw.(int64)
		if !ok {
			return nil, fmt.Errorf("int column holds %T", raw)
		}
		return ir.IRInt(n), nil
	case config.ColumnString:
		switch v := raw.(type) {
		case string:
			return ir.IRString(v), nil
		case []byte:
			return ir.IRString(v), nil
		default:
			return nil, fmt.Errorf("string column holds %T", raw)
		}
	default:
		return nil, fmt.Errorf("unsupported column type %q", ct)
	}
}
