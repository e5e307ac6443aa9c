package lua

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/aarzilli/golua/lua"
)

// pushJSON decodes payload and pushes the result. Objects become tables with
// string keys, arrays become 1-based sequences.
func pushJSON(L *lua.State, payload string) error {
	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	pushValue(L, v)
	return nil
}

func pushValue(L *lua.State, v any) {
	switch val := v.(type) {
	case nil:
		L.PushNil()
	case bool:
		L.PushBoolean(val)
	case float64:
		L.PushNumber(val)
	case string:
		L.PushString(val)
	case []any:
		L.CreateTable(len(val), 0)
		for i, item := range val {
			pushValue(L, item)
			L.RawSeti(-2, i+1)
		}
	case map[string]any:
		L.CreateTable(0, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			pushValue(L, val[k])
			L.SetField(-2, k)
		}
	default:
		L.PushString(fmt.Sprint(val))
	}
}

// pushStrings pushes a sequence table of names.
func pushStrings(L *lua.State, items []string) {
	L.CreateTable(len(items), 0)
	for i, s := range items {
		L.PushString(s)
		L.RawSeti(-2, i+1)
	}
}
