package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// DecodeArguments converts a JSON object of tool input into string arguments.
// Strings are kept verbatim, other scalars use their JSON text, and nested
// values are re-encoded as compact JSON.
func DecodeArguments(raw json.RawMessage) (map[string]string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return map[string]string{}, nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: invalid tool input json", ErrInvalidRequest)
	}

	obj := map[string]json.RawMessage{}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("decode tool input: %w", err)
	}

	args := make(map[string]string, len(obj))
	for key, value := range obj {
		var text string
		if err := json.Unmarshal(value, &text); err == nil {
			args[key] = text
			continue
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, value); err != nil {
			return nil, fmt.Errorf("decode tool input %q: %w", key, err)
		}
		args[key] = compact.String()
	}
	return args, nil
}

// EncodeArguments serializes string arguments as a JSON object.
func EncodeArguments(args map[string]string) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage("{}")
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}

// ArgumentsAsAny widens string arguments for SDKs that expect map[string]any.
func ArgumentsAsAny(args map[string]string) map[string]any {
	out := make(map[string]any, len(args))
	for key, value := range args {
		out[key] = value
	}
	return out
}

// FormatArguments renders arguments as key="value" pairs in sorted key order.
func FormatArguments(args map[string]string) string {
	keys := slices.Sorted(maps.Keys(args))
	var buf bytes.Buffer
	for i, key := range keys {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(key)
		buf.WriteByte('=')
		buf.WriteString(strconv.Quote(args[key]))
	}
	return buf.String()
}
