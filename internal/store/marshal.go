package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/tempo/internal/ir"
)

// marshalPayload converts a schedule payload to canonical JSON TEXT.
// A nil payload is stored as JSON null.
func marshalPayload(v ir.IRValue) (string, error) {
	if v == nil {
		v = ir.IRNull{}
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// unmarshalPayload parses canonical JSON TEXT back to an IRValue.
// Uses ir.UnmarshalIRValue which keeps integers exact above 2^53.
func unmarshalPayload(data string) (ir.IRValue, error) {
	if data == "" {
		return ir.IRNull{}, nil
	}
	v, err := ir.UnmarshalIRValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return v, nil
}

// marshalTriggers stores the present-trigger list of an instant as a JSON
// array, preserving order.
func marshalTriggers(names []string) (string, error) {
	arr := make(ir.IRArray, len(names))
	for i, name := range names {
		arr[i] = ir.IRString(name)
	}
	data, err := ir.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal triggers: %w", err)
	}
	return string(data), nil
}

func unmarshalTriggers(data string) ([]string, error) {
	names := []string{}
	if data == "" {
		return names, nil
	}
	if err := json.Unmarshal([]byte(data), &names); err != nil {
		return nil, fmt.Errorf("unmarshal triggers: %w", err)
	}
	return names, nil
}

// marshalStats converts RunStats to JSON TEXT. RunStats is a struct, so
// field order is fixed by its declaration and the output is stable.
func marshalStats(stats ir.RunStats) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(stats); err != nil {
		return "", fmt.Errorf("marshal stats: %w", err)
	}
	// Encoder adds a trailing newline
	return strings.TrimSpace(buf.String()), nil
}

func unmarshalStats(data string) (ir.RunStats, error) {
	var stats ir.RunStats
	if data == "" {
		return stats, nil
	}
	if err := json.Unmarshal([]byte(data), &stats); err != nil {
		return ir.RunStats{}, fmt.Errorf("unmarshal stats: %w", err)
	}
	return stats, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
