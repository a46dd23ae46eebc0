package collection

import (
	"encoding/json"
	"slices"
)

// EncodeOrder serializes the display order of a parent's children.
// A nil list is written as an empty array.
func EncodeOrder(dirNames []string) ([]byte, error) {
	if dirNames == nil {
		dirNames = []string{}
	}
	return json.MarshalIndent(dirNames, "", "  ")
}

// DecodeOrder parses an order file; anything but an array of strings is a [*SchemaError]
func DecodeOrder(data []byte) ([]string, error) {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, &SchemaError{Reason: "order file is not an array of strings", Err: err}
	}
	return names, nil
}

// healOrder reconciles a listed order with the children actually present:
// unknown and duplicate entries are dropped, unlisted children are appended
// in lexical order. changed reports whether the result differs from listed.
func healOrder(listed []string, present map[string]bool) (healed []string, changed bool) {
	healed = make([]string, 0, len(present))
	seen := make(map[string]bool, len(present))
	for _, name := range listed {
		if !present[name] || seen[name] {
			changed = true
			continue
		}
		seen[name] = true
		healed = append(healed, name)
	}

	var missing []string
	for name := range present {
		if !seen[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		healed = append(healed, missing...)
		changed = true
	}
	return healed, changed
}
