package bc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// StableJSON serializes v into the canonical form the network hashes and
// signs: object keys sorted lexicographically at every depth, no
// insignificant whitespace, standard JSON number formatting and string
// escaping. The output is byte-identical across SDKs for equal content,
// which is what makes the envelope hash verifiable.
func StableJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeStable(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// marshalNoEscape is json.Marshal without the HTML escaping of < > &.
// The other SDKs emit those characters verbatim; escaping them here
// would change the hash of any payload that contains them.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func writeStable(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := marshalNoEscape(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeStable(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeStable(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case nil:
		buf.WriteString("null")
		return nil
	default:
		// Leaves (strings, numbers, bools) and any typed value that is not
		// a generic map or slice: round-trip through encoding/json so that
		// structs and json.RawMessage still normalize to the stable form.
		raw, err := marshalNoEscape(t)
		if err != nil {
			return fmt.Errorf("stable json: %w", err)
		}
		if len(raw) > 0 && (raw[0] == '{' || raw[0] == '[') {
			var generic any
			if err := json.Unmarshal(raw, &generic); err != nil {
				return fmt.Errorf("stable json: %w", err)
			}
			return writeStable(buf, generic)
		}
		buf.Write(raw)
		return nil
	}
}
