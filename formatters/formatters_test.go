package formatters

import "testing"

func TestRawFormatterSplit(t *testing.T) {
	msg := map[string]any{
		"EE_SENDER":       "0xai_abc",
		"EE_SIGN":         "sig",
		"EE_HASH":         "hash",
		"EE_PAYLOAD_PATH": []any{"node", nil, nil, nil},
		"EE_EVENT_TYPE":   "HEARTBEAT",
		"ENCODED_DATA":    "eJxLy8kv",
	}
	r := NewRegistry()
	f, err := r.Lookup("")
	if err != nil {
		t.Fatalf("Lookup default: %v", err)
	}
	out, err := f.Decode(msg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out["EE_SENDER"] != "0xai_abc" {
		t.Error("envelope field not kept at top level")
	}
	if _, ok := out["ENCODED_DATA"]; ok {
		t.Error("payload field left at top level")
	}
	data, ok := out["DATA"].(map[string]any)
	if !ok {
		t.Fatal("DATA missing")
	}
	if data["ENCODED_DATA"] != "eJxLy8kv" {
		t.Errorf("DATA.ENCODED_DATA: got %v", data["ENCODED_DATA"])
	}
}

func TestLookupCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Lookup("RAW"); err != nil {
		t.Errorf("Lookup(RAW): %v", err)
	}
	if _, err := r.Lookup("Identity"); err != nil {
		t.Errorf("Lookup(Identity): %v", err)
	}
}

func TestLookupUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Lookup("cavi2"); err == nil {
		t.Error("expected error for unknown formatter")
	}
}

func TestIdentityFormatterPassThrough(t *testing.T) {
	r := NewRegistry()
	f, _ := r.Lookup("identity")
	in := map[string]any{"A": 1.0}
	out, err := f.Decode(in)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out["A"] != 1.0 {
		t.Error("identity formatter altered the message")
	}
}

type upperFormatter struct{}

func (upperFormatter) Decode(msg map[string]any) (map[string]any, error) { return msg, nil }

func TestRegisterCustom(t *testing.T) {
	r := NewRegistry()
	r.Register("Cavi2", upperFormatter{})
	if _, err := r.Lookup("cavi2"); err != nil {
		t.Errorf("custom formatter not found: %v", err)
	}
}
