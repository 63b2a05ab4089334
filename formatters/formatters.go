// Package formatters holds the payload formatter registry. A formatter
// rewrites a decoded bus message into the shape the ingress pipeline
// expects: envelope fields at the top level and the payload body under
// DATA. Formatters are registered before the client boots; there is no
// runtime code loading.
package formatters

import (
	"fmt"
	"strings"
)

// Formatter decodes an inbound message and optionally encodes outbound
// ones. Decode must not mutate its input.
type Formatter interface {
	Decode(msg map[string]any) (map[string]any, error)
}

// Encoder is implemented by formatters that also shape outbound messages.
type Encoder interface {
	Encode(msg map[string]any) (map[string]any, error)
}

// DefaultName is used when a message carries no EE_FORMATTER field.
const DefaultName = "raw"

// envelopeFields are the keys the raw formatter keeps at the top level;
// everything else moves under DATA.
var envelopeFields = map[string]bool{
	"EE_SIGN": true, "EE_SENDER": true, "EE_HASH": true,
	"EE_PAYLOAD_PATH": true, "EE_EVENT_TYPE": true, "EE_FORMATTER": true,
	"EE_MESSAGE_ID": true, "EE_MESSAGE_SEQ": true, "EE_TOTAL_MESSAGES": true,
	"EE_TIMESTAMP": true, "EE_TIMEZONE": true, "EE_TZ": true, "EE_ID": true,
	"EE_VERSION": true, "EE_EVENT_TAG": true, "EE_IS_ENCRYPTED": true,
	"EE_ENCRYPTED_DATA": true, "INITIATOR_ID": true, "SESSION_ID": true,
	"TIME": true,
}

// Registry maps lower-cased formatter names to implementations. Build it
// once, hand it to the client, never mutate afterwards.
type Registry struct {
	byName map[string]Formatter
}

// NewRegistry returns a registry pre-populated with the built-in raw and
// identity formatters.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Formatter)}
	r.Register("raw", rawFormatter{})
	r.Register("identity", identityFormatter{})
	return r
}

// Register adds or replaces a formatter. Names are case-insensitive.
func (r *Registry) Register(name string, f Formatter) {
	r.byName[strings.ToLower(name)] = f
}

// Lookup resolves a formatter name from an envelope. The empty name maps
// to the default; unknown names fail so the caller can drop the message
// with a warning.
func (r *Registry) Lookup(name string) (Formatter, error) {
	if name == "" {
		name = DefaultName
	}
	f, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("formatters: unknown formatter %q", name)
	}
	return f, nil
}

// rawFormatter keeps envelope keys at the top level and folds every other
// key into DATA.
type rawFormatter struct{}

func (rawFormatter) Decode(msg map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(envelopeFields)+1)
	data := make(map[string]any)
	for k, v := range msg {
		if envelopeFields[k] {
			out[k] = v
		} else {
			data[k] = v
		}
	}
	out["DATA"] = data
	return out, nil
}

// identityFormatter passes messages through untouched.
type identityFormatter struct{}

func (identityFormatter) Decode(msg map[string]any) (map[string]any, error) {
	return msg, nil
}
