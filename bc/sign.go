package bc

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// sigEncoding encodes DER signatures on the wire.
var sigEncoding = base64.RawURLEncoding

// HashObject computes the canonical identity of the data portion of a
// message: lowercase hex sha-256 of the stable JSON with the envelope
// fields removed.
func HashObject(obj map[string]any) (string, error) {
	data := make(map[string]any, len(obj))
	for k, v := range obj {
		if k == KeySignature || k == KeySender || k == KeyHash {
			continue
		}
		data[k] = v
	}
	canonical, err := StableJSON(data)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(canonical)
	return hex.EncodeToString(digest[:]), nil
}

// Sign returns a copy of obj extended with the EE_SIGN / EE_SENDER /
// EE_HASH envelope fields. The signature covers the stable-JSON hash of
// the non-envelope fields, so any verifier can recompute it.
func (id *Identity) Sign(obj map[string]any) (map[string]any, error) {
	if id.priv == nil {
		return nil, ErrNoPrivateKey
	}
	hashHex, err := HashObject(obj)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}
	digest, _ := hex.DecodeString(hashHex)
	sig := ecdsa.Sign(id.priv, digest)

	out := make(map[string]any, len(obj)+3)
	for k, v := range obj {
		out[k] = v
	}
	out[KeyHash] = hashHex
	out[KeySignature] = sigEncoding.EncodeToString(sig.Serialize())
	out[KeySender] = id.addr
	return out, nil
}

// SignJSON signs obj and returns the serialized envelope.
func (id *Identity) SignJSON(obj map[string]any) ([]byte, error) {
	signed, err := id.Sign(obj)
	if err != nil {
		return nil, err
	}
	return json.Marshal(signed)
}

// Verify checks a received envelope: the recomputed stable hash must
// match EE_HASH and the DER signature must verify against the sender's
// public key. Any parse failure counts as a failed verification.
func Verify(message []byte) bool {
	var obj map[string]any
	if err := json.Unmarshal(message, &obj); err != nil {
		return false
	}
	return VerifyMap(obj)
}

// VerifyMap is Verify for an already-parsed envelope.
func VerifyMap(obj map[string]any) bool {
	sender, _ := obj[KeySender].(string)
	sigB64, _ := obj[KeySignature].(string)
	wantHash, _ := obj[KeyHash].(string)
	if sender == "" || sigB64 == "" || wantHash == "" {
		return false
	}
	gotHash, err := HashObject(obj)
	if err != nil || gotHash != strings.ToLower(wantHash) {
		return false
	}
	pub, err := PublicKeyFromAddress(sender)
	if err != nil {
		return false
	}
	rawSig, err := sigEncoding.DecodeString(sigB64)
	if err != nil {
		rawSig, err = base64.URLEncoding.DecodeString(sigB64)
		if err != nil {
			return false
		}
	}
	sig, err := ecdsa.ParseDERSignature(rawSig)
	if err != nil {
		return false
	}
	digest, err := hex.DecodeString(gotHash)
	if err != nil {
		return false
	}
	return sig.Verify(digest, pub)
}
