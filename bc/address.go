package bc

import (
	"encoding/base64"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// addrEncoding encodes the compressed public key portion of an address.
// The wire format uses the URL-safe alphabet without padding.
var addrEncoding = base64.RawURLEncoding

// AddressFromPublicKey returns the canonical network address for a public
// key: the fixed prefix followed by the url-safe base64 of the 33-byte
// compressed point.
func AddressFromPublicKey(pub *secp256k1.PublicKey) string {
	return AddressPrefix + addrEncoding.EncodeToString(pub.SerializeCompressed())
}

// PublicKeyFromAddress is the inverse of AddressFromPublicKey. The legacy
// prefix is accepted on ingest; anything else fails with
// ErrMalformedAddress.
func PublicKeyFromAddress(addr string) (*secp256k1.PublicKey, error) {
	body, ok := stripAddressPrefix(addr)
	if !ok {
		return nil, ErrMalformedAddress
	}
	raw, err := addrEncoding.DecodeString(body)
	if err != nil {
		// Older SDKs occasionally emit padded addresses.
		raw, err = base64.URLEncoding.DecodeString(body)
		if err != nil {
			return nil, ErrMalformedAddress
		}
	}
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, ErrMalformedAddress
	}
	return pub, nil
}

// IsAddress reports whether s carries the canonical address prefix.
func IsAddress(s string) bool {
	return strings.HasPrefix(s, AddressPrefix)
}

// CanonicalAddress re-encodes any accepted address form (canonical or
// legacy prefix) into the canonical one.
func CanonicalAddress(addr string) (string, error) {
	pub, err := PublicKeyFromAddress(addr)
	if err != nil {
		return "", err
	}
	return AddressFromPublicKey(pub), nil
}

func stripAddressPrefix(addr string) (string, bool) {
	if strings.HasPrefix(addr, AddressPrefix) {
		return addr[len(AddressPrefix):], true
	}
	if strings.HasPrefix(addr, LegacyAddressPrefix) {
		return addr[len(LegacyAddressPrefix):], true
	}
	return "", false
}
