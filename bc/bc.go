// Package bc implements the blockchain identity primitives of the Naeural
// edge network: secp256k1 keypairs bound to human-readable addresses,
// deterministic message hashing over a stable JSON form, DER ECDSA
// signatures, and ECDH-derived AES-256-GCM message encryption.
//
// Every message that crosses the bus carries the envelope fields produced
// by (*Identity).Sign and checked by Verify.
package bc

import "errors"

// Envelope field names. These are wire constants shared with every other
// SDK on the network; do not rename.
const (
	KeySignature = "EE_SIGN"
	KeySender    = "EE_SENDER"
	KeyHash      = "EE_HASH"
)

const (
	// AddressPrefix is the canonical prefix emitted for every address.
	AddressPrefix = "0xai_"
	// LegacyAddressPrefix is accepted on ingest only.
	LegacyAddressPrefix = "aixp_"
)

// hkdfInfo is the fixed HKDF info string of the network's handshake.
const hkdfInfo = "0xai handshake data"

var (
	ErrMalformedAddress = errors.New("bc: malformed address")
	ErrNoPrivateKey     = errors.New("bc: identity has no private key")
)
