package bc

import (
	"crypto/sha256"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Identity is a secp256k1 keypair together with its derived network
// address. All signing, verification and encryption in the SDK goes
// through an Identity.
type Identity struct {
	priv *secp256k1.PrivateKey
	addr string
}

// NewIdentity generates a fresh keypair.
func NewIdentity() (*Identity, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return IdentityFromPrivateKey(priv), nil
}

// IdentityFromPrivateKey wraps an existing private key.
func IdentityFromPrivateKey(priv *secp256k1.PrivateKey) *Identity {
	return &Identity{
		priv: priv,
		addr: AddressFromPublicKey(priv.PubKey()),
	}
}

// IdentityFromDERHex loads a hex-encoded DER private key, either PKCS#8
// or a bare SEC1 EC key.
func IdentityFromDERHex(s string) (*Identity, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode key hex: %w", err)
	}
	priv, err := parsePrivateKeyDER(raw)
	if err != nil {
		return nil, err
	}
	return IdentityFromPrivateKey(priv), nil
}

// IdentityFromPEM loads a PEM-encoded private key.
func IdentityFromPEM(data []byte) (*Identity, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("bc: no PEM block found")
	}
	priv, err := parsePrivateKeyDER(block.Bytes)
	if err != nil {
		return nil, err
	}
	return IdentityFromPrivateKey(priv), nil
}

// IdentityFromSecretWords derives a deterministic private key from a word
// list: sha256 of the ";"-joined words, reduced modulo the curve order.
func IdentityFromSecretWords(words []string) (*Identity, error) {
	digest := sha256.Sum256([]byte(strings.Join(words, ";")))
	var scalar secp256k1.ModNScalar
	scalar.SetByteSlice(digest[:])
	if scalar.IsZero() {
		return nil, errors.New("bc: secret words derive a zero scalar")
	}
	return IdentityFromPrivateKey(secp256k1.NewPrivateKey(&scalar)), nil
}

// Address returns the canonical network address of this identity.
func (id *Identity) Address() string { return id.addr }

// PublicKey returns the secp256k1 public key.
func (id *Identity) PublicKey() *secp256k1.PublicKey { return id.priv.PubKey() }

// PublicKeyHex returns the compressed public key as lowercase hex.
func (id *Identity) PublicKeyHex() string {
	return hex.EncodeToString(id.priv.PubKey().SerializeCompressed())
}

// PrivateKeyDER returns the PKCS#8 DER encoding of the private key.
func (id *Identity) PrivateKeyDER() ([]byte, error) {
	return marshalPKCS8(id.priv)
}

// PrivateKeyDERHex returns the PKCS#8 DER encoding as lowercase hex.
func (id *Identity) PrivateKeyDERHex() (string, error) {
	der, err := marshalPKCS8(id.priv)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(der), nil
}

// PrivateKeyPEM returns the PKCS#8 key wrapped in a PEM block.
func (id *Identity) PrivateKeyPEM() (string, error) {
	der, err := marshalPKCS8(id.priv)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// PKCS#8 / SEC1 plumbing. The stdlib x509 parsers reject the secp256k1
// curve outright, so the two small ASN.1 shapes are handled here.

var (
	oidPublicKeyECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidCurveSecp256k1 = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
)

type pkcs8Key struct {
	Version    int
	Algo       pkix.AlgorithmIdentifier
	PrivateKey []byte
}

type sec1Key struct {
	Version       int
	PrivateKey    []byte
	NamedCurveOID asn1.ObjectIdentifier `asn1:"optional,explicit,tag:0"`
	PublicKey     asn1.BitString        `asn1:"optional,explicit,tag:1"`
}

func marshalPKCS8(priv *secp256k1.PrivateKey) ([]byte, error) {
	inner, err := asn1.Marshal(sec1Key{
		Version:    1,
		PrivateKey: priv.Serialize(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal EC key: %w", err)
	}
	params, err := asn1.Marshal(oidCurveSecp256k1)
	if err != nil {
		return nil, fmt.Errorf("marshal curve OID: %w", err)
	}
	out, err := asn1.Marshal(pkcs8Key{
		Version: 0,
		Algo: pkix.AlgorithmIdentifier{
			Algorithm:  oidPublicKeyECDSA,
			Parameters: asn1.RawValue{FullBytes: params},
		},
		PrivateKey: inner,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal PKCS#8: %w", err)
	}
	return out, nil
}

func parsePrivateKeyDER(der []byte) (*secp256k1.PrivateKey, error) {
	var p8 pkcs8Key
	if _, err := asn1.Unmarshal(der, &p8); err == nil && len(p8.PrivateKey) > 0 {
		var ec sec1Key
		if _, err := asn1.Unmarshal(p8.PrivateKey, &ec); err != nil {
			return nil, fmt.Errorf("parse inner EC key: %w", err)
		}
		return privKeyFromScalarBytes(ec.PrivateKey)
	}
	var ec sec1Key
	if _, err := asn1.Unmarshal(der, &ec); err != nil {
		return nil, fmt.Errorf("parse private key DER: %w", err)
	}
	return privKeyFromScalarBytes(ec.PrivateKey)
}

func privKeyFromScalarBytes(b []byte) (*secp256k1.PrivateKey, error) {
	if len(b) == 0 || len(b) > 32 {
		return nil, errors.New("bc: invalid private scalar length")
	}
	var buf [32]byte
	copy(buf[32-len(b):], b)
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetBytes(&buf); overflow != 0 {
		return nil, errors.New("bc: private scalar out of range")
	}
	if scalar.IsZero() {
		return nil, errors.New("bc: zero private scalar")
	}
	return secp256k1.NewPrivateKey(&scalar), nil
}
