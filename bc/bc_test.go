package bc

import (
	"encoding/json"
	"strings"
	"testing"
)

func testIdentity(t *testing.T, words ...string) *Identity {
	t.Helper()
	id, err := IdentityFromSecretWords(words)
	if err != nil {
		t.Fatalf("IdentityFromSecretWords: %v", err)
	}
	return id
}

// ── Address codec ────────────────────────────────────────────────────────────

func TestAddressRoundTrip(t *testing.T) {
	id := testIdentity(t, "alpha", "beta", "gamma")
	addr := id.Address()

	if !strings.HasPrefix(addr, AddressPrefix) {
		t.Fatalf("address %q missing canonical prefix", addr)
	}
	pub, err := PublicKeyFromAddress(addr)
	if err != nil {
		t.Fatalf("PublicKeyFromAddress: %v", err)
	}
	if got := AddressFromPublicKey(pub); got != addr {
		t.Errorf("round trip: got %q want %q", got, addr)
	}
}

func TestAddressLegacyPrefix(t *testing.T) {
	id := testIdentity(t, "legacy")
	legacy := LegacyAddressPrefix + id.Address()[len(AddressPrefix):]

	canonical, err := CanonicalAddress(legacy)
	if err != nil {
		t.Fatalf("CanonicalAddress(legacy): %v", err)
	}
	if canonical != id.Address() {
		t.Errorf("canonicalized: got %q want %q", canonical, id.Address())
	}
}

func TestAddressMalformed(t *testing.T) {
	for _, addr := range []string{
		"",
		"0xbad_AAAA",
		AddressPrefix + "!!!not-base64!!!",
		AddressPrefix, // empty body
	} {
		if _, err := PublicKeyFromAddress(addr); err == nil {
			t.Errorf("PublicKeyFromAddress(%q): expected error", addr)
		}
	}
}

// ── Stable JSON ──────────────────────────────────────────────────────────────

func TestStableJSONKeyOrder(t *testing.T) {
	a := map[string]any{"b": 1.0, "a": map[string]any{"z": true, "y": "x"}}
	b := map[string]any{"a": map[string]any{"y": "x", "z": true}, "b": 1.0}

	ja, err := StableJSON(a)
	if err != nil {
		t.Fatalf("StableJSON: %v", err)
	}
	jb, err := StableJSON(b)
	if err != nil {
		t.Fatalf("StableJSON: %v", err)
	}
	if string(ja) != string(jb) {
		t.Errorf("stable form differs: %s vs %s", ja, jb)
	}
	want := `{"a":{"y":"x","z":true},"b":1}`
	if string(ja) != want {
		t.Errorf("stable form: got %s want %s", ja, want)
	}
}

func TestStableJSONKeepsHTMLCharacters(t *testing.T) {
	out, err := StableJSON(map[string]any{"MSG": "a<b>&c"})
	if err != nil {
		t.Fatalf("StableJSON: %v", err)
	}
	want := `{"MSG":"a<b>&c"}`
	if string(out) != want {
		t.Errorf("stable form: got %s want %s", out, want)
	}

	out, err = StableJSON(map[string]any{"a<&>b": "v"})
	if err != nil {
		t.Fatalf("StableJSON: %v", err)
	}
	want = `{"a<&>b":"v"}`
	if string(out) != want {
		t.Errorf("stable form: got %s want %s", out, want)
	}
}

func TestStableJSONNoWhitespace(t *testing.T) {
	out, err := StableJSON(map[string]any{"k": []any{1.0, "two", nil}})
	if err != nil {
		t.Fatalf("StableJSON: %v", err)
	}
	if strings.ContainsAny(string(out), " \n\t") {
		t.Errorf("output contains whitespace: %s", out)
	}
}

func TestHashIgnoresEnvelopeFields(t *testing.T) {
	base := map[string]any{"SERVER": "gts-test", "COMMAND": "UPDATE_CONFIG"}
	withEnvelope := map[string]any{
		"SERVER": "gts-test", "COMMAND": "UPDATE_CONFIG",
		KeySender: "0xai_xxx", KeySignature: "sig", KeyHash: "deadbeef",
	}
	h1, err := HashObject(base)
	if err != nil {
		t.Fatalf("HashObject: %v", err)
	}
	h2, err := HashObject(withEnvelope)
	if err != nil {
		t.Fatalf("HashObject: %v", err)
	}
	if h1 != h2 {
		t.Errorf("envelope fields leaked into the hash: %s vs %s", h1, h2)
	}
}

// ── Sign / verify ────────────────────────────────────────────────────────────

func TestSignVerifyRoundTrip(t *testing.T) {
	id := testIdentity(t, "gts", "test")
	msg := map[string]any{
		"SERVER":  "gts-test",
		"COMMAND": "UPDATE_CONFIG",
		"PAYLOAD": map[string]any{"GIGI": "BUNA"},
	}
	signed, err := id.SignJSON(msg)
	if err != nil {
		t.Fatalf("SignJSON: %v", err)
	}
	if !Verify(signed) {
		t.Fatal("signed envelope does not verify")
	}
}

func TestVerifyLegacySenderPrefix(t *testing.T) {
	id := testIdentity(t, "legacy", "sender")
	signed, err := id.Sign(map[string]any{"PING": true})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sender := signed[KeySender].(string)
	signed[KeySender] = LegacyAddressPrefix + sender[len(AddressPrefix):]
	if !VerifyMap(signed) {
		t.Error("legacy sender prefix rejected")
	}
}

func TestVerifyTamperedHash(t *testing.T) {
	id := testIdentity(t, "tamper")
	signed, err := id.Sign(map[string]any{"N": 42.0})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	h := signed[KeyHash].(string)
	flip := "0"
	if h[0] == '0' {
		flip = "1"
	}
	signed[KeyHash] = flip + h[1:]
	if VerifyMap(signed) {
		t.Error("tampered hash verified")
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	id := testIdentity(t, "payload")
	signed, err := id.SignJSON(map[string]any{"VALUE": "original"})
	if err != nil {
		t.Fatalf("SignJSON: %v", err)
	}
	mutated := []byte(strings.Replace(string(signed), "original", "Original", 1))
	if Verify(mutated) {
		t.Error("mutated payload verified")
	}
}

func TestVerifyGarbage(t *testing.T) {
	if Verify([]byte("not json at all")) {
		t.Error("garbage verified")
	}
	if Verify([]byte(`{"EE_SENDER":"0xai_x","EE_SIGN":"y"}`)) {
		t.Error("incomplete envelope verified")
	}
}

// ── Encryption ───────────────────────────────────────────────────────────────

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice := testIdentity(t, "alice")
	bob := testIdentity(t, "bob")

	plaintext := []byte(`{"ACTION":"UPDATE_CONFIG","PAYLOAD":{"K":1}}`)
	sealed, err := alice.EncryptFor(plaintext, bob.Address())
	if err != nil {
		t.Fatalf("EncryptFor: %v", err)
	}
	got, ok := bob.DecryptFrom(sealed, alice.Address())
	if !ok {
		t.Fatal("DecryptFrom failed")
	}
	if string(got) != string(plaintext) {
		t.Errorf("plaintext: got %q want %q", got, plaintext)
	}
}

func TestDecryptWrongPeer(t *testing.T) {
	alice := testIdentity(t, "alice")
	bob := testIdentity(t, "bob")
	eve := testIdentity(t, "eve")

	sealed, err := alice.EncryptFor([]byte("secret"), bob.Address())
	if err != nil {
		t.Fatalf("EncryptFor: %v", err)
	}
	if _, ok := eve.DecryptFrom(sealed, alice.Address()); ok {
		t.Error("wrong recipient decrypted the message")
	}
	if _, ok := bob.DecryptFrom(sealed, eve.Address()); ok {
		t.Error("wrong claimed sender decrypted the message")
	}
}

func TestDecryptCorrupted(t *testing.T) {
	alice := testIdentity(t, "alice")
	bob := testIdentity(t, "bob")

	sealed, err := alice.EncryptFor([]byte("secret"), bob.Address())
	if err != nil {
		t.Fatalf("EncryptFor: %v", err)
	}
	if _, ok := bob.DecryptFrom("@@not-base64@@", alice.Address()); ok {
		t.Error("bad base64 decrypted")
	}
	if _, ok := bob.DecryptFrom(sealed[:len(sealed)/2], alice.Address()); ok {
		t.Error("truncated ciphertext decrypted")
	}
}

// ── Key material ─────────────────────────────────────────────────────────────

func TestSecretWordsDeterministic(t *testing.T) {
	a := testIdentity(t, "one", "two", "three")
	b := testIdentity(t, "one", "two", "three")
	c := testIdentity(t, "one", "two", "four")

	if a.Address() != b.Address() {
		t.Errorf("same words, different addresses: %q vs %q", a.Address(), b.Address())
	}
	if a.Address() == c.Address() {
		t.Error("different words produced the same address")
	}
}

func TestPrivateKeyDERRoundTrip(t *testing.T) {
	id := testIdentity(t, "der", "round", "trip")
	derHex, err := id.PrivateKeyDERHex()
	if err != nil {
		t.Fatalf("PrivateKeyDERHex: %v", err)
	}
	loaded, err := IdentityFromDERHex(derHex)
	if err != nil {
		t.Fatalf("IdentityFromDERHex: %v", err)
	}
	if loaded.Address() != id.Address() {
		t.Errorf("DER round trip: got %q want %q", loaded.Address(), id.Address())
	}
}

func TestPrivateKeyPEMRoundTrip(t *testing.T) {
	id := testIdentity(t, "pem", "round", "trip")
	pemText, err := id.PrivateKeyPEM()
	if err != nil {
		t.Fatalf("PrivateKeyPEM: %v", err)
	}
	loaded, err := IdentityFromPEM([]byte(pemText))
	if err != nil {
		t.Fatalf("IdentityFromPEM: %v", err)
	}
	if loaded.Address() != id.Address() {
		t.Errorf("PEM round trip: got %q want %q", loaded.Address(), id.Address())
	}
}

func TestSignedEnvelopeIsValidJSON(t *testing.T) {
	id := testIdentity(t, "json")
	signed, err := id.SignJSON(map[string]any{"A": []any{1.0, 2.0}})
	if err != nil {
		t.Fatalf("SignJSON: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(signed, &obj); err != nil {
		t.Fatalf("unmarshal signed envelope: %v", err)
	}
	for _, k := range []string{KeySender, KeySignature, KeyHash} {
		if _, ok := obj[k]; !ok {
			t.Errorf("envelope missing %s", k)
		}
	}
}
