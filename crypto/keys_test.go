package crypto

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/btcsuite/btcutil/bech32"
)

func bech32Encode(hrp string, payload []byte) (string, error) {
	conv, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, conv)
}

func TestAddressRoundTrip(t *testing.T) {
	var payload [20]byte
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	addr := MustNewAddress(payload)
	encoded := addr.String()
	if !strings.HasPrefix(encoded, "sb1") {
		t.Fatalf("encoded address %q missing sb prefix", encoded)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode address: %v", err)
	}
	if decoded.Prefix() != SBPrefix {
		t.Fatalf("decoded prefix = %q, want %q", decoded.Prefix(), SBPrefix)
	}
	if decoded.Array() != payload {
		t.Fatalf("payload mismatch after round trip")
	}
}

func TestDecodeAddressRejectsMalformedInput(t *testing.T) {
	if _, err := DecodeAddress("not-an-address"); err == nil {
		t.Fatalf("expected error for malformed string")
	}
	// Valid bech32 with a short payload must be rejected, not panic.
	short, err := bech32Encode("sb", []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if _, err := DecodeAddress(short); err == nil {
		t.Fatalf("expected error for short payload")
	}
}

func TestPublicKeyAddressIsStable(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	first := key.PubKey().Address()
	second := key.PubKey().Address()
	if first.String() != second.String() {
		t.Fatalf("address derivation is not deterministic")
	}
	if first.Prefix() != SBPrefix {
		t.Fatalf("derived prefix = %q", first.Prefix())
	}

	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore key: %v", err)
	}
	if restored.PubKey().Address().String() != first.String() {
		t.Fatalf("restored key derives a different address")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "nested", "holder.json")
	if err := SaveToKeystore(path, key, "correct horse"); err != nil {
		t.Fatalf("save keystore: %v", err)
	}

	if _, err := LoadFromKeystore(path, "wrong passphrase"); err == nil {
		t.Fatalf("expected decrypt failure for wrong passphrase")
	}

	loaded, err := LoadFromKeystore(path, "correct horse")
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	if loaded.PubKey().Address().String() != key.PubKey().Address().String() {
		t.Fatalf("keystore round trip changed the key")
	}
}
