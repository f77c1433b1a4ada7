package bech32

import "testing"

func TestEncodeDecodeRoundtrip(t *testing.T) {
	data, err := ConvertBits([]byte{0xde, 0xad, 0xbe, 0xef}, 8, 5, true)
	if err != nil {
		t.Fatalf("ConvertBits: %v", err)
	}

	encoded, err := Encode("npub", data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	t.Logf("encoded: %s", encoded)

	hrp, decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if hrp != "npub" {
		t.Errorf("hrp = %q, want %q", hrp, "npub")
	}
	if len(decoded) != len(data) {
		t.Fatalf("decoded length = %d, want %d", len(decoded), len(data))
	}
	for i := range data {
		if decoded[i] != data[i] {
			t.Errorf("decoded[%d] = %d, want %d", i, decoded[i], data[i])
		}
	}
}

func TestDecodeRejectsCorruptedChecksum(t *testing.T) {
	data, _ := ConvertBits([]byte{0x01, 0x02, 0x03}, 8, 5, true)
	encoded, err := Encode("note", data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	corrupted := []byte(encoded)
	corrupted[len(corrupted)-1]++
	if _, _, err := Decode(string(corrupted)); err == nil {
		t.Error("expected checksum validation failure on corrupted string")
	}
}

func TestDecodeRejectsMixedCase(t *testing.T) {
	data, _ := ConvertBits([]byte{0x01, 0x02, 0x03}, 8, 5, true)
	encoded, err := Encode("note", data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	mixed := []byte(encoded)
	for i, c := range mixed {
		if c >= 'a' && c <= 'z' {
			mixed[i] = c - 'a' + 'A'
			break
		}
	}
	if _, _, err := Decode(string(mixed)); err == nil {
		t.Error("expected mixed-case rejection")
	}
}

func TestDecodeRejectsTooShort(t *testing.T) {
	if _, _, err := Decode("np1x"); err == nil {
		t.Error("expected error decoding too-short string")
	}
}

func TestDecodeRejectsInvalidCharacter(t *testing.T) {
	data, _ := ConvertBits([]byte{0x01, 0x02, 0x03}, 8, 5, true)
	encoded, err := Encode("note", data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	corrupted := []byte(encoded)
	corrupted[len(corrupted)-3] = 'b' // 'b' is not in the bech32 charset
	if _, _, err := Decode(string(corrupted)); err == nil {
		t.Error("expected invalid-character rejection")
	}
}

func TestConvertBitsRejectsOverflowValue(t *testing.T) {
	if _, err := ConvertBits([]byte{0xff}, 5, 8, true); err == nil {
		t.Error("expected error converting a value wider than fromBits")
	}
}
