package util

import (
	"bytes"
	"testing"
)

func TestVarIntRoundTrip(t *testing.T) {
	tests := []uint64{
		0, 1, 0xfc,
		0xfd, 0xfffe, 0xffff,
		0x10000, 0xfffffffe, 0xffffffff,
		0x100000000, 0xffffffffffffffff,
	}

	for _, val := range tests {
		encoded := WriteVarInt(val)
		decoded, n, err := ReadVarInt(encoded)
		if err != nil {
			t.Errorf("ReadVarInt error for %d: %v", val, err)
			continue
		}
		if n != len(encoded) {
			t.Errorf("ReadVarInt bytes consumed = %d, want %d for value %d", n, len(encoded), val)
		}
		if decoded != val {
			t.Errorf("VarInt round-trip failed: %d -> %d", val, decoded)
		}
	}
}

func TestVarIntEncoding(t *testing.T) {
	tests := []struct {
		val  uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{252, []byte{0xfc}},
		{253, []byte{0xfd, 0xfd, 0x00}},
		{65536, []byte{0xfe, 0x00, 0x00, 0x01, 0x00}},
		{1 << 32, []byte{0xff, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}},
	}

	for _, tt := range tests {
		got := WriteVarInt(tt.val)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("WriteVarInt(%d) = %x, want %x", tt.val, got, tt.want)
		}
	}
}

func TestReadVarIntErrors(t *testing.T) {
	// Empty data
	_, _, err := ReadVarInt([]byte{})
	if err == nil {
		t.Error("ReadVarInt should fail on empty data")
	}

	// Truncated 3-byte varint
	_, _, err = ReadVarInt([]byte{0xfd, 0x01})
	if err == nil {
		t.Error("ReadVarInt should fail on truncated uint16")
	}

	// Truncated 5-byte varint
	_, _, err = ReadVarInt([]byte{0xfe, 0x01, 0x02, 0x03})
	if err == nil {
		t.Error("ReadVarInt should fail on truncated uint32")
	}

	// Truncated 9-byte varint
	_, _, err = ReadVarInt([]byte{0xff, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07})
	if err == nil {
		t.Error("ReadVarInt should fail on truncated uint64")
	}
}

func TestWriteScriptPush(t *testing.T) {
	tests := []struct {
		length int
		want   []byte
	}{
		{0, []byte{0x00}},
		{0x4b, []byte{0x4b}},
		{0x4c, []byte{0x4c, 0x4c}},
		{0xff, []byte{0x4c, 0xff}},
		{0x100, []byte{0x4d, 0x00, 0x01}},
		{0xffff, []byte{0x4d, 0xff, 0xff}},
		{0x10000, []byte{0x4e, 0x00, 0x00, 0x01, 0x00}},
	}

	for _, tt := range tests {
		got := WriteScriptPush(tt.length)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("WriteScriptPush(%d) = %x, want %x", tt.length, got, tt.want)
		}
	}
}

func TestPrune0x(t *testing.T) {
	if Prune0x("0xdeadbeef") != "deadbeef" {
		t.Error("0x prefix should be stripped")
	}
	if Prune0x("deadbeef") != "deadbeef" {
		t.Error("unprefixed hex should pass through")
	}
}

func TestHexConversion(t *testing.T) {
	original := []byte{0xde, 0xad, 0xbe, 0xef}
	hexStr := BytesToHex(original)
	if hexStr != "deadbeef" {
		t.Errorf("BytesToHex = %s, want deadbeef", hexStr)
	}

	decoded, err := HexToBytes(hexStr)
	if err != nil {
		t.Errorf("HexToBytes error: %v", err)
	}
	if !bytes.Equal(decoded, original) {
		t.Errorf("HexToBytes = %x, want %x", decoded, original)
	}

	// Invalid hex
	_, err = HexToBytes("zzzz")
	if err == nil {
		t.Error("HexToBytes should fail on invalid hex")
	}
}

func TestUintLE(t *testing.T) {
	if !bytes.Equal(Uint32LE(0x01020304), []byte{0x04, 0x03, 0x02, 0x01}) {
		t.Error("Uint32LE byte order wrong")
	}
	if !bytes.Equal(Uint64LE(1), []byte{1, 0, 0, 0, 0, 0, 0, 0}) {
		t.Error("Uint64LE byte order wrong")
	}
}
