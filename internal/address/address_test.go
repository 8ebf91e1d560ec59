package address

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/stretchr/testify/require"
)

func sampleH160() [20]byte {
	var h [20]byte
	for i := range h {
		h[i] = byte(i + 1)
	}
	return h
}

func TestDecodeMiner(t *testing.T) {
	h160 := sampleH160()
	addr := Encode(h160, false)

	got, err := DecodeMiner(addr, false)
	require.NoError(t, err)
	require.Equal(t, h160, got)
}

func TestDecodeMinerWorkerSuffix(t *testing.T) {
	h160 := sampleH160()
	addr := Encode(h160, true)

	got, err := DecodeMiner(addr+".rig0", true)
	require.NoError(t, err)
	require.Equal(t, h160, got)

	// Extra dots: only the first field is the address
	got, err = DecodeMiner(addr+".rig0.gpu1", true)
	require.NoError(t, err)
	require.Equal(t, h160, got)
}

func TestDecodeMinerWrongNetwork(t *testing.T) {
	h160 := sampleH160()
	mainnetAddr := Encode(h160, false)

	_, err := DecodeMiner(mainnetAddr, true)
	require.Error(t, err)

	var invalid *InvalidAddressError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, mainnetAddr, invalid.Address)
	require.Equal(t, "Invalid address "+mainnetAddr, err.Error())
}

func TestDecodeMinerForeignVersionByte(t *testing.T) {
	// Bitcoin mainnet version 0 must be rejected on both networks
	h160 := sampleH160()
	btcAddr := base58.CheckEncode(h160[:], 0)

	_, err := DecodeMiner(btcAddr, false)
	require.Error(t, err)
	_, err = DecodeMiner(btcAddr, true)
	require.Error(t, err)
}

func TestDecodeMinerGarbage(t *testing.T) {
	_, err := DecodeMiner("notbase58!!!", false)
	require.Error(t, err)

	// Corrupt checksum
	h160 := sampleH160()
	addr := Encode(h160, false)
	corrupted := addr[:len(addr)-1] + "1"
	if corrupted == addr {
		corrupted = addr[:len(addr)-1] + "2"
	}
	_, err = DecodeMiner(corrupted, false)
	require.Error(t, err)
}

func TestDecodeAny(t *testing.T) {
	h160 := sampleH160()
	addr := base58.CheckEncode(h160[:], 77)

	got, err := DecodeAny(addr)
	require.NoError(t, err)
	require.Equal(t, h160, got)

	_, err = DecodeAny("bogus")
	require.Error(t, err)
}
