package work

import (
	"bytes"

	"github.com/meowcoin/stratum-proxy/pkg/util"
)

// coinbaseTag is pushed into the coinbase input script after the BIP34
// height. Combined they must stay within the 100-byte coinbase script limit.
var coinbaseTag = []byte("/meowcoin-stratum-proxy/")

// BIP34Height encodes a block height as the minimal little-endian byte string
// required by BIP34 for the coinbase input script.
func BIP34Height(height int64) []byte {
	n := 0
	for height > (1<<(7+8*n))-1 {
		n++
	}
	out := make([]byte, n+1)
	for i := range out {
		out[i] = byte(height >> (8 * i))
	}
	return out
}

// p2pkhScript builds a pay-to-pubkey-hash output script for a hash-160.
func p2pkhScript(h160 []byte) []byte {
	script := make([]byte, 0, 25)
	script = append(script, 0x76, 0xa9, 0x14) // OP_DUP OP_HASH160 <20>
	script = append(script, h160...)
	script = append(script, 0x88, 0xac) // OP_EQUALVERIFY OP_CHECKSIG
	return script
}

// CoinbasePayouts describes the three outputs of the coinbase transaction.
type CoinbasePayouts struct {
	MinerValue        int64
	MinerH160         []byte
	CommunityValue    int64
	CommunityH160     []byte
	WitnessCommitment []byte // raw script from default_witness_commitment
}

// BuildCoinbase serializes the segwit coinbase transaction for a height and
// payout set, and returns it along with the txid of its non-witness form
// (the id that enters the merkle tree).
func BuildCoinbase(height int64, p CoinbasePayouts) ([]byte, [32]byte) {
	bip34 := BIP34Height(height)

	script := bytes.Buffer{}
	script.Write(util.WriteScriptPush(len(bip34)))
	script.Write(bip34)
	script.Write(util.WriteScriptPush(len(coinbaseTag)))
	script.Write(coinbaseTag)

	// Single input spending nothing: zero prev txid, max prev index and
	// sequence.
	txin := bytes.Buffer{}
	txin.Write(make([]byte, 32))
	txin.Write([]byte{0xff, 0xff, 0xff, 0xff})
	txin.Write(util.WriteVarInt(uint64(script.Len())))
	txin.Write(script.Bytes())
	txin.Write([]byte{0xff, 0xff, 0xff, 0xff})

	outputs := bytes.Buffer{}
	outputs.Write(util.WriteVarInt(3))
	writeOutput(&outputs, p.MinerValue, p2pkhScript(p.MinerH160))
	writeOutput(&outputs, p.CommunityValue, p2pkhScript(p.CommunityH160))
	writeOutput(&outputs, 0, p.WitnessCommitment)

	// Witness form: version, marker+flag, input, outputs, witness stack of
	// one 32-byte zero item, locktime.
	tx := bytes.Buffer{}
	tx.Write(util.Uint32LE(1))
	tx.Write([]byte{0x00, 0x01})
	tx.Write(util.WriteVarInt(1))
	tx.Write(txin.Bytes())
	tx.Write(outputs.Bytes())
	tx.Write([]byte{0x01, 0x20})
	tx.Write(make([]byte, 32))
	tx.Write(make([]byte, 4))

	// Non-witness form for the txid.
	noWit := bytes.Buffer{}
	noWit.Write(util.Uint32LE(1))
	noWit.Write(util.WriteVarInt(1))
	noWit.Write(txin.Bytes())
	noWit.Write(outputs.Bytes())
	noWit.Write(make([]byte, 4))

	return tx.Bytes(), util.DoubleSHA256(noWit.Bytes())
}

func writeOutput(buf *bytes.Buffer, value int64, script []byte) {
	buf.Write(util.Uint64LE(uint64(value)))
	buf.Write(util.WriteVarInt(uint64(len(script))))
	buf.Write(script)
}
