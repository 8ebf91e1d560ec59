package testutil

import (
	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/meowcoin/stratum-proxy/internal/bitcoin"
)

// MinerH160 is a fixed payout hash for tests.
func MinerH160() [20]byte {
	var h [20]byte
	for i := range h {
		h[i] = 0xaa
	}
	return h
}

// MinerAddress is MinerH160 encoded for the requested network.
func MinerAddress(testnet bool) string {
	h := MinerH160()
	version := byte(50)
	if testnet {
		version = 109
	}
	return base58.CheckEncode(h[:], version)
}

// CommunityAddress is the fixed community-fund address used by fixtures.
func CommunityAddress() string {
	var h [20]byte
	for i := range h {
		h[i] = 0xcc
	}
	return base58.CheckEncode(h[:], 50)
}

// SampleBlockTemplate returns a minimal KAWPOW block template for testing.
func SampleBlockTemplate() *bitcoin.BlockTemplate {
	return &bitcoin.BlockTemplate{
		Version:                  805306368,
		PreviousBlockHash:        "0000000000000003fa0d845513ea5014a7859d411f5f4a91eaab24eb47a18f39",
		Transactions:             []bitcoin.TemplateTransaction{},
		CoinbaseValue:            250000000000,
		Target:                   "00000000ffff0000000000000000000000000000000000000000000000000000",
		CurTime:                  1700000000,
		Bits:                     "1d00ffff",
		Height:                   100000,
		DefaultWitnessCommitment: "6a24aa21a9ede2f61c3f71d1defd3fa999dfa36953755c690689799962b48bebd836974e8cf9",
		CommunityAddress:         CommunityAddress(),
		CommunityValue:           12500000000,
	}
}
