// Package address decodes miner payout addresses from stratum usernames.
package address

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// P2PKH version bytes for the chain.
const (
	MainnetVersion byte = 50
	TestnetVersion byte = 109
)

// InvalidAddressError is returned when a username does not carry a valid
// base58check address for the configured network. It maps to stratum RPC
// error code 20.
type InvalidAddressError struct {
	Address string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("Invalid address %s", e.Address)
}

// DecodeMiner extracts the payout hash-160 from a stratum username of the
// form "ADDRESS" or "ADDRESS.worker". The checksum and the network version
// byte are both validated.
func DecodeMiner(username string, testnet bool) ([20]byte, error) {
	addr := strings.Split(username, ".")[0]

	payload, version, err := base58.CheckDecode(addr)
	if err != nil {
		return [20]byte{}, &InvalidAddressError{Address: addr}
	}

	want := MainnetVersion
	if testnet {
		want = TestnetVersion
	}
	if version != want || len(payload) != 20 {
		return [20]byte{}, &InvalidAddressError{Address: addr}
	}

	var h160 [20]byte
	copy(h160[:], payload)
	return h160, nil
}

// DecodeAny decodes a base58check address accepting any version byte,
// returning the hash-160 payload. Used for node-supplied addresses (the
// community fund) whose network is implied by the node itself.
func DecodeAny(addr string) ([20]byte, error) {
	payload, _, err := base58.CheckDecode(addr)
	if err != nil {
		return [20]byte{}, &InvalidAddressError{Address: addr}
	}
	if len(payload) != 20 {
		return [20]byte{}, &InvalidAddressError{Address: addr}
	}
	var h160 [20]byte
	copy(h160[:], payload)
	return h160, nil
}

// Encode renders a hash-160 as a base58check address with the network's
// version byte. Used by tests.
func Encode(h160 [20]byte, testnet bool) string {
	version := MainnetVersion
	if testnet {
		version = TestnetVersion
	}
	return base58.CheckEncode(h160[:], version)
}
