package test

import (
	"crypto/rand"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var weiPerEther = uint256.NewInt(1_000_000_000_000_000_000)

func RandomBytes(len int) []byte {
	bytes := make([]byte, len)
	_, err := rand.Read(bytes)
	if err != nil {
		panic(err)
	}
	return bytes
}

func RandomAddress() common.Address {
	return common.BytesToAddress(RandomBytes(common.AddressLength))
}

// Ether returns n ether in wei.
func Ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), weiPerEther)
}

// Wei parses a decimal wei amount, panics on invalid input.
func Wei(dec string) *uint256.Int {
	b, ok := new(big.Int).SetString(dec, 10)
	if !ok {
		panic("invalid decimal amount " + dec)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		panic("amount overflows 256 bits " + dec)
	}
	return v
}
