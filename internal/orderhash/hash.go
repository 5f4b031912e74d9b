// Package orderhash computes the deterministic signature hash the exchange
// contract assigns to an order: sha256 over the tightly packed order terms.
// The same hash identifies the order on-chain (in orderFills) and in the
// orders table, regardless of whether the order was placed off-chain or
// directly on the contract.
package orderhash

import (
	"bytes"
	"crypto/sha256"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// Terms holds the order fields that participate in the hash, in contract
// order.
type Terms struct {
	Contract   common.Address
	TokenGet   common.Address
	AmountGet  *big.Int
	TokenGive  common.Address
	AmountGive *big.Int
	Expires    *big.Int
	Nonce      *big.Int
}

// Compute packs the terms the way the contract does (addresses as 20 bytes,
// amounts as 32-byte big-endian uint256) and returns the sha256 digest.
func Compute(t Terms) common.Hash {
	var buf bytes.Buffer
	buf.Write(t.Contract.Bytes())
	buf.Write(t.TokenGet.Bytes())
	buf.Write(u256(t.AmountGet))
	buf.Write(t.TokenGive.Bytes())
	buf.Write(u256(t.AmountGive))
	buf.Write(u256(t.Expires))
	buf.Write(u256(t.Nonce))
	return common.Hash(sha256.Sum256(buf.Bytes()))
}

// u256 encodes v as a 32-byte big-endian uint256. math.U256Bytes mutates its
// argument, so pack a copy. A nil value packs as zero.
func u256(v *big.Int) []byte {
	if v == nil {
		v = new(big.Int)
	}
	return math.U256Bytes(new(big.Int).Set(v))
}
