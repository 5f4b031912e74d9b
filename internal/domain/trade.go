package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Trade is an immutable fact describing one executed match. Its identity is
// the (transaction hash, log index) pair of the emitting chain event; a
// trade is recorded at most once no matter how often the event is
// redelivered.
type Trade struct {
	BlockNumber     uint64
	TransactionHash common.Hash
	LogIndex        uint
	TokenGive       common.Address
	AmountGive      *big.Int
	TokenGet        common.Address
	AmountGet       *big.Int
	AddrGive        common.Address // taker
	AddrGet         common.Address // maker
	Date            time.Time
}
