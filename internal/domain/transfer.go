package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TransferDirection distinguishes deposits into the exchange contract from
// withdrawals out of it.
type TransferDirection string

const (
	TransferDeposit  TransferDirection = "DEPOSIT"
	TransferWithdraw TransferDirection = "WITHDRAW"
)

// Transfer is an immutable fact describing a deposit or withdrawal. Same
// identity scheme as Trade: (transaction hash, log index), recorded at most
// once.
type Transfer struct {
	BlockNumber     uint64
	TransactionHash common.Hash
	LogIndex        uint
	Direction       TransferDirection
	Token           common.Address
	User            common.Address
	Amount          *big.Int
	BalanceAfter    *big.Int
	Date            time.Time
}
