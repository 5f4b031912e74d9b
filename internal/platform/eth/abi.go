package eth

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// exchangeABIJSON is the fragment of the exchange contract ABI this backend
// consumes: the four emitted events plus the orderFills accessor.
const exchangeABIJSON = `[
  {
    "type": "event", "name": "Trade", "anonymous": false,
    "inputs": [
      {"name": "tokenGet", "type": "address", "indexed": false},
      {"name": "amountGet", "type": "uint256", "indexed": false},
      {"name": "tokenGive", "type": "address", "indexed": false},
      {"name": "amountGive", "type": "uint256", "indexed": false},
      {"name": "get", "type": "address", "indexed": false},
      {"name": "give", "type": "address", "indexed": false}
    ]
  },
  {
    "type": "event", "name": "Deposit", "anonymous": false,
    "inputs": [
      {"name": "token", "type": "address", "indexed": false},
      {"name": "user", "type": "address", "indexed": false},
      {"name": "amount", "type": "uint256", "indexed": false},
      {"name": "balance", "type": "uint256", "indexed": false}
    ]
  },
  {
    "type": "event", "name": "Withdraw", "anonymous": false,
    "inputs": [
      {"name": "token", "type": "address", "indexed": false},
      {"name": "user", "type": "address", "indexed": false},
      {"name": "amount", "type": "uint256", "indexed": false},
      {"name": "balance", "type": "uint256", "indexed": false}
    ]
  },
  {
    "type": "event", "name": "Cancel", "anonymous": false,
    "inputs": [
      {"name": "tokenGet", "type": "address", "indexed": false},
      {"name": "amountGet", "type": "uint256", "indexed": false},
      {"name": "tokenGive", "type": "address", "indexed": false},
      {"name": "amountGive", "type": "uint256", "indexed": false},
      {"name": "expires", "type": "uint256", "indexed": false},
      {"name": "nonce", "type": "uint256", "indexed": false},
      {"name": "user", "type": "address", "indexed": false},
      {"name": "v", "type": "uint8", "indexed": false},
      {"name": "r", "type": "bytes32", "indexed": false},
      {"name": "s", "type": "bytes32", "indexed": false}
    ]
  },
  {
    "type": "function", "name": "orderFills", "stateMutability": "view",
    "inputs": [
      {"name": "", "type": "address"},
      {"name": "", "type": "bytes32"}
    ],
    "outputs": [
      {"name": "", "type": "uint256"}
    ]
  }
]`

// ExchangeABI is the parsed exchange contract ABI, shared by the chain
// client and the event normalizer.
var ExchangeABI = mustParseABI(exchangeABIJSON)

func mustParseABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic("eth: parse exchange abi: " + err.Error())
	}
	return parsed
}
