package types

import "math/big"

// Account holds the native-currency balance of a principal. Token balances
// live in their own registry keyspace so payment contracts can be added
// without reshaping the account record.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}
