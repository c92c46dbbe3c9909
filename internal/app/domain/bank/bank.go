// Package bank defines the currency-movement capability used to settle mint
// payments. Amounts are non-negative integers in the smallest currency unit.
package bank

import (
	"context"
	"errors"
)

// ErrInsufficientFunds reports a debit exceeding the account balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Bank moves funds between accounts. An outbound transfer may invoke code the
// marketplace does not control (a recipient hook); implementations surface a
// hook failure as an error so the enclosing operation can roll back.
type Bank interface {
	// Balance reports the funds held by an account.
	Balance(ctx context.Context, account string) (uint64, error)

	// Deposit credits newly arrived funds to an account.
	Deposit(ctx context.Context, account string, amount uint64) error

	// Transfer moves amount from one account to another.
	Transfer(ctx context.Context, from, to string, amount uint64) error
}

// TransferHook is recipient-controlled code run when funds arrive. Returning
// an error rejects the transfer.
type TransferHook func(ctx context.Context) error
