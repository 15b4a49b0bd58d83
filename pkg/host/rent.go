package host

import (
	"fmt"

	"github.com/uhyunpark/spotdex/pkg/dexerr"
	"github.com/uhyunpark/spotdex/pkg/program"
	"github.com/uhyunpark/spotdex/pkg/state"
)

// Storage pricing: a flat per-byte charge plus a per-record overhead, paid
// once at allocation to make the record rent-exempt.
const (
	lamportsPerByte = 6960
	accountOverhead = 128
)

// RentExemptMinimum is the balance a record of the given size must hold.
func RentExemptMinimum(size int) uint64 {
	return uint64(accountOverhead+size) * lamportsPerByte
}

// allocator implements program.Allocator against in-memory account copies;
// the runtime persists the result only when the whole transition commits.
type allocator struct{}

func (allocator) CreateAccount(payer, newAcc *program.Account, owner state.Pubkey, size int) error {
	if !payer.IsSigner {
		return fmt.Errorf("allocation payer %s must sign: %w", payer.Key, dexerr.ErrAccountNotAuthorized)
	}
	if !newAcc.Owner.IsZero() {
		return fmt.Errorf("account %s already owned by %s: %w",
			newAcc.Key, newAcc.Owner, dexerr.ErrInvalidAccountData)
	}
	rent := RentExemptMinimum(size)
	if payer.Lamports < rent {
		return fmt.Errorf("payer %s has %d lamports, allocation needs %d: %w",
			payer.Key, payer.Lamports, rent, dexerr.ErrInsufficientFunds)
	}
	payer.Lamports -= rent
	newAcc.Lamports += rent
	newAcc.Owner = owner
	newAcc.Data = make([]byte, size)
	return nil
}
