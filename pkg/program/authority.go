package program

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/spotdex/pkg/state"
)

// Derived authorities are the program's signing capabilities: identities no
// wallet key exists for, which the token ledger accepts as transfer
// authorities when presented by the program itself. Order custody uses the
// order id as seed; settlement accounts use the market authority.

const authorityDomain = "spotdex:authority"

// DeriveAuthority computes the capability identity for a seed.
func DeriveAuthority(programID state.Pubkey, seed []byte) state.Pubkey {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(authorityDomain))
	h.Write(programID[:])
	h.Write(seed)
	var pk state.Pubkey
	copy(pk[:], h.Sum(nil))
	return pk
}

// OrderAuthority is the custody authority scoped to one order id.
func OrderAuthority(programID state.Pubkey, orderID uint64) state.Pubkey {
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], orderID)
	return DeriveAuthority(programID, seed[:])
}

// MarketAuthority is the settlement authority scoped to a market's
// configured authority identity.
func MarketAuthority(programID state.Pubkey, marketAuthority state.Pubkey) state.Pubkey {
	return DeriveAuthority(programID, marketAuthority[:])
}
