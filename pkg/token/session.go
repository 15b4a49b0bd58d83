package token

import (
	"encoding/json"
	"fmt"

	"github.com/uhyunpark/spotdex/pkg/dexerr"
	"github.com/uhyunpark/spotdex/pkg/state"
	"github.com/uhyunpark/spotdex/pkg/storage"
)

// Session is a staged view of the ledger for one transition. All custody
// actions land in the session; nothing reaches the ledger until the host
// commits the whole transition. A failed transition simply drops the session.
type Session struct {
	l     *Ledger
	dirty map[state.Pubkey]*Account
}

// Session opens a staged view.
func (l *Ledger) Session() *Session {
	return &Session{
		l:     l,
		dirty: make(map[state.Pubkey]*Account),
	}
}

// get returns the staged copy of an account, pulling a copy from the ledger
// on first touch. Returns nil for unknown accounts.
func (s *Session) get(addr state.Pubkey) (*Account, error) {
	if acc, ok := s.dirty[addr]; ok {
		return acc, nil
	}
	s.l.mu.Lock()
	base, err := s.l.getLocked(addr)
	s.l.mu.Unlock()
	if err != nil || base == nil {
		return nil, err
	}
	cp := *base
	s.dirty[addr] = &cp
	return &cp, nil
}

// Transfer moves amount from one token account to another after verifying
// the authority capability. Failure modes:
//   - either account unknown, or mint mismatch: ErrInvalidTokenAccount
//   - capability unsigned or not the from-account's owner: ErrAccountNotAuthorized
//   - amount exceeds the from-balance: ErrInsufficientFunds
func (s *Session) Transfer(from, to state.Pubkey, auth Authority, amount uint64) error {
	src, err := s.get(from)
	if err != nil {
		return err
	}
	if src == nil {
		return fmt.Errorf("transfer source %s: %w", from, dexerr.ErrInvalidTokenAccount)
	}
	dst, err := s.get(to)
	if err != nil {
		return err
	}
	if dst == nil {
		return fmt.Errorf("transfer destination %s: %w", to, dexerr.ErrInvalidTokenAccount)
	}
	if src.Mint != dst.Mint {
		return fmt.Errorf("mint mismatch %s vs %s: %w", src.Mint, dst.Mint, dexerr.ErrInvalidTokenAccount)
	}
	if !auth.Signed || auth.Key != src.Owner {
		return fmt.Errorf("authority %s cannot debit %s: %w", auth.Key, from, dexerr.ErrAccountNotAuthorized)
	}
	if amount > src.Balance {
		return fmt.Errorf("transfer %d from %s with balance %d: %w",
			amount, from, src.Balance, dexerr.ErrInsufficientFunds)
	}
	next, err := checkedAdd(dst.Balance, amount)
	if err != nil {
		return err
	}
	src.Balance -= amount
	dst.Balance = next
	return nil
}

// CreateAccount stages a new custody token account. Idempotent when the
// account already exists with the same mint and owner; anything else is
// ErrInvalidTokenAccount.
func (s *Session) CreateAccount(addr, mint, owner state.Pubkey) error {
	existing, err := s.get(addr)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Mint == mint && existing.Owner == owner {
			return nil
		}
		return fmt.Errorf("token account %s exists with different mint/owner: %w",
			addr, dexerr.ErrInvalidTokenAccount)
	}
	s.dirty[addr] = &Account{Address: addr, Mint: mint, Owner: owner}
	return nil
}

// Stage writes every touched account into the transition batch.
func (s *Session) Stage(batch *storage.Batch) error {
	for addr, acc := range s.dirty {
		raw, err := json.Marshal(acc)
		if err != nil {
			return fmt.Errorf("marshal token account %s: %w", addr, err)
		}
		if err := batch.SetRaw(storage.TokenKey(addr), raw); err != nil {
			return err
		}
	}
	return nil
}

// Apply folds the staged accounts into the ledger cache. Called only after
// the batch committed.
func (s *Session) Apply() {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	for addr, acc := range s.dirty {
		s.l.accounts[addr] = acc
	}
}
