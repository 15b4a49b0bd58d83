// Package token is the external custody ledger: it tracks token balances and
// moves them under an explicit authority capability. The transition engine
// never touches balances directly; it requests transfers and the ledger
// verifies the capability before moving anything.
package token

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/uhyunpark/spotdex/pkg/dexerr"
	"github.com/uhyunpark/spotdex/pkg/state"
	"github.com/uhyunpark/spotdex/pkg/storage"
)

// Account is one token balance slot.
type Account struct {
	Address state.Pubkey `json:"address"`
	Mint    state.Pubkey `json:"mint"`
	Owner   state.Pubkey `json:"owner"` // authority allowed to debit this account
	Balance uint64       `json:"balance"`
}

// Authority is the capability presented with a transfer: either a wallet key
// whose signature the host verified, or a program-derived key the program is
// entitled to sign for. Signed=false capabilities never move funds.
type Authority struct {
	Key    state.Pubkey
	Signed bool
}

// Ledger holds token accounts in memory, backed by the shared Pebble store.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[state.Pubkey]*Account
	store    *storage.AccountStore
}

// NewLedger creates a ledger over the shared account store.
func NewLedger(store *storage.AccountStore) *Ledger {
	return &Ledger{
		accounts: make(map[state.Pubkey]*Account),
		store:    store,
	}
}

// getLocked returns the cached account, loading from Pebble on miss.
// Returns nil when the account does not exist. Caller holds the lock.
func (l *Ledger) getLocked(addr state.Pubkey) (*Account, error) {
	if acc, ok := l.accounts[addr]; ok {
		return acc, nil
	}
	raw, err := l.store.GetRaw(storage.TokenKey(addr))
	if err != nil {
		return nil, fmt.Errorf("load token account %s: %w", addr, err)
	}
	if raw == nil {
		return nil, nil
	}
	var acc Account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return nil, fmt.Errorf("unmarshal token account %s: %w", addr, err)
	}
	l.accounts[addr] = &acc
	return &acc, nil
}

// Get returns a copy of the token account, or nil if it does not exist.
func (l *Ledger) Get(addr state.Pubkey) (*Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, err := l.getLocked(addr)
	if err != nil || acc == nil {
		return nil, err
	}
	cp := *acc
	return &cp, nil
}

// CreateAccount registers a new token account. Setup path (CLI, faucet);
// transitions create custody accounts through their Session instead.
func (l *Ledger) CreateAccount(addr, mint, owner state.Pubkey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.getLocked(addr)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("token account %s already exists: %w", addr, dexerr.ErrInvalidTokenAccount)
	}
	acc := &Account{Address: addr, Mint: mint, Owner: owner}
	if err := l.persistLocked(acc); err != nil {
		return err
	}
	l.accounts[addr] = acc
	return nil
}

// MintTo credits freshly minted tokens. Setup/faucet path.
func (l *Ledger) MintTo(addr state.Pubkey, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, err := l.getLocked(addr)
	if err != nil {
		return err
	}
	if acc == nil {
		return fmt.Errorf("token account %s not found: %w", addr, dexerr.ErrInvalidTokenAccount)
	}
	next, err := checkedAdd(acc.Balance, amount)
	if err != nil {
		return err
	}
	acc.Balance = next
	return l.persistLocked(acc)
}

// Balance returns the current balance, zero for unknown accounts.
func (l *Ledger) Balance(addr state.Pubkey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, err := l.getLocked(addr)
	if err != nil || acc == nil {
		return 0
	}
	return acc.Balance
}

func (l *Ledger) persistLocked(acc *Account) error {
	raw, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("marshal token account %s: %w", acc.Address, err)
	}
	return l.store.SetRaw(storage.TokenKey(acc.Address), raw)
}

func checkedAdd(a, b uint64) (uint64, error) {
	if a > ^uint64(0)-b {
		return 0, fmt.Errorf("%d + %d: %w", a, b, dexerr.ErrArithmeticOverflow)
	}
	return a + b, nil
}
