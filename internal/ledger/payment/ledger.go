// Package payment implements the fungible payment ledger the marketplace
// moves value through: balances, owner minting and allowance-based pulls.
package payment

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/groupmarket/internal/domain"
)

// Ledger is a fungible balance ledger. It is not safe for concurrent use;
// the owning chain.Runtime serializes access.
type Ledger struct {
	address    common.Address
	owner      common.Address
	name       string
	symbol     string
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// New creates an empty ledger whose owner may mint.
func New(address, owner common.Address, name, symbol string) *Ledger {
	return &Ledger{
		address:    address,
		owner:      owner,
		name:       name,
		symbol:     symbol,
		supply:     new(big.Int),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (l *Ledger) Address() common.Address { return l.address }
func (l *Ledger) Owner() common.Address   { return l.owner }
func (l *Ledger) Name() string            { return l.name }
func (l *Ledger) Symbol() string          { return l.symbol }

// TotalSupply returns a copy of the minted supply.
func (l *Ledger) TotalSupply() *big.Int { return new(big.Int).Set(l.supply) }

// BalanceOf returns a copy of account's balance.
func (l *Ledger) BalanceOf(account common.Address) *big.Int {
	if b, ok := l.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Allowance returns how much spender may still pull from owner.
func (l *Ledger) Allowance(owner, spender common.Address) *big.Int {
	if a, ok := l.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Mint creates amount new units for to. Only the ledger owner may mint.
func (l *Ledger) Mint(caller, to common.Address, amount *big.Int) error {
	if caller != l.owner {
		return domain.ErrNotOwner
	}
	if to == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.credit(to, amount)
	l.supply.Add(l.supply, amount)
	return nil
}

// Transfer moves amount from the caller's own account to to.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	if l.balanceRef(from).Cmp(amount) < 0 {
		return fmt.Errorf("payment: transfer %s from %s: %w", amount, from.Hex(), domain.ErrInsufficientBalance)
	}
	l.debit(from, amount)
	l.credit(to, amount)
	return nil
}

// Approve sets the amount spender may pull from owner, replacing any
// previous allowance.
func (l *Ledger) Approve(owner, spender common.Address, amount *big.Int) error {
	if spender == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	m, ok := l.allowances[owner]
	if !ok {
		m = make(map[common.Address]*big.Int)
		l.allowances[owner] = m
	}
	if amount.Sign() == 0 {
		delete(m, spender)
		return nil
	}
	m[spender] = new(big.Int).Set(amount)
	return nil
}

// TransferFrom pulls amount from from to to on behalf of spender, consuming
// spender's allowance. Nothing changes unless both the allowance and the
// balance cover amount.
func (l *Ledger) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	allowed := l.allowances[from][spender]
	if allowed == nil || allowed.Cmp(amount) < 0 {
		return fmt.Errorf("payment: pull %s from %s by %s: %w", amount, from.Hex(), spender.Hex(), domain.ErrInsufficientAllowance)
	}
	if l.balanceRef(from).Cmp(amount) < 0 {
		return fmt.Errorf("payment: pull %s from %s: %w", amount, from.Hex(), domain.ErrInsufficientBalance)
	}
	allowed.Sub(allowed, amount)
	if allowed.Sign() == 0 {
		delete(l.allowances[from], spender)
	}
	l.debit(from, amount)
	l.credit(to, amount)
	return nil
}

func (l *Ledger) balanceRef(a common.Address) *big.Int {
	if b, ok := l.balances[a]; ok {
		return b
	}
	return new(big.Int)
}

func (l *Ledger) credit(a common.Address, amount *big.Int) {
	b, ok := l.balances[a]
	if !ok {
		b = new(big.Int)
		l.balances[a] = b
	}
	b.Add(b, amount)
}

func (l *Ledger) debit(a common.Address, amount *big.Int) {
	b := l.balances[a]
	b.Sub(b, amount)
	if b.Sign() == 0 {
		delete(l.balances, a)
	}
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}
