// Package item implements the per-group collectible ledger: ownership,
// content URIs, approvals and burning.
package item

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/groupmarket/internal/domain"
)

// Receiver is notified after an item lands in its account. Returning an
// error reverts the transfer.
type Receiver interface {
	OnItemReceived(ledger common.Address, from common.Address, id uint64) error
}

type token struct {
	owner    common.Address
	uri      string
	approved common.Address
}

// Ledger is a non-fungible ownership ledger owned by one group. It is not
// safe for concurrent use.
type Ledger struct {
	address   common.Address
	owner     common.Address
	name      string
	symbol    string
	next      uint64
	burned    uint64
	tokens    map[uint64]*token
	balances  map[common.Address]uint64
	operators map[common.Address]map[common.Address]bool
	receivers map[common.Address]Receiver
}

// New creates a ledger whose name and symbol are both name.
func New(address, owner common.Address, name string) *Ledger {
	return &Ledger{
		address:   address,
		owner:     owner,
		name:      name,
		symbol:    name,
		tokens:    make(map[uint64]*token),
		balances:  make(map[common.Address]uint64),
		operators: make(map[common.Address]map[common.Address]bool),
		receivers: make(map[common.Address]Receiver),
	}
}

func (l *Ledger) Address() common.Address { return l.address }
func (l *Ledger) Owner() common.Address   { return l.owner }
func (l *Ledger) Name() string            { return l.name }
func (l *Ledger) Symbol() string          { return l.symbol }

// Minted is the number of ids ever minted, burned ones included.
func (l *Ledger) Minted() uint64 { return l.next }

// Burned is the number of burned ids.
func (l *Ledger) Burned() uint64 { return l.burned }

// TransferOwnership hands minting rights to newOwner.
func (l *Ledger) TransferOwnership(caller, newOwner common.Address) error {
	if caller != l.owner {
		return domain.ErrNotOwner
	}
	if newOwner == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	l.owner = newOwner
	return nil
}

// RegisterReceiver installs the caller's own transfer callback; a nil r
// removes it. Accounts can only set their own hook.
func (l *Ledger) RegisterReceiver(caller common.Address, r Receiver) error {
	if caller == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if r == nil {
		delete(l.receivers, caller)
		return nil
	}
	l.receivers[caller] = r
	return nil
}

// Mint creates the next id for to with the given URI.
func (l *Ledger) Mint(caller, to common.Address, uri string) (uint64, error) {
	if caller != l.owner {
		return 0, domain.ErrNotOwner
	}
	if to == (common.Address{}) {
		return 0, domain.ErrZeroAddress
	}
	id := l.next
	l.next++
	l.tokens[id] = &token{owner: to, uri: uri}
	l.balances[to]++
	return id, nil
}

// OwnerOf returns the holder of id.
func (l *Ledger) OwnerOf(id uint64) (common.Address, error) {
	t, ok := l.tokens[id]
	if !ok {
		return common.Address{}, fmt.Errorf("item: owner of %d: %w", id, domain.ErrItemNotFound)
	}
	return t.owner, nil
}

// TokenURI returns the content URI of id.
func (l *Ledger) TokenURI(id uint64) (string, error) {
	t, ok := l.tokens[id]
	if !ok {
		return "", fmt.Errorf("item: uri of %d: %w", id, domain.ErrItemNotFound)
	}
	return t.uri, nil
}

// BalanceOf counts the ids held by account.
func (l *Ledger) BalanceOf(account common.Address) uint64 { return l.balances[account] }

// Approve lets to move id. Only the holder or one of its operators may
// approve.
func (l *Ledger) Approve(caller, to common.Address, id uint64) error {
	t, ok := l.tokens[id]
	if !ok {
		return domain.ErrItemNotFound
	}
	if caller != t.owner && !l.IsApprovedForAll(t.owner, caller) {
		return domain.ErrNotApproved
	}
	t.approved = to
	return nil
}

// GetApproved returns the single-item approval for id.
func (l *Ledger) GetApproved(id uint64) (common.Address, error) {
	t, ok := l.tokens[id]
	if !ok {
		return common.Address{}, domain.ErrItemNotFound
	}
	return t.approved, nil
}

// SetApprovalForAll lets operator move every item held by caller.
func (l *Ledger) SetApprovalForAll(caller, operator common.Address, approved bool) error {
	if operator == (common.Address{}) || operator == caller {
		return domain.ErrZeroAddress
	}
	m, ok := l.operators[caller]
	if !ok {
		m = make(map[common.Address]bool)
		l.operators[caller] = m
	}
	if approved {
		m[operator] = true
	} else {
		delete(m, operator)
	}
	return nil
}

// IsApprovedForAll reports whether operator may move holder's items.
func (l *Ledger) IsApprovedForAll(holder, operator common.Address) bool {
	return l.operators[holder][operator]
}

// TransferFrom moves id from from to to. The caller must be the holder,
// the approved address for id, or an operator of the holder. A registered
// receiver on to may veto the transfer, in which case nothing changes.
func (l *Ledger) TransferFrom(caller, from, to common.Address, id uint64) error {
	t, ok := l.tokens[id]
	if !ok {
		return fmt.Errorf("item: transfer %d: %w", id, domain.ErrItemNotFound)
	}
	if t.owner != from {
		return fmt.Errorf("item: transfer %d from %s: %w", id, from.Hex(), domain.ErrNotOwner)
	}
	if to == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if !l.canMove(caller, t) {
		return fmt.Errorf("item: transfer %d by %s: %w", id, caller.Hex(), domain.ErrNotApproved)
	}

	prevApproved := t.approved
	l.move(t, from, to)
	if r, ok := l.receivers[to]; ok {
		if err := r.OnItemReceived(l.address, from, id); err != nil {
			l.move(t, to, from)
			t.approved = prevApproved
			return fmt.Errorf("item: transfer %d rejected by receiver: %w", id, err)
		}
	}
	return nil
}

// Burn destroys id irreversibly.
func (l *Ledger) Burn(caller common.Address, id uint64) error {
	t, ok := l.tokens[id]
	if !ok {
		return fmt.Errorf("item: burn %d: %w", id, domain.ErrItemNotFound)
	}
	if !l.canMove(caller, t) {
		return domain.ErrNotApproved
	}
	l.balances[t.owner]--
	if l.balances[t.owner] == 0 {
		delete(l.balances, t.owner)
	}
	delete(l.tokens, id)
	l.burned++
	return nil
}

func (l *Ledger) canMove(caller common.Address, t *token) bool {
	return caller == t.owner || caller == t.approved || l.IsApprovedForAll(t.owner, caller)
}

func (l *Ledger) move(t *token, from, to common.Address) {
	l.balances[from]--
	if l.balances[from] == 0 {
		delete(l.balances, from)
	}
	l.balances[to]++
	t.owner = to
	t.approved = common.Address{}
}
