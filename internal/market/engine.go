// Package market implements the shared market engine: the English, Dutch
// and offering registries, bid escrow, settlement and withdrawals.
package market

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/groupmarket/internal/chain"
	"github.com/alanyoungcy/groupmarket/internal/domain"
)

// PaymentLedger is the value-transfer surface the engine needs.
type PaymentLedger interface {
	Transfer(from, to common.Address, amount *big.Int) error
	TransferFrom(spender, from, to common.Address, amount *big.Int) error
	BalanceOf(account common.Address) *big.Int
}

// ItemLedger is the ownership surface the engine needs to deliver items.
type ItemLedger interface {
	OwnerOf(id uint64) (common.Address, error)
	TransferFrom(caller, from, to common.Address, id uint64) error
}

// Config holds the engine's fixed identities.
type Config struct {
	Address      common.Address // the engine's own payment account
	Registrar    common.Address // allowed to authorize groups
	FeeRecipient common.Address
}

type itemKey struct {
	group   common.Address
	localID uint64
}

type listingRef struct {
	mechanism domain.Mechanism
	id        uint64
}

// listing holds the fields every mechanism shares.
type listing struct {
	id        uint64
	group     common.Address
	localID   uint64
	status    domain.ListingStatus
	share     uint8
	createdAt time.Time
}

func (l *listing) key() itemKey { return itemKey{group: l.group, localID: l.localID} }

func (l *listing) view(m domain.Mechanism) Listing {
	return Listing{
		ID:          l.id,
		Mechanism:   m,
		Group:       l.group,
		LocalID:     l.localID,
		Status:      l.status,
		SellerShare: l.share,
		CreatedAt:   l.createdAt,
	}
}

// Listing is the mechanism-independent view of a listing.
type Listing struct {
	ID          uint64               `json:"id"`
	Mechanism   domain.Mechanism     `json:"mechanism"`
	Group       common.Address       `json:"group"`
	LocalID     uint64               `json:"local_id"`
	Status      domain.ListingStatus `json:"status"`
	SellerShare uint8                `json:"seller_share"`
	CreatedAt   time.Time            `json:"created_at"`
}

// Engine is the single market shared by every group. It owns its three
// registries and the escrow; nothing here is global. Engine is not safe
// for concurrent use; a chain.Runtime serializes callers.
type Engine struct {
	address      common.Address
	registrar    common.Address
	feeRecipient common.Address
	payments     PaymentLedger
	clock        chain.Clock

	groups   map[common.Address]ItemLedger
	english  []*englishAuction
	dutch    []*dutchAuction
	offering []*offeringSale
	active   map[itemKey]listingRef
	balances map[common.Address]*big.Int

	guard chain.Guard
}

// NewEngine creates an engine with empty registries.
func NewEngine(cfg Config, payments PaymentLedger, clock chain.Clock) *Engine {
	return &Engine{
		address:      cfg.Address,
		registrar:    cfg.Registrar,
		feeRecipient: cfg.FeeRecipient,
		payments:     payments,
		clock:        clock,
		groups:       make(map[common.Address]ItemLedger),
		active:       make(map[itemKey]listingRef),
		balances:     make(map[common.Address]*big.Int),
	}
}

func (e *Engine) Address() common.Address      { return e.address }
func (e *Engine) FeeRecipient() common.Address { return e.feeRecipient }

// AuthorizeGroup lets group list items held in items.
func (e *Engine) AuthorizeGroup(caller, group common.Address, items ItemLedger) error {
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()

	if caller != e.registrar {
		return domain.ErrNotRegistry
	}
	if group == (common.Address{}) || items == nil {
		return domain.ErrZeroAddress
	}
	if _, ok := e.groups[group]; ok {
		return domain.ErrAlreadyAuthorized
	}
	e.groups[group] = items
	return nil
}

// IsAuthorized reports whether group may list.
func (e *Engine) IsAuthorized(group common.Address) bool {
	_, ok := e.groups[group]
	return ok
}

// SetFeeRecipient changes who receives the platform share of future sales.
func (e *Engine) SetFeeRecipient(caller, recipient common.Address) error {
	if caller != e.registrar {
		return domain.ErrNotRegistry
	}
	if recipient == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	e.feeRecipient = recipient
	return nil
}

// openListing checks the shared listing preconditions for caller's item.
func (e *Engine) openListing(caller common.Address, localID uint64, share uint8) (listing, error) {
	items, ok := e.groups[caller]
	if !ok {
		return listing{}, domain.ErrNotAuthorizedGroup
	}
	if share > 100 {
		return listing{}, domain.ErrInvalidShare
	}
	if _, busy := e.active[itemKey{group: caller, localID: localID}]; busy {
		return listing{}, domain.ErrAlreadyListed
	}
	holder, err := items.OwnerOf(localID)
	if err != nil {
		return listing{}, fmt.Errorf("market: list item %d: %w", localID, err)
	}
	if holder != caller {
		return listing{}, domain.ErrNotOwner
	}
	return listing{
		group:     caller,
		localID:   localID,
		status:    domain.ListingActive,
		share:     share,
		createdAt: e.clock.Now(),
	}, nil
}

func (e *Engine) lookup(m domain.Mechanism, id uint64) (*listing, *bidBook, error) {
	switch m {
	case domain.MechanismEnglish:
		if id < uint64(len(e.english)) {
			a := e.english[id]
			return &a.listing, &a.book, nil
		}
	case domain.MechanismDutch:
		if id < uint64(len(e.dutch)) {
			return &e.dutch[id].listing, nil, nil
		}
	case domain.MechanismOffering:
		if id < uint64(len(e.offering)) {
			s := e.offering[id]
			return &s.listing, &s.book, nil
		}
	default:
		return nil, nil, fmt.Errorf("%w: mechanism %q", domain.ErrInvalidArgs, m)
	}
	return nil, nil, fmt.Errorf("market: %s listing %d: %w", m, id, domain.ErrListingNotFound)
}

// Listing returns the common view of a listing.
func (e *Engine) Listing(m domain.Mechanism, id uint64) (Listing, error) {
	l, _, err := e.lookup(m, id)
	if err != nil {
		return Listing{}, err
	}
	return l.view(m), nil
}

// ListingStatus returns the lifecycle state of a listing.
func (e *Engine) ListingStatus(m domain.Mechanism, id uint64) (domain.ListingStatus, error) {
	l, _, err := e.lookup(m, id)
	if err != nil {
		return "", err
	}
	return l.status, nil
}

// Count is the number of listings ever created under m.
func (e *Engine) Count(m domain.Mechanism) uint64 {
	switch m {
	case domain.MechanismEnglish:
		return uint64(len(e.english))
	case domain.MechanismDutch:
		return uint64(len(e.dutch))
	case domain.MechanismOffering:
		return uint64(len(e.offering))
	}
	return 0
}

// CancelListing closes an active listing of the caller's group. A leading
// bid is moved into its bidder's pending return for the listing.
func (e *Engine) CancelListing(caller common.Address, m domain.Mechanism, id uint64) error {
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()

	l, book, err := e.lookup(m, id)
	if err != nil {
		return err
	}
	if l.group != caller {
		return domain.ErrNotListingOwner
	}
	if l.status != domain.ListingActive {
		return domain.ErrListingClosed
	}
	if book != nil {
		book.refundLeader()
	}
	l.status = domain.ListingCancelled
	delete(e.active, l.key())
	return nil
}

// placeBid escrows amount from bidder and makes it the leading bid.
func (e *Engine) placeBid(book *bidBook, bidder common.Address, amount *big.Int) error {
	if bidder == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if amount == nil || amount.Cmp(book.highest) <= 0 {
		return domain.ErrBidTooLow
	}
	if err := e.payments.TransferFrom(e.address, bidder, e.address, amount); err != nil {
		return fmt.Errorf("market: escrow bid: %w", err)
	}
	book.place(bidder, amount)
	return nil
}

// settleBook closes l in favour of its leading bidder, delivering the item
// before any escrow is touched. Without a leader the listing just closes.
func (e *Engine) settleBook(m domain.Mechanism, l *listing, book *bidBook) (domain.Settlement, error) {
	s := e.emptySettlement(m, l)
	if !book.hasLeader() {
		l.status = domain.ListingSettled
		delete(e.active, l.key())
		return s, nil
	}
	if err := e.deliver(l, book.leader); err != nil {
		return domain.Settlement{}, err
	}
	winner, price := book.take()
	e.payout(&s, l, winner, price)
	return s, nil
}

func (e *Engine) emptySettlement(m domain.Mechanism, l *listing) domain.Settlement {
	return domain.Settlement{
		Mechanism:      m,
		ListingID:      l.id,
		Group:          l.group,
		LocalID:        l.localID,
		Price:          new(big.Int),
		SellerProceeds: new(big.Int),
		Fee:            new(big.Int),
		At:             e.clock.Now(),
	}
}

func (e *Engine) deliver(l *listing, to common.Address) error {
	items := e.groups[l.group]
	if err := items.TransferFrom(e.address, l.group, to, l.localID); err != nil {
		return fmt.Errorf("market: deliver item %d: %w", l.localID, err)
	}
	return nil
}

// payout splits price between the group and the fee recipient and closes
// the listing.
func (e *Engine) payout(s *domain.Settlement, l *listing, winner common.Address, price *big.Int) {
	seller, fee := Split(price, l.share)
	e.credit(l.group, seller)
	e.credit(e.feeRecipient, fee)
	s.Winner = winner
	s.Price = new(big.Int).Set(price)
	s.SellerProceeds = seller
	s.Fee = fee
	l.status = domain.ListingSettled
	delete(e.active, l.key())
}

// Split returns the seller part, price*share/100 rounded down, and the fee
// part, the remainder.
func Split(price *big.Int, share uint8) (seller, fee *big.Int) {
	seller = new(big.Int).Mul(price, big.NewInt(int64(share)))
	seller.Quo(seller, big.NewInt(100))
	fee = new(big.Int).Sub(price, seller)
	return seller, fee
}

func (e *Engine) withdrawPending(m domain.Mechanism, caller common.Address, id uint64) (*big.Int, error) {
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()

	_, book, err := e.lookup(m, id)
	if err != nil {
		return nil, err
	}
	amt := book.drain(caller)
	if amt == nil {
		return nil, domain.ErrNothingToWithdraw
	}
	if err := e.payments.Transfer(e.address, caller, amt); err != nil {
		book.restore(caller, amt)
		return nil, fmt.Errorf("market: pay out pending return: %w", err)
	}
	return new(big.Int).Set(amt), nil
}

// PendingReturn is what addr may withdraw from listing id of mechanism m.
func (e *Engine) PendingReturn(m domain.Mechanism, id uint64, addr common.Address) (*big.Int, error) {
	_, book, err := e.lookup(m, id)
	if err != nil {
		return nil, err
	}
	if book == nil {
		return new(big.Int), nil
	}
	return book.pendingOf(addr), nil
}

// GetBalanceOfUser returns addr's general withdrawable balance.
func (e *Engine) GetBalanceOfUser(addr common.Address) *big.Int {
	if b, ok := e.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Withdraw pays the caller's general balance out to its payment account.
func (e *Engine) Withdraw(caller common.Address) (*big.Int, error) {
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()

	amt, ok := e.balances[caller]
	if !ok {
		return nil, domain.ErrNothingToWithdraw
	}
	delete(e.balances, caller)
	if err := e.payments.Transfer(e.address, caller, amt); err != nil {
		e.balances[caller] = amt
		return nil, fmt.Errorf("market: withdraw: %w", err)
	}
	return new(big.Int).Set(amt), nil
}

func (e *Engine) credit(addr common.Address, amt *big.Int) {
	if amt.Sign() == 0 {
		return
	}
	b, ok := e.balances[addr]
	if !ok {
		b = new(big.Int)
		e.balances[addr] = b
	}
	b.Add(b, amt)
}

// Custody is what the engine actually holds on the payment ledger.
func (e *Engine) Custody() *big.Int {
	return e.payments.BalanceOf(e.address)
}

// Liabilities is what the engine owes: leading bids of active listings,
// every pending return and every general balance. It equals Custody after
// every successful operation.
func (e *Engine) Liabilities() *big.Int {
	sum := new(big.Int)
	books := make([]*bidBook, 0, len(e.english)+len(e.offering))
	for _, a := range e.english {
		books = append(books, &a.book)
	}
	for _, s := range e.offering {
		books = append(books, &s.book)
	}
	for _, b := range books {
		sum.Add(sum, b.leading())
		sum.Add(sum, b.pendingTotal())
	}
	for _, b := range e.balances {
		sum.Add(sum, b)
	}
	return sum
}
