// Package group implements the per-collective ledger: membership, minting,
// listing initiation and revenue distribution among members.
package group

import (
	"errors"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/groupmarket/internal/chain"
	"github.com/alanyoungcy/groupmarket/internal/domain"
)

// Market is the part of the market engine a group drives.
type Market interface {
	Address() common.Address
	ListToEnglishAuction(caller common.Address, localID uint64, start *big.Int, duration time.Duration, share uint8) (uint64, error)
	ListToDutchAuction(caller common.Address, localID uint64, start, floor *big.Int, duration time.Duration, share uint8) (uint64, error)
	ListToOfferingSale(caller common.Address, localID uint64, start *big.Int, share uint8) (uint64, error)
	CancelListing(caller common.Address, m domain.Mechanism, id uint64) error
	EndEnglishAuction(caller common.Address, id uint64) (domain.Settlement, error)
	ExecuteOfferingSaleTransaction(caller common.Address, id uint64) (domain.Settlement, error)
	ListingStatus(m domain.Mechanism, id uint64) (domain.ListingStatus, error)
	GetBalanceOfUser(addr common.Address) *big.Int
	Withdraw(caller common.Address) (*big.Int, error)
}

// Payments is the value-transfer surface a group needs.
type Payments interface {
	Transfer(from, to common.Address, amount *big.Int) error
	TransferFrom(spender, from, to common.Address, amount *big.Int) error
	BalanceOf(account common.Address) *big.Int
}

// Items is the collection a group owns.
type Items interface {
	Address() common.Address
	Name() string
	Mint(caller, to common.Address, uri string) (uint64, error)
	Burn(caller common.Address, id uint64) error
	SetApprovalForAll(caller, operator common.Address, approved bool) error
}

// Registry is the component that created the group. It collects mint and
// burn fees and is the only caller allowed to set the team score.
type Registry interface {
	Address() common.Address
	MintFee() *big.Int
	BurnFee() *big.Int
}

// Params configures a new group.
type Params struct {
	Address     common.Address
	Name        string
	Description string
	Members     []common.Address
	SellerShare uint8
	Items       Items
	Market      Market
	Payments    Payments
	Registry    Registry
}

type itemRecord struct {
	uri       string
	burned    bool
	listed    bool
	sold      bool
	mechanism domain.Mechanism
	listingID uint64
}

// Group is one creator collective. The director is the zero address while
// vacant, which makes every director-only operation fail with
// domain.ErrNotDirector. Group is not safe for concurrent use.
type Group struct {
	address     common.Address
	name        string
	description string
	director    common.Address
	members     []common.Address
	teamScore   uint8
	sellerShare uint8

	totalEarning  *big.Int
	undistributed *big.Int
	balances      map[common.Address]*big.Int

	items  []*itemRecord
	burned uint64

	collection Items
	market     Market
	payments   Payments
	registry   Registry

	guard chain.Guard
}

// New creates a group whose first member is the director and approves the
// market as operator of the collection.
func New(p Params) (*Group, error) {
	if len(p.Members) == 0 {
		return nil, domain.ErrEmptyMembers
	}
	if p.SellerShare > 100 {
		return nil, domain.ErrInvalidShare
	}
	members := make([]common.Address, 0, len(p.Members))
	for _, m := range p.Members {
		if m == (common.Address{}) {
			return nil, domain.ErrZeroAddress
		}
		if slices.Contains(members, m) {
			return nil, domain.ErrAlreadyMember
		}
		members = append(members, m)
	}

	g := &Group{
		address:       p.Address,
		name:          p.Name,
		description:   p.Description,
		director:      members[0],
		members:       members,
		sellerShare:   p.SellerShare,
		totalEarning:  new(big.Int),
		undistributed: new(big.Int),
		balances:      make(map[common.Address]*big.Int),
		collection:    p.Items,
		market:        p.Market,
		payments:      p.Payments,
		registry:      p.Registry,
	}
	if err := p.Items.SetApprovalForAll(g.address, p.Market.Address(), true); err != nil {
		return nil, fmt.Errorf("group: approve market: %w", err)
	}
	return g, nil
}

func (g *Group) Address() common.Address    { return g.address }
func (g *Group) Director() common.Address   { return g.director }
func (g *Group) Collection() common.Address { return g.collection.Address() }

// Members returns a copy of the ordered member list.
func (g *Group) Members() []common.Address { return slices.Clone(g.members) }

func (g *Group) IsMember(addr common.Address) bool { return slices.Contains(g.members, addr) }

func (g *Group) onlyDirector(caller common.Address) error {
	if g.director == (common.Address{}) || caller != g.director {
		return domain.ErrNotDirector
	}
	return nil
}

func (g *Group) onlyMember(caller common.Address) error {
	if !g.IsMember(caller) {
		return domain.ErrNotMember
	}
	return nil
}

// AddMember appends addr to the member list.
func (g *Group) AddMember(caller, addr common.Address) error {
	if err := g.guard.Enter(); err != nil {
		return err
	}
	defer g.guard.Exit()

	if err := g.onlyDirector(caller); err != nil {
		return err
	}
	if addr == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if g.IsMember(addr) {
		return domain.ErrAlreadyMember
	}
	g.members = append(g.members, addr)
	return nil
}

// LeaveGroup removes the caller, paying out its withdrawable share first.
// A leaving director is not replaced; the seat stays vacant until the
// registry appoints a member. The last member cannot leave, so there is
// always someone to seat and the group's earnings stay reachable.
func (g *Group) LeaveGroup(caller common.Address) (*big.Int, error) {
	if err := g.guard.Enter(); err != nil {
		return nil, err
	}
	defer g.guard.Exit()

	if err := g.onlyMember(caller); err != nil {
		return nil, err
	}
	if len(g.members) == 1 {
		return nil, domain.ErrLastMember
	}
	paid, err := g.payOut(caller)
	if err != nil {
		return nil, err
	}
	g.members = slices.DeleteFunc(g.members, func(m common.Address) bool { return m == caller })
	if g.director == caller {
		g.director = common.Address{}
	}
	return paid, nil
}

// SetNewDirector hands the director seat to an existing member. While the
// seat is vacant only the registry may fill it.
func (g *Group) SetNewDirector(caller, addr common.Address) error {
	if err := g.guard.Enter(); err != nil {
		return err
	}
	defer g.guard.Exit()

	vacant := g.director == (common.Address{})
	if !(vacant && caller == g.registry.Address()) {
		if err := g.onlyDirector(caller); err != nil {
			return err
		}
	}
	if !g.IsMember(addr) {
		return domain.ErrNotMember
	}
	g.director = addr
	return nil
}

// SetTeamScore records the registry-assigned reputation score.
func (g *Group) SetTeamScore(caller common.Address, score uint64) error {
	if err := g.guard.Enter(); err != nil {
		return err
	}
	defer g.guard.Exit()

	if caller != g.registry.Address() {
		return domain.ErrNotRegistry
	}
	if score > 100 {
		return domain.ErrInvalidScore
	}
	g.teamScore = uint8(score)
	return nil
}

// chargeFee pulls fee from payer to the registry, the group acting as
// spender.
func (g *Group) chargeFee(payer common.Address, fee *big.Int) error {
	if fee == nil || fee.Sign() == 0 {
		return nil
	}
	if err := g.payments.TransferFrom(g.address, payer, g.registry.Address(), fee); err != nil {
		return fmt.Errorf("group: charge fee: %w", err)
	}
	return nil
}

// refundFee returns a fee taken by chargeFee when the step it paid for
// failed, and passes cause through.
func (g *Group) refundFee(payer common.Address, fee *big.Int, cause error) error {
	if fee == nil || fee.Sign() == 0 {
		return cause
	}
	if err := g.payments.Transfer(g.registry.Address(), payer, fee); err != nil {
		return errors.Join(cause, fmt.Errorf("group: refund fee: %w", err))
	}
	return cause
}
