// Package registry creates groups and administers the platform-wide
// parameters: fee recipient, mint fee and burn fee.
package registry

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/groupmarket/internal/chain"
	"github.com/alanyoungcy/groupmarket/internal/domain"
	"github.com/alanyoungcy/groupmarket/internal/group"
	"github.com/alanyoungcy/groupmarket/internal/ledger/item"
	"github.com/alanyoungcy/groupmarket/internal/market"
)

// Engine is the market every group created here must use.
type Engine interface {
	group.Market
	AuthorizeGroup(caller, group common.Address, items market.ItemLedger) error
	SetFeeRecipient(caller, recipient common.Address) error
}

// Config holds the registry's identities and initial parameters.
type Config struct {
	Address      common.Address
	Admin        common.Address
	FeeRecipient common.Address
	MintFee      *big.Int
	BurnFee      *big.Int
	SellerShare  uint8
}

// Registry tracks groups by sequence number. It is not safe for concurrent
// use.
type Registry struct {
	address      common.Address
	admin        common.Address
	feeRecipient common.Address
	mintFee      *big.Int
	burnFee      *big.Int
	sellerShare  uint8

	engine      Engine
	payments    group.Payments
	groups      []*group.Group
	collections []*item.Ledger
	byAddress   map[common.Address]int

	guard chain.Guard
}

func New(cfg Config, engine Engine, payments group.Payments) *Registry {
	return &Registry{
		address:      cfg.Address,
		admin:        cfg.Admin,
		feeRecipient: cfg.FeeRecipient,
		mintFee:      nonNil(cfg.MintFee),
		burnFee:      nonNil(cfg.BurnFee),
		sellerShare:  cfg.SellerShare,
		engine:       engine,
		payments:     payments,
		byAddress:    make(map[common.Address]int),
	}
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func (r *Registry) Address() common.Address      { return r.address }
func (r *Registry) Admin() common.Address        { return r.admin }
func (r *Registry) FeeRecipient() common.Address { return r.feeRecipient }
func (r *Registry) MintFee() *big.Int            { return new(big.Int).Set(r.mintFee) }
func (r *Registry) BurnFee() *big.Int            { return new(big.Int).Set(r.burnFee) }
func (r *Registry) SellerShare() uint8           { return r.sellerShare }

// GroupAddressAt derives the address of the group with sequence number
// index; the group's collection lives at the first address the group
// itself would derive.
func GroupAddressAt(registry common.Address, index uint64) (groupAddr, collection common.Address) {
	groupAddr = ethcrypto.CreateAddress(registry, index)
	return groupAddr, ethcrypto.CreateAddress(groupAddr, 0)
}

// CreateGroup deploys a group and its collection. The caller must be the
// first member and becomes the director.
func (r *Registry) CreateGroup(caller common.Address, name, description string, members []common.Address) (uint64, common.Address, error) {
	if err := r.guard.Enter(); err != nil {
		return 0, common.Address{}, err
	}
	defer r.guard.Exit()

	if len(members) == 0 {
		return 0, common.Address{}, domain.ErrEmptyMembers
	}
	if members[0] != caller {
		return 0, common.Address{}, domain.ErrCreatorNotFirstMember
	}

	index := uint64(len(r.groups))
	addr, collAddr := GroupAddressAt(r.address, index)
	coll := item.New(collAddr, r.address, name)
	if err := coll.TransferOwnership(r.address, addr); err != nil {
		return 0, common.Address{}, fmt.Errorf("registry: hand over collection: %w", err)
	}
	g, err := group.New(group.Params{
		Address:     addr,
		Name:        name,
		Description: description,
		Members:     members,
		SellerShare: r.sellerShare,
		Items:       coll,
		Market:      r.engine,
		Payments:    r.payments,
		Registry:    r,
	})
	if err != nil {
		return 0, common.Address{}, err
	}
	if err := r.engine.AuthorizeGroup(r.address, addr, coll); err != nil {
		return 0, common.Address{}, fmt.Errorf("registry: authorize group: %w", err)
	}

	r.groups = append(r.groups, g)
	r.collections = append(r.collections, coll)
	r.byAddress[addr] = int(index)
	return index, addr, nil
}

// NumberOfGroups is the number of groups created so far.
func (r *Registry) NumberOfGroups() uint64 { return uint64(len(r.groups)) }

// GroupAddress returns the address of group index.
func (r *Registry) GroupAddress(index uint64) (common.Address, error) {
	g, err := r.Group(index)
	if err != nil {
		return common.Address{}, err
	}
	return g.Address(), nil
}

// Group returns group index.
func (r *Registry) Group(index uint64) (*group.Group, error) {
	if index >= uint64(len(r.groups)) {
		return nil, domain.ErrGroupNotFound
	}
	return r.groups[index], nil
}

// GroupByAddress returns the group deployed at addr.
func (r *Registry) GroupByAddress(addr common.Address) (*group.Group, error) {
	i, ok := r.byAddress[addr]
	if !ok {
		return nil, domain.ErrGroupNotFound
	}
	return r.groups[i], nil
}

// IndexOf returns the sequence number of the group deployed at addr.
func (r *Registry) IndexOf(addr common.Address) (uint64, error) {
	i, ok := r.byAddress[addr]
	if !ok {
		return 0, domain.ErrGroupNotFound
	}
	return uint64(i), nil
}

// Collection returns the item ledger of group index.
func (r *Registry) Collection(index uint64) (*item.Ledger, error) {
	if index >= uint64(len(r.collections)) {
		return nil, domain.ErrGroupNotFound
	}
	return r.collections[index], nil
}

func (r *Registry) onlyAdmin(caller common.Address) error {
	if caller != r.admin {
		return domain.ErrNotAdmin
	}
	return nil
}

// SetTeamScoreForCreatorGroup sets the reputation score of group index.
func (r *Registry) SetTeamScoreForCreatorGroup(caller common.Address, index, score uint64) error {
	if err := r.onlyAdmin(caller); err != nil {
		return err
	}
	g, err := r.Group(index)
	if err != nil {
		return err
	}
	return g.SetTeamScore(r.address, score)
}

// AppointDirector fills a vacant director seat of group index.
func (r *Registry) AppointDirector(caller common.Address, index uint64, director common.Address) error {
	if err := r.onlyAdmin(caller); err != nil {
		return err
	}
	g, err := r.Group(index)
	if err != nil {
		return err
	}
	if g.Director() != (common.Address{}) {
		return domain.ErrDirectorSeated
	}
	return g.SetNewDirector(r.address, director)
}

// SetFeeRecipient changes where platform fees go, both the market's sale
// fee and the registry's mint and burn fees.
func (r *Registry) SetFeeRecipient(caller, recipient common.Address) error {
	if err := r.onlyAdmin(caller); err != nil {
		return err
	}
	if err := r.engine.SetFeeRecipient(r.address, recipient); err != nil {
		return err
	}
	r.feeRecipient = recipient
	return nil
}

func (r *Registry) SetMintFee(caller common.Address, fee *big.Int) error {
	if err := r.onlyAdmin(caller); err != nil {
		return err
	}
	if fee == nil || fee.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	r.mintFee = new(big.Int).Set(fee)
	return nil
}

func (r *Registry) SetBurnFee(caller common.Address, fee *big.Int) error {
	if err := r.onlyAdmin(caller); err != nil {
		return err
	}
	if fee == nil || fee.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	r.burnFee = new(big.Int).Set(fee)
	return nil
}

// WithdrawFees moves the accumulated mint and burn fees to the fee
// recipient. Nothing accrued is a successful no-op.
func (r *Registry) WithdrawFees(caller common.Address) (*big.Int, error) {
	if err := r.onlyAdmin(caller); err != nil {
		return nil, err
	}
	bal := r.payments.BalanceOf(r.address)
	if bal.Sign() == 0 {
		return bal, nil
	}
	if err := r.payments.Transfer(r.address, r.feeRecipient, bal); err != nil {
		return nil, fmt.Errorf("registry: withdraw fees: %w", err)
	}
	return bal, nil
}
