package group

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// WithdrawFromMarketplace realizes the group's sale proceeds held by the
// market and splits them equally among the current members. The remainder
// of the integer division is carried to the next realization.
func (g *Group) WithdrawFromMarketplace(caller common.Address) (*big.Int, error) {
	if err := g.guard.Enter(); err != nil {
		return nil, err
	}
	defer g.guard.Exit()

	if err := g.onlyDirector(caller); err != nil {
		return nil, err
	}
	amt, err := g.market.Withdraw(g.address)
	if err != nil {
		return nil, err
	}
	g.totalEarning.Add(g.totalEarning, amt)
	g.distribute(amt)
	return amt, nil
}

func (g *Group) distribute(amt *big.Int) {
	pool := new(big.Int).Add(g.undistributed, amt)
	each, rem := new(big.Int).QuoRem(pool, big.NewInt(int64(len(g.members))), new(big.Int))
	if each.Sign() > 0 {
		for _, m := range g.members {
			b, ok := g.balances[m]
			if !ok {
				b = new(big.Int)
				g.balances[m] = b
			}
			b.Add(b, each)
		}
	}
	g.undistributed = rem
}

// Withdraw pays the caller's share to its payment account. A member with
// nothing to claim gets a successful no-op.
func (g *Group) Withdraw(caller common.Address) (*big.Int, error) {
	if err := g.guard.Enter(); err != nil {
		return nil, err
	}
	defer g.guard.Exit()

	if err := g.onlyMember(caller); err != nil {
		return nil, err
	}
	return g.payOut(caller)
}

func (g *Group) payOut(member common.Address) (*big.Int, error) {
	share, ok := g.balances[member]
	if !ok {
		return new(big.Int), nil
	}
	delete(g.balances, member)
	if err := g.payments.Transfer(g.address, member, share); err != nil {
		g.balances[member] = share
		return nil, fmt.Errorf("group: pay member: %w", err)
	}
	return new(big.Int).Set(share), nil
}

// MemberBalance is what addr may currently withdraw from the group.
func (g *Group) MemberBalance(addr common.Address) *big.Int {
	if b, ok := g.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Info summarizes the group for read APIs.
type Info struct {
	Address       common.Address   `json:"address"`
	Collection    common.Address   `json:"collection"`
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	Director      common.Address   `json:"director"`
	Members       []common.Address `json:"members"`
	TeamScore     uint8            `json:"team_score"`
	SellerShare   uint8            `json:"seller_share"`
	TotalEarning  *big.Int         `json:"total_earning"`
	Undistributed *big.Int         `json:"undistributed"`
	Minted        uint64           `json:"minted"`
	Burned        uint64           `json:"burned"`
	MarketBalance *big.Int         `json:"market_balance"`
}

// Info returns a snapshot of the group.
func (g *Group) Info() Info {
	return Info{
		Address:       g.address,
		Collection:    g.collection.Address(),
		Name:          g.name,
		Description:   g.description,
		Director:      g.director,
		Members:       g.Members(),
		TeamScore:     g.teamScore,
		SellerShare:   g.sellerShare,
		TotalEarning:  new(big.Int).Set(g.totalEarning),
		Undistributed: new(big.Int).Set(g.undistributed),
		Minted:        g.NumberOfNFT(),
		Burned:        g.burned,
		MarketBalance: g.market.GetBalanceOfUser(g.address),
	}
}
