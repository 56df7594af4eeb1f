package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// bidBook tracks the leading bid of an English or offering listing and
// the pending returns of everyone it superseded.
//
// Conservation: escrowed == leading() + sum(pending) at all times.
type bidBook struct {
	highest  *big.Int // price to beat; starts at the start price
	leader   common.Address
	pending  map[common.Address]*big.Int
	escrowed *big.Int
	bids     int

	winner common.Address
	sold   *big.Int
}

func newBidBook(start *big.Int) bidBook {
	return bidBook{
		highest:  new(big.Int).Set(start),
		pending:  make(map[common.Address]*big.Int),
		escrowed: new(big.Int),
	}
}

func (b *bidBook) hasLeader() bool { return b.leader != (common.Address{}) }

// leading is the amount still in play for the leader, zero without one.
func (b *bidBook) leading() *big.Int {
	if !b.hasLeader() {
		return new(big.Int)
	}
	return new(big.Int).Set(b.highest)
}

// place records an already escrowed bid and supersedes the prior leader.
func (b *bidBook) place(bidder common.Address, amount *big.Int) {
	b.refundLeader()
	b.leader = bidder
	b.highest = new(big.Int).Set(amount)
	b.escrowed.Add(b.escrowed, amount)
	b.bids++
}

// refundLeader moves the leading amount into the leader's pending return.
func (b *bidBook) refundLeader() {
	if !b.hasLeader() {
		return
	}
	b.credit(b.leader, b.highest)
	b.leader = common.Address{}
}

// take removes the leading bid for settlement.
func (b *bidBook) take() (common.Address, *big.Int) {
	winner, amount := b.leader, new(big.Int).Set(b.highest)
	b.leader = common.Address{}
	b.escrowed.Sub(b.escrowed, amount)
	b.winner, b.sold = winner, new(big.Int).Set(amount)
	return winner, amount
}

// drain removes and returns who's pending return, nil when there is none.
func (b *bidBook) drain(who common.Address) *big.Int {
	amt, ok := b.pending[who]
	if !ok {
		return nil
	}
	delete(b.pending, who)
	b.escrowed.Sub(b.escrowed, amt)
	return amt
}

// restore undoes a drain whose payout failed.
func (b *bidBook) restore(who common.Address, amt *big.Int) {
	b.credit(who, amt)
	b.escrowed.Add(b.escrowed, amt)
}

func (b *bidBook) salePrice() *big.Int {
	if b.sold == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.sold)
}

func (b *bidBook) pendingOf(who common.Address) *big.Int {
	if amt, ok := b.pending[who]; ok {
		return new(big.Int).Set(amt)
	}
	return new(big.Int)
}

func (b *bidBook) pendingTotal() *big.Int {
	sum := new(big.Int)
	for _, amt := range b.pending {
		sum.Add(sum, amt)
	}
	return sum
}

func (b *bidBook) credit(who common.Address, amt *big.Int) {
	cur, ok := b.pending[who]
	if !ok {
		cur = new(big.Int)
		b.pending[who] = cur
	}
	cur.Add(cur, amt)
}
