package item

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/groupmarket/internal/domain"
)

var (
	factory = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	group   = common.HexToAddress("0x0000000000000000000000000000000000000091")
	engine  = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	buyer   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	self    = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New(self, factory, "Creators")
	require.NoError(t, l.TransferOwnership(factory, group))
	return l
}

func TestMintOnlyOwner(t *testing.T) {
	l := newLedger(t)
	_, err := l.Mint(factory, group, "ipfs://a")
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	id, err := l.Mint(group, group, "ipfs://a")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)
	id, err = l.Mint(group, group, "ipfs://b")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	uri, err := l.TokenURI(1)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://b", uri)
	assert.Equal(t, uint64(2), l.BalanceOf(group))
	assert.Equal(t, "Creators", l.Symbol())
}

func TestOperatorTransfer(t *testing.T) {
	l := newLedger(t)
	id, err := l.Mint(group, group, "ipfs://a")
	require.NoError(t, err)

	err = l.TransferFrom(engine, group, buyer, id)
	assert.ErrorIs(t, err, domain.ErrNotApproved)

	require.NoError(t, l.SetApprovalForAll(group, engine, true))
	require.NoError(t, l.TransferFrom(engine, group, buyer, id))

	owner, err := l.OwnerOf(id)
	require.NoError(t, err)
	assert.Equal(t, buyer, owner)
	assert.Equal(t, uint64(0), l.BalanceOf(group))

	err = l.TransferFrom(engine, group, buyer, id)
	assert.ErrorIs(t, err, domain.ErrNotOwner)
}

func TestSingleApprovalClearedOnTransfer(t *testing.T) {
	l := newLedger(t)
	id, _ := l.Mint(group, group, "ipfs://a")
	require.NoError(t, l.Approve(group, engine, id))
	require.NoError(t, l.TransferFrom(engine, group, buyer, id))
	approved, err := l.GetApproved(id)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, approved)
}

func TestBurn(t *testing.T) {
	l := newLedger(t)
	id, _ := l.Mint(group, group, "ipfs://a")
	assert.ErrorIs(t, l.Burn(buyer, id), domain.ErrNotApproved)
	require.NoError(t, l.Burn(group, id))

	_, err := l.OwnerOf(id)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
	assert.ErrorIs(t, l.Burn(group, id), domain.ErrItemNotFound)
	assert.Equal(t, uint64(1), l.Burned())
	assert.Equal(t, uint64(1), l.Minted())
}

type vetoReceiver struct{ calls int }

func (v *vetoReceiver) OnItemReceived(common.Address, common.Address, uint64) error {
	v.calls++
	return errors.New("no thanks")
}

func TestReceiverVetoRevertsTransfer(t *testing.T) {
	l := newLedger(t)
	id, _ := l.Mint(group, group, "ipfs://a")
	r := &vetoReceiver{}
	require.NoError(t, l.RegisterReceiver(buyer, r))

	err := l.TransferFrom(group, group, buyer, id)
	require.Error(t, err)
	assert.Equal(t, 1, r.calls)

	owner, _ := l.OwnerOf(id)
	assert.Equal(t, group, owner)
	assert.Equal(t, uint64(1), l.BalanceOf(group))
	assert.Equal(t, uint64(0), l.BalanceOf(buyer))
}

func TestReceiverIsOwnedByCaller(t *testing.T) {
	l := newLedger(t)
	assert.ErrorIs(t, l.RegisterReceiver(common.Address{}, &vetoReceiver{}), domain.ErrZeroAddress)

	r := &vetoReceiver{}
	require.NoError(t, l.RegisterReceiver(group, r))

	id, _ := l.Mint(group, group, "ipfs://a")
	require.NoError(t, l.TransferFrom(group, group, buyer, id), "a hook on group does not guard buyer")
	assert.Zero(t, r.calls)

	require.NoError(t, l.RegisterReceiver(buyer, nil), "clearing another hook slot leaves group's in place")
	require.Error(t, l.TransferFrom(buyer, buyer, group, id))
	assert.Equal(t, 1, r.calls)

	require.NoError(t, l.RegisterReceiver(group, nil))
	require.NoError(t, l.TransferFrom(buyer, buyer, group, id))
	assert.Equal(t, 1, r.calls)
}
