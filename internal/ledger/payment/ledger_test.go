package payment

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/groupmarket/internal/domain"
)

var (
	owner = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	token = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New(token, owner, "Payment", "PAY")
	require.NoError(t, l.Mint(owner, alice, big.NewInt(1000)))
	return l
}

func TestMintOnlyOwner(t *testing.T) {
	l := newLedger(t)
	err := l.Mint(alice, alice, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	assert.Equal(t, "1000", l.TotalSupply().String())
	assert.ErrorIs(t, l.Mint(owner, common.Address{}, big.NewInt(1)), domain.ErrZeroAddress)
	assert.ErrorIs(t, l.Mint(owner, alice, big.NewInt(0)), domain.ErrInvalidAmount)
}

func TestTransfer(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Transfer(alice, bob, big.NewInt(400)))
	assert.Equal(t, "600", l.BalanceOf(alice).String())
	assert.Equal(t, "400", l.BalanceOf(bob).String())

	err := l.Transfer(bob, alice, big.NewInt(401))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, "400", l.BalanceOf(bob).String())
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Approve(alice, bob, big.NewInt(300)))

	err := l.TransferFrom(bob, alice, bob, big.NewInt(301))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	require.NoError(t, l.TransferFrom(bob, alice, bob, big.NewInt(200)))
	assert.Equal(t, "100", l.Allowance(alice, bob).String())
	assert.Equal(t, "800", l.BalanceOf(alice).String())
	assert.Equal(t, "200", l.BalanceOf(bob).String())

	require.NoError(t, l.TransferFrom(bob, alice, bob, big.NewInt(100)))
	assert.Equal(t, "0", l.Allowance(alice, bob).String())
}

func TestTransferFromInsufficientBalanceLeavesAllowance(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Approve(alice, bob, big.NewInt(5000)))
	err := l.TransferFrom(bob, alice, bob, big.NewInt(2000))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, "5000", l.Allowance(alice, bob).String())
	assert.Equal(t, "1000", l.BalanceOf(alice).String())
}

func TestBalanceOfReturnsCopy(t *testing.T) {
	l := newLedger(t)
	b := l.BalanceOf(alice)
	b.SetInt64(0)
	assert.Equal(t, "1000", l.BalanceOf(alice).String())
}
