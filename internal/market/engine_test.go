package market

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/groupmarket/internal/chain"
	"github.com/alanyoungcy/groupmarket/internal/domain"
	"github.com/alanyoungcy/groupmarket/internal/ledger/item"
	"github.com/alanyoungcy/groupmarket/internal/ledger/payment"
)

var (
	operator  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	registrar = common.HexToAddress("0x0000000000000000000000000000000000000002")
	feeTo     = common.HexToAddress("0x0000000000000000000000000000000000000003")
	engineAt  = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	tokenAt   = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	groupAt   = common.HexToAddress("0x0000000000000000000000000000000000000091")
	otherAt   = common.HexToAddress("0x0000000000000000000000000000000000000092")
	itemsAt   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	carol     = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	clock  *chain.ManualClock
	pay    *payment.Ledger
	items  *item.Ledger
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: chain.NewManualClock(t0)}
	f.pay = payment.New(tokenAt, operator, "Payment", "PAY")
	f.engine = NewEngine(Config{Address: engineAt, Registrar: registrar, FeeRecipient: feeTo}, f.pay, f.clock)
	f.items = item.New(itemsAt, groupAt, "Creators")
	require.NoError(t, f.items.SetApprovalForAll(groupAt, engineAt, true))
	require.NoError(t, f.engine.AuthorizeGroup(registrar, groupAt, f.items))

	for _, who := range []common.Address{alice, bob, carol} {
		require.NoError(t, f.pay.Mint(operator, who, big.NewInt(1_000_000)))
		require.NoError(t, f.pay.Approve(who, engineAt, big.NewInt(1_000_000)))
	}
	return f
}

func (f *fixture) mint(t *testing.T) uint64 {
	t.Helper()
	id, err := f.items.Mint(groupAt, groupAt, "ipfs://item")
	require.NoError(t, err)
	return id
}

func (f *fixture) assertSolvent(t *testing.T) {
	t.Helper()
	assert.Equal(t, f.engine.Custody().String(), f.engine.Liabilities().String(), "custody must equal liabilities")
}

func n(v int64) *big.Int { return big.NewInt(v) }

func TestAuthorizeGroupOnlyRegistrar(t *testing.T) {
	f := newFixture(t)
	err := f.engine.AuthorizeGroup(alice, otherAt, f.items)
	assert.ErrorIs(t, err, domain.ErrNotRegistry)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.False(t, f.engine.IsAuthorized(otherAt))

	err = f.engine.AuthorizeGroup(registrar, groupAt, f.items)
	assert.ErrorIs(t, err, domain.ErrAlreadyAuthorized)
}

func TestListRequiresAuthorizedOwner(t *testing.T) {
	f := newFixture(t)
	id := f.mint(t)

	_, err := f.engine.ListToEnglishAuction(otherAt, id, n(1000), time.Hour, 85)
	assert.ErrorIs(t, err, domain.ErrNotAuthorizedGroup)

	_, err = f.engine.ListToEnglishAuction(groupAt, 42, n(1000), time.Hour, 85)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	_, err = f.engine.ListToEnglishAuction(groupAt, id, n(0), time.Hour, 85)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.engine.ListToEnglishAuction(groupAt, id, n(1000), 0, 85)
	assert.ErrorIs(t, err, domain.ErrInvalidDuration)
	_, err = f.engine.ListToEnglishAuction(groupAt, id, n(1000), time.Hour, 101)
	assert.ErrorIs(t, err, domain.ErrInvalidShare)
	_, err = f.engine.ListToDutchAuction(groupAt, id, n(1000), n(1000), time.Hour, 85)
	assert.ErrorIs(t, err, domain.ErrInvalidDutch)

	assert.Equal(t, uint64(0), f.engine.Count(domain.MechanismEnglish))
	assert.Equal(t, uint64(0), f.engine.Count(domain.MechanismDutch))
}

func TestOneActiveListingPerItem(t *testing.T) {
	f := newFixture(t)
	id := f.mint(t)
	_, err := f.engine.ListToOfferingSale(groupAt, id, n(100), 85)
	require.NoError(t, err)

	_, err = f.engine.ListToEnglishAuction(groupAt, id, n(100), time.Hour, 85)
	assert.ErrorIs(t, err, domain.ErrAlreadyListed)
	_, err = f.engine.ListToDutchAuction(groupAt, id, n(100), n(1), time.Hour, 85)
	assert.ErrorIs(t, err, domain.ErrAlreadyListed)
}

func TestEnglishAuctionScenario(t *testing.T) {
	f := newFixture(t)
	itemID := f.mint(t)

	id, err := f.engine.ListToEnglishAuction(groupAt, itemID, n(1000), time.Hour, 85)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)

	assert.ErrorIs(t, f.engine.MakeBidToEnglishAuction(bob, id, n(1000)), domain.ErrBidTooLow)
	require.NoError(t, f.engine.MakeBidToEnglishAuction(bob, id, n(1500)))
	f.assertSolvent(t)
	require.NoError(t, f.engine.MakeBidToEnglishAuction(carol, id, n(2000)))
	f.assertSolvent(t)

	pending, err := f.engine.PendingReturn(domain.MechanismEnglish, id, bob)
	require.NoError(t, err)
	assert.Equal(t, "1500", pending.String())

	_, err = f.engine.EndEnglishAuction(groupAt, id)
	assert.ErrorIs(t, err, domain.ErrAuctionNotEnded)

	f.clock.Advance(time.Hour)
	assert.ErrorIs(t, f.engine.MakeBidToEnglishAuction(alice, id, n(5000)), domain.ErrAuctionEnded)

	s, err := f.engine.EndEnglishAuction(groupAt, id)
	require.NoError(t, err)
	assert.Equal(t, carol, s.Winner)
	assert.Equal(t, "2000", s.Price.String())
	assert.Equal(t, "1700", s.SellerProceeds.String())
	assert.Equal(t, "300", s.Fee.String())
	assert.True(t, s.Sold())

	owner, err := f.items.OwnerOf(itemID)
	require.NoError(t, err)
	assert.Equal(t, carol, owner)
	assert.Equal(t, "1700", f.engine.GetBalanceOfUser(groupAt).String())
	assert.Equal(t, "300", f.engine.GetBalanceOfUser(feeTo).String())
	f.assertSolvent(t)

	got, err := f.engine.WithdrawFromEnglishAuction(bob, id)
	require.NoError(t, err)
	assert.Equal(t, "1500", got.String())
	assert.Equal(t, "1000000", f.pay.BalanceOf(bob).String())

	_, err = f.engine.WithdrawFromEnglishAuction(carol, id)
	assert.ErrorIs(t, err, domain.ErrNothingToWithdraw)
	f.assertSolvent(t)

	view, err := f.engine.EnglishAuction(id)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingSettled, view.Status)
	assert.Equal(t, carol, view.Winner)
	assert.Equal(t, "2000", view.SalePrice.String())
}

func TestEnglishAuctionWithoutBidsCloses(t *testing.T) {
	f := newFixture(t)
	itemID := f.mint(t)
	id, err := f.engine.ListToEnglishAuction(groupAt, itemID, n(1000), time.Minute, 85)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	s, err := f.engine.EndEnglishAuction(groupAt, id)
	require.NoError(t, err)
	assert.False(t, s.Sold())
	assert.Equal(t, "0", s.Price.String())

	owner, _ := f.items.OwnerOf(itemID)
	assert.Equal(t, groupAt, owner)

	_, err = f.engine.ListToEnglishAuction(groupAt, itemID, n(1000), time.Minute, 85)
	require.NoError(t, err, "an unsold item can be listed again")
}

func TestBidsStrictlyIncreaseAndConserve(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.ListToOfferingSale(groupAt, f.mint(t), n(100), 85)
	require.NoError(t, err)

	bidders := []common.Address{alice, bob, carol, alice, bob}
	amounts := []int64{150, 200, 201, 500, 900}
	total := new(big.Int)
	for i, who := range bidders {
		require.NoError(t, f.engine.MakeBidToOfferingSale(who, id, n(amounts[i])))
		total.Add(total, n(amounts[i]))

		s := f.engine.offering[id]
		sum := s.book.leading()
		sum.Add(sum, s.book.pendingTotal())
		assert.Equal(t, total.String(), sum.String(), "pending + leading must equal everything escrowed")
		f.assertSolvent(t)
	}

	err = f.engine.MakeBidToOfferingSale(carol, id, n(900))
	assert.ErrorIs(t, err, domain.ErrBidTooLow)
	err = f.engine.MakeBidToOfferingSale(carol, id, n(10))
	assert.ErrorIs(t, err, domain.ErrBidTooLow)

	aliceBack, _ := f.engine.PendingReturn(domain.MechanismOffering, id, alice)
	assert.Equal(t, "650", aliceBack.String())
}

func TestLeaderCannotWithdrawLeadingBid(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.ListToEnglishAuction(groupAt, f.mint(t), n(100), time.Hour, 85)
	require.NoError(t, err)
	require.NoError(t, f.engine.MakeBidToEnglishAuction(bob, id, n(150)))

	_, err = f.engine.WithdrawFromEnglishAuction(bob, id)
	assert.ErrorIs(t, err, domain.ErrNothingToWithdraw)

	require.NoError(t, f.engine.MakeBidToEnglishAuction(bob, id, n(200)))
	got, err := f.engine.WithdrawFromEnglishAuction(bob, id)
	require.NoError(t, err)
	assert.Equal(t, "150", got.String(), "only the superseded bid is withdrawable")
	f.assertSolvent(t)
}

func TestBidWithoutAllowanceChangesNothing(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.ListToEnglishAuction(groupAt, f.mint(t), n(100), time.Hour, 85)
	require.NoError(t, err)
	require.NoError(t, f.pay.Approve(bob, engineAt, n(10)))

	err = f.engine.MakeBidToEnglishAuction(bob, id, n(500))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	view, _ := f.engine.EnglishAuction(id)
	assert.Equal(t, common.Address{}, view.HighestBidder)
	assert.Equal(t, "100", view.CurrentPrice.String())
	assert.Equal(t, "0", f.engine.Custody().String())
}

func TestDutchAuctionScenario(t *testing.T) {
	f := newFixture(t)
	itemID := f.mint(t)
	id, err := f.engine.ListToDutchAuction(groupAt, itemID, n(1000), n(100), time.Hour, 85)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	price, err := f.engine.GetDutchAuctionPrice(id)
	require.NoError(t, err)
	assert.Equal(t, "550", price.String())

	_, err = f.engine.BuyDutchAuction(bob, id, n(549))
	assert.ErrorIs(t, err, domain.ErrPaymentBelowPrice)
	f.assertSolvent(t)

	s, err := f.engine.BuyDutchAuction(bob, id, n(550))
	require.NoError(t, err)
	assert.Equal(t, bob, s.Winner)
	assert.Equal(t, "467", s.SellerProceeds.String())
	assert.Equal(t, "83", s.Fee.String())

	owner, _ := f.items.OwnerOf(itemID)
	assert.Equal(t, bob, owner)
	f.assertSolvent(t)

	_, err = f.engine.BuyDutchAuction(carol, id, n(5000))
	assert.ErrorIs(t, err, domain.ErrListingClosed)
	_, err = f.engine.GetDutchAuctionPrice(id)
	assert.ErrorIs(t, err, domain.ErrListingClosed)

	view, err := f.engine.DutchAuction(id)
	require.NoError(t, err)
	assert.Equal(t, bob, view.Buyer)
	assert.Equal(t, "550", view.SalePrice.String())
}

func TestDutchPriceMonotonicAndClamped(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.ListToDutchAuction(groupAt, f.mint(t), n(1_000_003), n(7), 97*time.Second, 85)
	require.NoError(t, err)

	prev, err := f.engine.GetDutchAuctionPrice(id)
	require.NoError(t, err)
	assert.Equal(t, "1000003", prev.String())
	for i := 0; i < 120; i++ {
		f.clock.Advance(time.Second)
		cur, err := f.engine.GetDutchAuctionPrice(id)
		require.NoError(t, err)
		assert.True(t, cur.Cmp(prev) <= 0, "price must not increase")
		if i >= 96 {
			assert.Equal(t, "7", cur.String())
		}
		prev = cur
	}
}

func TestOfferingSaleScenario(t *testing.T) {
	f := newFixture(t)
	itemID := f.mint(t)
	id, err := f.engine.ListToOfferingSale(groupAt, itemID, n(1000), 85)
	require.NoError(t, err)

	require.NoError(t, f.engine.MakeBidToOfferingSale(alice, id, n(5000)))
	require.NoError(t, f.engine.MakeBidToOfferingSale(bob, id, n(5500)))
	back, _ := f.engine.PendingReturn(domain.MechanismOffering, id, alice)
	assert.Equal(t, "5000", back.String())

	_, err = f.engine.ExecuteOfferingSaleTransaction(alice, id)
	assert.ErrorIs(t, err, domain.ErrNotListingOwner)

	s, err := f.engine.ExecuteOfferingSaleTransaction(groupAt, id)
	require.NoError(t, err)
	assert.Equal(t, bob, s.Winner)
	assert.Equal(t, "4675", s.SellerProceeds.String())
	assert.Equal(t, "825", s.Fee.String())
	f.assertSolvent(t)

	got, err := f.engine.WithdrawFromOfferingSale(alice, id)
	require.NoError(t, err)
	assert.Equal(t, "5000", got.String())
	f.assertSolvent(t)
}

func TestClosedListingsRejectEverything(t *testing.T) {
	f := newFixture(t)
	eID, err := f.engine.ListToEnglishAuction(groupAt, f.mint(t), n(100), time.Hour, 85)
	require.NoError(t, err)
	dID, err := f.engine.ListToDutchAuction(groupAt, f.mint(t), n(100), n(10), time.Hour, 85)
	require.NoError(t, err)
	oID, err := f.engine.ListToOfferingSale(groupAt, f.mint(t), n(100), 85)
	require.NoError(t, err)

	require.NoError(t, f.engine.CancelListing(groupAt, domain.MechanismEnglish, eID))
	require.NoError(t, f.engine.CancelListing(groupAt, domain.MechanismDutch, dID))
	require.NoError(t, f.engine.CancelListing(groupAt, domain.MechanismOffering, oID))
	f.clock.Advance(2 * time.Hour)

	assert.ErrorIs(t, f.engine.MakeBidToEnglishAuction(bob, eID, n(500)), domain.ErrListingClosed)
	assert.ErrorIs(t, f.engine.MakeBidToOfferingSale(bob, oID, n(500)), domain.ErrListingClosed)
	_, err = f.engine.BuyDutchAuction(bob, dID, n(500))
	assert.ErrorIs(t, err, domain.ErrListingClosed)
	_, err = f.engine.EndEnglishAuction(groupAt, eID)
	assert.ErrorIs(t, err, domain.ErrListingClosed)
	_, err = f.engine.ExecuteOfferingSaleTransaction(groupAt, oID)
	assert.ErrorIs(t, err, domain.ErrListingClosed)
	for _, m := range domain.Mechanisms {
		assert.ErrorIs(t, f.engine.CancelListing(groupAt, m, 0), domain.ErrListingClosed)
	}
	f.assertSolvent(t)
}

func TestCancelRefundsLeaderAndRoundTrip(t *testing.T) {
	f := newFixture(t)
	itemID := f.mint(t)
	id, err := f.engine.ListToEnglishAuction(groupAt, itemID, n(100), time.Hour, 85)
	require.NoError(t, err)
	require.NoError(t, f.engine.MakeBidToEnglishAuction(bob, id, n(300)))

	assert.ErrorIs(t, f.engine.CancelListing(otherAt, domain.MechanismEnglish, id), domain.ErrNotListingOwner)
	require.NoError(t, f.engine.CancelListing(groupAt, domain.MechanismEnglish, id))
	f.assertSolvent(t)

	back, _ := f.engine.PendingReturn(domain.MechanismEnglish, id, bob)
	assert.Equal(t, "300", back.String())
	_, err = f.engine.WithdrawFromEnglishAuction(bob, id)
	require.NoError(t, err)
	assert.Equal(t, "0", f.engine.Custody().String())

	// list then cancel straight away leaves nothing behind
	id2, err := f.engine.ListToOfferingSale(groupAt, itemID, n(100), 85)
	require.NoError(t, err)
	require.NoError(t, f.engine.CancelListing(groupAt, domain.MechanismOffering, id2))
	assert.Equal(t, "0", f.engine.Custody().String())
	assert.Equal(t, "0", f.engine.Liabilities().String())
}

func TestUnknownListing(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.engine.MakeBidToEnglishAuction(bob, 7, n(1)), domain.ErrListingNotFound)
	_, err := f.engine.BuyDutchAuction(bob, 7, n(1))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.engine.PendingReturn(domain.MechanismOffering, 7, bob)
	assert.ErrorIs(t, err, domain.ErrListingNotFound)
	assert.ErrorIs(t, f.engine.CancelListing(groupAt, "auction", 0), domain.ErrInvalidArgs)
}

func TestWithdrawGeneralBalance(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.ListToOfferingSale(groupAt, f.mint(t), n(100), 85)
	require.NoError(t, err)
	require.NoError(t, f.engine.MakeBidToOfferingSale(bob, id, n(1000)))
	_, err = f.engine.ExecuteOfferingSaleTransaction(groupAt, id)
	require.NoError(t, err)

	got, err := f.engine.Withdraw(feeTo)
	require.NoError(t, err)
	assert.Equal(t, "150", got.String())
	assert.Equal(t, "150", f.pay.BalanceOf(feeTo).String())

	_, err = f.engine.Withdraw(feeTo)
	assert.ErrorIs(t, err, domain.ErrNothingToWithdraw)

	got, err = f.engine.Withdraw(groupAt)
	require.NoError(t, err)
	assert.Equal(t, "850", got.String())
	assert.Equal(t, "0", f.engine.Custody().String())
	f.assertSolvent(t)
}

func TestReadsAreIdempotent(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.ListToDutchAuction(groupAt, f.mint(t), n(1000), n(100), time.Hour, 85)
	require.NoError(t, err)
	f.clock.Advance(17 * time.Minute)

	p1, _ := f.engine.GetDutchAuctionPrice(id)
	p2, _ := f.engine.GetDutchAuctionPrice(id)
	assert.Equal(t, p1, p2)

	b1 := f.engine.GetBalanceOfUser(bob)
	b2 := f.engine.GetBalanceOfUser(bob)
	assert.Equal(t, b1, b2)

	v1, _ := f.engine.DutchAuction(id)
	v2, _ := f.engine.DutchAuction(id)
	assert.Equal(t, v1, v2)
}

// reentrantReceiver tries to bid again from inside the item delivery.
type reentrantReceiver struct {
	engine *Engine
	id     uint64
	err    error
}

func (r *reentrantReceiver) OnItemReceived(common.Address, common.Address, uint64) error {
	r.err = r.engine.MakeBidToOfferingSale(alice, r.id, n(1_000))
	return r.err
}

func TestReentrantCallbackIsRejected(t *testing.T) {
	f := newFixture(t)
	itemID := f.mint(t)
	id, err := f.engine.ListToOfferingSale(groupAt, itemID, n(100), 85)
	require.NoError(t, err)
	require.NoError(t, f.engine.MakeBidToOfferingSale(bob, id, n(500)))

	r := &reentrantReceiver{engine: f.engine, id: id}
	require.NoError(t, f.items.RegisterReceiver(bob, r))

	_, err = f.engine.ExecuteOfferingSaleTransaction(groupAt, id)
	assert.ErrorIs(t, err, domain.ErrReentrant)
	assert.ErrorIs(t, r.err, domain.ErrReentrant)

	status, _ := f.engine.ListingStatus(domain.MechanismOffering, id)
	assert.Equal(t, domain.ListingActive, status)
	owner, _ := f.items.OwnerOf(itemID)
	assert.Equal(t, groupAt, owner)
	f.assertSolvent(t)

	require.NoError(t, f.items.RegisterReceiver(bob, nil))
	_, err = f.engine.ExecuteOfferingSaleTransaction(groupAt, id)
	require.NoError(t, err)
}

type refusingReceiver struct{}

func (refusingReceiver) OnItemReceived(common.Address, common.Address, uint64) error {
	return errors.New("refused")
}

func TestFailedDeliveryRefundsDutchBuyer(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.ListToDutchAuction(groupAt, f.mint(t), n(1000), n(100), time.Hour, 85)
	require.NoError(t, err)
	require.NoError(t, f.items.RegisterReceiver(carol, refusingReceiver{}))

	_, err = f.engine.BuyDutchAuction(carol, id, n(1000))
	require.Error(t, err)
	assert.Equal(t, "1000000", f.pay.BalanceOf(carol).String())
	status, _ := f.engine.ListingStatus(domain.MechanismDutch, id)
	assert.Equal(t, domain.ListingActive, status)
	f.assertSolvent(t)
}

func TestSplit(t *testing.T) {
	cases := []struct {
		price       int64
		share       uint8
		seller, fee string
	}{
		{2000, 85, "1700", "300"},
		{550, 85, "467", "83"},
		{99, 100, "99", "0"},
		{99, 0, "0", "99"},
		{1, 85, "0", "1"},
	}
	for _, tc := range cases {
		seller, fee := Split(n(tc.price), tc.share)
		assert.Equal(t, tc.seller, seller.String(), "price %d", tc.price)
		assert.Equal(t, tc.fee, fee.String(), "price %d", tc.price)
	}
}
