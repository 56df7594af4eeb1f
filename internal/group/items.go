package group

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/groupmarket/internal/domain"
)

// Item is the group's view of one local item.
type Item struct {
	ID        uint64           `json:"id"`
	URI       string           `json:"uri"`
	Burned    bool             `json:"burned"`
	Listed    bool             `json:"listed"`
	Sold      bool             `json:"sold"`
	Mechanism domain.Mechanism `json:"mechanism,omitempty"`
	ListingID *uint64          `json:"listing_id,omitempty"`
}

// Mint charges the registry mint fee to the director and mints a new item
// into the group's collection. Local ids start at 0.
func (g *Group) Mint(caller common.Address, uri string) (uint64, error) {
	if err := g.guard.Enter(); err != nil {
		return 0, err
	}
	defer g.guard.Exit()

	if err := g.onlyDirector(caller); err != nil {
		return 0, err
	}
	fee := g.registry.MintFee()
	if err := g.chargeFee(caller, fee); err != nil {
		return 0, err
	}
	id, err := g.collection.Mint(g.address, g.address, uri)
	if err != nil {
		return 0, g.refundFee(caller, fee, fmt.Errorf("group: mint: %w", err))
	}
	if id != uint64(len(g.items)) {
		return 0, fmt.Errorf("group: mint: collection returned id %d, expected %d", id, len(g.items))
	}
	g.items = append(g.items, &itemRecord{uri: uri})
	return id, nil
}

// record returns the local record of id after folding in any Dutch sale
// the market completed since the group last looked.
func (g *Group) record(id uint64) (*itemRecord, error) {
	if id >= uint64(len(g.items)) {
		return nil, domain.ErrItemNotFound
	}
	rec := g.items[id]
	if g.dutchSold(rec) {
		rec.listed = false
		rec.sold = true
	}
	return rec, nil
}

func (g *Group) dutchSold(rec *itemRecord) bool {
	if !rec.listed || rec.mechanism != domain.MechanismDutch {
		return false
	}
	status, err := g.market.ListingStatus(domain.MechanismDutch, rec.listingID)
	return err == nil && status == domain.ListingSettled
}

// listable checks that id may be put on the market.
func (g *Group) listable(id uint64) (*itemRecord, error) {
	rec, err := g.record(id)
	if err != nil {
		return nil, err
	}
	switch {
	case rec.burned:
		return nil, domain.ErrItemBurned
	case rec.listed:
		return nil, domain.ErrAlreadyListed
	case rec.sold:
		return nil, domain.ErrItemSold
	}
	return rec, nil
}

func (g *Group) begin(caller common.Address, id uint64) (*itemRecord, func(), error) {
	if err := g.guard.Enter(); err != nil {
		return nil, nil, err
	}
	if err := g.onlyDirector(caller); err != nil {
		g.guard.Exit()
		return nil, nil, err
	}
	rec, err := g.listable(id)
	if err != nil {
		g.guard.Exit()
		return nil, nil, err
	}
	return rec, g.guard.Exit, nil
}

func (rec *itemRecord) markListed(m domain.Mechanism, listingID uint64) {
	rec.listed = true
	rec.mechanism = m
	rec.listingID = listingID
}

// ListToEnglishAuction lists id in a rising-price auction.
func (g *Group) ListToEnglishAuction(caller common.Address, id uint64, start *big.Int, duration time.Duration) (uint64, error) {
	rec, done, err := g.begin(caller, id)
	if err != nil {
		return 0, err
	}
	defer done()

	listingID, err := g.market.ListToEnglishAuction(g.address, id, start, duration, g.sellerShare)
	if err != nil {
		return 0, err
	}
	rec.markListed(domain.MechanismEnglish, listingID)
	return listingID, nil
}

// ListToDutchAuction lists id in a falling-price auction.
func (g *Group) ListToDutchAuction(caller common.Address, id uint64, start, floor *big.Int, duration time.Duration) (uint64, error) {
	rec, done, err := g.begin(caller, id)
	if err != nil {
		return 0, err
	}
	defer done()

	if start == nil || floor == nil || floor.Cmp(start) >= 0 {
		return 0, domain.ErrInvalidDutch
	}
	listingID, err := g.market.ListToDutchAuction(g.address, id, start, floor, duration, g.sellerShare)
	if err != nil {
		return 0, err
	}
	rec.markListed(domain.MechanismDutch, listingID)
	return listingID, nil
}

// ListToOfferingSale lists id for open bidding.
func (g *Group) ListToOfferingSale(caller common.Address, id uint64, start *big.Int) (uint64, error) {
	rec, done, err := g.begin(caller, id)
	if err != nil {
		return 0, err
	}
	defer done()

	listingID, err := g.market.ListToOfferingSale(g.address, id, start, g.sellerShare)
	if err != nil {
		return 0, err
	}
	rec.markListed(domain.MechanismOffering, listingID)
	return listingID, nil
}

// listed runs the shared preamble of operations on a listed item.
func (g *Group) listed(caller common.Address, id uint64) (*itemRecord, error) {
	if err := g.onlyDirector(caller); err != nil {
		return nil, err
	}
	rec, err := g.record(id)
	if err != nil {
		return nil, err
	}
	if !rec.listed {
		return nil, domain.ErrNotListed
	}
	return rec, nil
}

// CancelListing withdraws id from the market. Any leading bid becomes
// withdrawable by its bidder.
func (g *Group) CancelListing(caller common.Address, id uint64) error {
	if err := g.guard.Enter(); err != nil {
		return err
	}
	defer g.guard.Exit()

	rec, err := g.listed(caller, id)
	if err != nil {
		return err
	}
	if err := g.market.CancelListing(g.address, rec.mechanism, rec.listingID); err != nil {
		return err
	}
	rec.listed = false
	return nil
}

// ExecuteBurnTransaction charges the burn fee and destroys an unlisted item.
func (g *Group) ExecuteBurnTransaction(caller common.Address, id uint64) error {
	if err := g.guard.Enter(); err != nil {
		return err
	}
	defer g.guard.Exit()

	if err := g.onlyDirector(caller); err != nil {
		return err
	}
	rec, err := g.listable(id)
	if err != nil {
		return err
	}
	fee := g.registry.BurnFee()
	if err := g.chargeFee(caller, fee); err != nil {
		return err
	}
	if err := g.collection.Burn(g.address, id); err != nil {
		return g.refundFee(caller, fee, fmt.Errorf("group: burn %d: %w", id, err))
	}
	rec.burned = true
	g.burned++
	return nil
}

// EndEnglishAuction finalizes the English listing of id. Without bids the
// item simply returns to the unlisted state.
func (g *Group) EndEnglishAuction(caller common.Address, id uint64) (domain.Settlement, error) {
	return g.settle(caller, id, domain.MechanismEnglish, g.market.EndEnglishAuction)
}

// ExecuteOfferingSaleTransaction sells id to its leading offer.
func (g *Group) ExecuteOfferingSaleTransaction(caller common.Address, id uint64) (domain.Settlement, error) {
	return g.settle(caller, id, domain.MechanismOffering, g.market.ExecuteOfferingSaleTransaction)
}

func (g *Group) settle(caller common.Address, id uint64, m domain.Mechanism, finalize func(common.Address, uint64) (domain.Settlement, error)) (domain.Settlement, error) {
	if err := g.guard.Enter(); err != nil {
		return domain.Settlement{}, err
	}
	defer g.guard.Exit()

	rec, err := g.listed(caller, id)
	if err != nil {
		return domain.Settlement{}, err
	}
	if rec.mechanism != m {
		return domain.Settlement{}, domain.ErrWrongMechanism
	}
	s, err := finalize(g.address, rec.listingID)
	if err != nil {
		return domain.Settlement{}, err
	}
	rec.listed = false
	rec.sold = s.Sold()
	return s, nil
}

// Item returns the view of local item id. A completed Dutch sale shows as
// sold even before the group has touched the item again.
func (g *Group) Item(id uint64) (Item, error) {
	if id >= uint64(len(g.items)) {
		return Item{}, domain.ErrItemNotFound
	}
	rec := g.items[id]
	it := Item{ID: id, URI: rec.uri, Burned: rec.burned, Listed: rec.listed, Sold: rec.sold}
	if g.dutchSold(rec) {
		it.Listed, it.Sold = false, true
	}
	if rec.listed || rec.sold {
		lid := rec.listingID
		it.Mechanism = rec.mechanism
		it.ListingID = &lid
	}
	return it, nil
}

// NumberOfNFT is the number of items ever minted by the group.
func (g *Group) NumberOfNFT() uint64 { return uint64(len(g.items)) }

// NumberOfBurnedNFT is the number of burned items.
func (g *Group) NumberOfBurnedNFT() uint64 { return g.burned }
