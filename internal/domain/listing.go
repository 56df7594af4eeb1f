package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Mechanism names one of the three sale registries.
type Mechanism string

const (
	MechanismEnglish  Mechanism = "english"
	MechanismDutch    Mechanism = "dutch"
	MechanismOffering Mechanism = "offering"
)

// Mechanisms lists every sale mechanism in registry order.
var Mechanisms = []Mechanism{MechanismEnglish, MechanismDutch, MechanismOffering}

// ParseMechanism validates a mechanism name.
func ParseMechanism(s string) (Mechanism, error) {
	switch m := Mechanism(s); m {
	case MechanismEnglish, MechanismDutch, MechanismOffering:
		return m, nil
	}
	return "", fmt.Errorf("%w: mechanism %q", ErrInvalidArgs, s)
}

// ListingStatus is the lifecycle state of a listing. Settled and cancelled
// are terminal.
type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingSettled   ListingStatus = "settled"
	ListingCancelled ListingStatus = "cancelled"
)

// Settlement describes how a listing was closed by the engine. Winner is
// the zero address when an auction closed without bids; Price, SellerProceeds
// and Fee are zero in that case.
type Settlement struct {
	Mechanism      Mechanism      `json:"mechanism"`
	ListingID      uint64         `json:"listing_id"`
	Group          common.Address `json:"group"`
	LocalID        uint64         `json:"local_id"`
	Winner         common.Address `json:"winner"`
	Price          *big.Int       `json:"price"`
	SellerProceeds *big.Int       `json:"seller_proceeds"`
	Fee            *big.Int       `json:"fee"`
	At             time.Time      `json:"at"`
}

// Sold reports whether the settlement moved the item to a buyer.
func (s Settlement) Sold() bool {
	return s.Winner != (common.Address{})
}
