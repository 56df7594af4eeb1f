package domain

import (
	"math/big"
	"time"
)

// EventType classifies a marketplace event published on the signal bus.
type EventType string

const (
	EventGroupCreated     EventType = "group_created"
	EventMembership       EventType = "membership_changed"
	EventItemMinted       EventType = "item_minted"
	EventItemListed       EventType = "item_listed"
	EventListingCancelled EventType = "listing_cancelled"
	EventItemBurned       EventType = "item_burned"
	EventBidPlaced        EventType = "bid_placed"
	EventSaleSettled      EventType = "sale_settled"
	EventAuctionClosed    EventType = "auction_closed"
	EventWithdrawal       EventType = "withdrawal"
	EventEarnings         EventType = "earnings_realized"
	EventPayment          EventType = "payment"
	EventParams           EventType = "params_changed"
)

// Event is the public record of one applied command. Addresses are hex
// strings so the payload stays readable by non-Go subscribers.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Op        string    `json:"op"`
	Caller    string    `json:"caller"`
	Group     string    `json:"group,omitempty"`
	Mechanism Mechanism `json:"mechanism,omitempty"`
	ListingID *uint64   `json:"listing_id,omitempty"`
	LocalID   *uint64   `json:"local_id,omitempty"`
	Amount    *big.Int  `json:"amount,omitempty"`
	Winner    string    `json:"winner,omitempty"`
	At        time.Time `json:"at"`
}
