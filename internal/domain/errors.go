package domain

import "errors"

// Kind sentinels. Every marketplace rejection wraps exactly one of these so
// callers can branch on the class of failure with errors.Is.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("state conflict")
	ErrInvalid      = errors.New("invalid parameters")
)

// Infrastructure errors.
var (
	ErrRateLimited  = errors.New("rate limited")
	ErrLockHeld     = errors.New("lock already held")
	ErrBadSignature = errors.New("bad signature")
)

// Error is a rejection with a stable reason code.
type Error struct {
	Code string
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Is reports whether target is this error or its kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func newError(kind error, code, msg string) *Error {
	return &Error{Code: code, Kind: kind, Msg: msg}
}

// Authorization failures.
var (
	ErrNotDirector        = newError(ErrUnauthorized, "not_director", "only director can call this function")
	ErrNotMember          = newError(ErrUnauthorized, "not_member", "caller is not a member")
	ErrNotRegistry        = newError(ErrUnauthorized, "not_registry", "only registry can call this function")
	ErrNotAdmin           = newError(ErrUnauthorized, "not_admin", "only registry administrator can call this function")
	ErrNotOwner           = newError(ErrUnauthorized, "not_owner", "caller is not the owner")
	ErrNotListingOwner    = newError(ErrUnauthorized, "not_listing_owner", "only the listing group can call this function")
	ErrNotAuthorizedGroup = newError(ErrUnauthorized, "not_authorized_group", "caller is not an authorized group")
	ErrNotApproved        = newError(ErrUnauthorized, "not_approved", "caller is not owner nor approved")
)

// Referential failures.
var (
	ErrItemNotFound    = newError(ErrNotFound, "item_not_found", "item does not exist")
	ErrListingNotFound = newError(ErrNotFound, "listing_not_found", "listing does not exist")
	ErrGroupNotFound   = newError(ErrNotFound, "group_not_found", "group does not exist")
	ErrUnknownOp       = newError(ErrNotFound, "unknown_op", "unknown operation")
)

// State-conflict failures.
var (
	ErrZeroAddress       = newError(ErrConflict, "zero_address", "invalid address")
	ErrAlreadyMember     = newError(ErrConflict, "already_member", "already existing member")
	ErrAlreadyListed     = newError(ErrConflict, "already_listed", "already listed")
	ErrNotListed         = newError(ErrConflict, "not_listed", "not listed")
	ErrWrongMechanism    = newError(ErrConflict, "wrong_mechanism", "item is listed under a different mechanism")
	ErrItemBurned        = newError(ErrConflict, "item_burned", "item is burned")
	ErrItemSold          = newError(ErrConflict, "item_sold", "item was sold")
	ErrListingClosed     = newError(ErrConflict, "listing_closed", "listing is no longer active")
	ErrAuctionEnded      = newError(ErrConflict, "auction_ended", "auction closing time has passed")
	ErrAuctionNotEnded   = newError(ErrConflict, "auction_not_ended", "auction closing time not reached")
	ErrNothingToWithdraw = newError(ErrConflict, "nothing_to_withdraw", "nothing to withdraw")
	ErrReentrant         = newError(ErrConflict, "reentrant_call", "reentrant call")
	ErrAlreadyAuthorized = newError(ErrConflict, "already_authorized", "group already authorized")
	ErrDirectorSeated    = newError(ErrConflict, "director_seated", "group already has a director")
	ErrDuplicateNonce    = newError(ErrConflict, "duplicate_nonce", "nonce already used by caller")
	ErrLastMember        = newError(ErrConflict, "last_member", "the last member cannot leave the group")
)

// Parameter-validation failures.
var (
	ErrInvalidDutch          = newError(ErrInvalid, "invalid_dutch", "floor price must be below start price")
	ErrInvalidScore          = newError(ErrInvalid, "invalid_score", "score must be within [0,100]")
	ErrInvalidAmount         = newError(ErrInvalid, "invalid_amount", "amount must be positive")
	ErrInvalidDuration       = newError(ErrInvalid, "invalid_duration", "duration must be positive")
	ErrInvalidShare          = newError(ErrInvalid, "invalid_share", "seller share must be within [0,100]")
	ErrEmptyMembers          = newError(ErrInvalid, "empty_members", "member list is empty")
	ErrCreatorNotFirstMember = newError(ErrInvalid, "creator_not_first_member", "first member must be the creator")
	ErrBidTooLow             = newError(ErrInvalid, "bid_too_low", "bid must exceed the current price")
	ErrPaymentBelowPrice     = newError(ErrInvalid, "payment_below_price", "payment is below the current price")
	ErrInsufficientBalance   = newError(ErrInvalid, "insufficient_balance", "insufficient balance")
	ErrInsufficientAllowance = newError(ErrInvalid, "insufficient_allowance", "insufficient allowance")
	ErrInvalidArgs           = newError(ErrInvalid, "invalid_args", "invalid command arguments")
)

// Code returns the stable reason code for err, "internal" when err is not a
// marketplace rejection.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrBadSignature):
		return "bad_signature"
	}
	return "internal"
}
