// Package command defines the serialized form of every state-mutating
// marketplace operation and the journal they are recorded in.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/groupmarket/internal/domain"
)

// Op names an operation.
type Op string

const (
	OpPaymentMint     Op = "payment.mint"
	OpPaymentApprove  Op = "payment.approve"
	OpPaymentTransfer Op = "payment.transfer"

	OpCreateGroup     Op = "registry.create_group"
	OpSetTeamScore    Op = "registry.set_team_score"
	OpAppointDirector Op = "registry.appoint_director"
	OpSetFeeRecipient Op = "registry.set_fee_recipient"
	OpSetMintFee      Op = "registry.set_mint_fee"
	OpSetBurnFee      Op = "registry.set_burn_fee"
	OpWithdrawFees    Op = "registry.withdraw_fees"

	OpAddMember          Op = "group.add_member"
	OpLeaveGroup         Op = "group.leave"
	OpSetDirector        Op = "group.set_director"
	OpMint               Op = "group.mint"
	OpListEnglish        Op = "group.list_english"
	OpListDutch          Op = "group.list_dutch"
	OpListOffering       Op = "group.list_offering"
	OpCancelListing      Op = "group.cancel_listing"
	OpBurn               Op = "group.burn"
	OpEndEnglish         Op = "group.end_english"
	OpExecuteOffering    Op = "group.execute_offering"
	OpWithdrawFromMarket Op = "group.withdraw_from_market"
	OpGroupWithdraw      Op = "group.withdraw"

	OpBidEnglish       Op = "market.bid_english"
	OpBidOffering      Op = "market.bid_offering"
	OpBuyDutch         Op = "market.buy_dutch"
	OpWithdrawEnglish  Op = "market.withdraw_english"
	OpWithdrawOffering Op = "market.withdraw_offering"
	OpMarketWithdraw   Op = "market.withdraw"
)

// Command is one journaled operation. Seq is assigned by the journal.
type Command struct {
	Seq    int64           `json:"seq,omitempty"`
	ID     string          `json:"id"`
	Op     Op              `json:"op"`
	Caller common.Address  `json:"caller"`
	Nonce  string          `json:"nonce,omitempty"`
	Args   json.RawMessage `json:"args"`
	At     time.Time       `json:"at"`
}

// Journal is the durable, ordered log of applied commands.
type Journal interface {
	Append(ctx context.Context, cmd Command) (int64, error)
	Stream(ctx context.Context, afterSeq int64, fn func(Command) error) error
	ListUnarchived(ctx context.Context, before time.Time, limit int) ([]Command, error)
	MarkArchived(ctx context.Context, throughSeq int64) (int64, error)
	LastSeq(ctx context.Context) (int64, error)
}

// Argument payloads. Amounts are JSON numbers; durations are seconds.
type (
	PaymentMintArgs struct {
		To     common.Address `json:"to"`
		Amount *big.Int       `json:"amount"`
	}
	ApproveArgs struct {
		Spender common.Address `json:"spender"`
		Amount  *big.Int       `json:"amount"`
	}
	TransferArgs struct {
		To     common.Address `json:"to"`
		Amount *big.Int       `json:"amount"`
	}
	CreateGroupArgs struct {
		Name        string           `json:"name"`
		Description string           `json:"description"`
		Members     []common.Address `json:"members"`
	}
	TeamScoreArgs struct {
		Group uint64 `json:"group"`
		Score uint64 `json:"score"`
	}
	AddressArgs struct {
		Address common.Address `json:"address"`
	}
	FeeArgs struct {
		Fee *big.Int `json:"fee"`
	}
	GroupArgs struct {
		Group uint64 `json:"group"`
	}
	MemberArgs struct {
		Group  uint64         `json:"group"`
		Member common.Address `json:"member"`
	}
	MintArgs struct {
		Group uint64 `json:"group"`
		URI   string `json:"uri"`
	}
	ItemArgs struct {
		Group uint64 `json:"group"`
		Item  uint64 `json:"item"`
	}
	ListEnglishArgs struct {
		Group      uint64   `json:"group"`
		Item       uint64   `json:"item"`
		StartPrice *big.Int `json:"start_price"`
		Duration   int64    `json:"duration"`
	}
	ListDutchArgs struct {
		Group      uint64   `json:"group"`
		Item       uint64   `json:"item"`
		StartPrice *big.Int `json:"start_price"`
		FloorPrice *big.Int `json:"floor_price"`
		Duration   int64    `json:"duration"`
	}
	ListOfferingArgs struct {
		Group      uint64   `json:"group"`
		Item       uint64   `json:"item"`
		StartPrice *big.Int `json:"start_price"`
	}
	BidArgs struct {
		Listing uint64   `json:"listing"`
		Amount  *big.Int `json:"amount"`
	}
	ListingArgs struct {
		Listing uint64 `json:"listing"`
	}
	NoArgs struct{}
)

// MaxDurationSeconds is the longest listing duration that fits a
// time.Duration.
const MaxDurationSeconds = math.MaxInt64 / int64(time.Second)

// Seconds converts a duration argument. Values outside 1..MaxDurationSeconds
// are ErrInvalidDuration.
func Seconds(s int64) (time.Duration, error) {
	if s <= 0 || s > MaxDurationSeconds {
		return 0, fmt.Errorf("command: duration %ds: %w", s, domain.ErrInvalidDuration)
	}
	return time.Duration(s) * time.Second, nil
}

func (a *ListEnglishArgs) validate() error {
	_, err := Seconds(a.Duration)
	return err
}

func (a *ListDutchArgs) validate() error {
	_, err := Seconds(a.Duration)
	return err
}

var argTypes = map[Op]func() any{
	OpPaymentMint:        func() any { return &PaymentMintArgs{} },
	OpPaymentApprove:     func() any { return &ApproveArgs{} },
	OpPaymentTransfer:    func() any { return &TransferArgs{} },
	OpCreateGroup:        func() any { return &CreateGroupArgs{} },
	OpSetTeamScore:       func() any { return &TeamScoreArgs{} },
	OpAppointDirector:    func() any { return &MemberArgs{} },
	OpSetFeeRecipient:    func() any { return &AddressArgs{} },
	OpSetMintFee:         func() any { return &FeeArgs{} },
	OpSetBurnFee:         func() any { return &FeeArgs{} },
	OpWithdrawFees:       func() any { return &NoArgs{} },
	OpAddMember:          func() any { return &MemberArgs{} },
	OpLeaveGroup:         func() any { return &GroupArgs{} },
	OpSetDirector:        func() any { return &MemberArgs{} },
	OpMint:               func() any { return &MintArgs{} },
	OpListEnglish:        func() any { return &ListEnglishArgs{} },
	OpListDutch:          func() any { return &ListDutchArgs{} },
	OpListOffering:       func() any { return &ListOfferingArgs{} },
	OpCancelListing:      func() any { return &ItemArgs{} },
	OpBurn:               func() any { return &ItemArgs{} },
	OpEndEnglish:         func() any { return &ItemArgs{} },
	OpExecuteOffering:    func() any { return &ItemArgs{} },
	OpWithdrawFromMarket: func() any { return &GroupArgs{} },
	OpGroupWithdraw:      func() any { return &GroupArgs{} },
	OpBidEnglish:         func() any { return &BidArgs{} },
	OpBidOffering:        func() any { return &BidArgs{} },
	OpBuyDutch:           func() any { return &BidArgs{} },
	OpWithdrawEnglish:    func() any { return &ListingArgs{} },
	OpWithdrawOffering:   func() any { return &ListingArgs{} },
	OpMarketWithdraw:     func() any { return &NoArgs{} },
}

// Known reports whether op is a recognized operation.
func Known(op Op) bool {
	_, ok := argTypes[op]
	return ok
}

// Ops lists every recognized operation.
func Ops() []Op {
	out := make([]Op, 0, len(argTypes))
	for op := range argTypes {
		out = append(out, op)
	}
	return out
}

// DecodeArgs parses the arguments of c into the payload type of its op.
// Unknown fields are rejected.
func DecodeArgs(c Command) (any, error) {
	mk, ok := argTypes[c.Op]
	if !ok {
		return nil, fmt.Errorf("command: %q: %w", c.Op, domain.ErrUnknownOp)
	}
	v := mk()
	raw := c.Args
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return nil, fmt.Errorf("command: %s args: %v: %w", c.Op, err, domain.ErrInvalidArgs)
	}
	if val, ok := v.(interface{ validate() error }); ok {
		if err := val.validate(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Validate checks that c names a known op with well-formed arguments.
func (c Command) Validate() error {
	if c.Caller == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	_, err := DecodeArgs(c)
	return err
}

// SigningPayload is the canonical byte string a caller signs to submit a
// command: op, nonce and compacted args separated by newlines.
func SigningPayload(op Op, nonce string, args json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(string(op))
	buf.WriteByte('\n')
	buf.WriteString(nonce)
	buf.WriteByte('\n')
	if len(bytes.TrimSpace(args)) > 0 {
		if err := json.Compact(&buf, args); err != nil {
			return nil, fmt.Errorf("command: compact args: %v: %w", err, domain.ErrInvalidArgs)
		}
	}
	return buf.Bytes(), nil
}
