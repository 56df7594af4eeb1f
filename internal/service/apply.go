package service

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/groupmarket/internal/command"
	"github.com/alanyoungcy/groupmarket/internal/domain"
	"github.com/alanyoungcy/groupmarket/internal/group"
)

// Result is what a successfully applied command reports back.
type Result struct {
	Op         command.Op         `json:"op"`
	GroupIndex *uint64            `json:"group_index,omitempty"`
	Group      *common.Address    `json:"group,omitempty"`
	Mechanism  domain.Mechanism   `json:"mechanism,omitempty"`
	ListingID  *uint64            `json:"listing_id,omitempty"`
	Item       *uint64            `json:"item,omitempty"`
	Amount     *big.Int           `json:"amount,omitempty"`
	Settlement *domain.Settlement `json:"settlement,omitempty"`
}

func u64(v uint64) *uint64 { return &v }

// Apply executes cmd against the state. The caller must hold the runtime
// write lock, i.e. call Apply from inside Runtime.Do.
func (s *State) Apply(cmd command.Command) (Result, error) {
	v, err := command.DecodeArgs(cmd)
	if err != nil {
		return Result{}, err
	}
	res := Result{Op: cmd.Op}
	caller := cmd.Caller

	switch args := v.(type) {
	case *command.PaymentMintArgs:
		return res, s.Payments.Mint(caller, args.To, args.Amount)
	case *command.ApproveArgs:
		return res, s.Payments.Approve(caller, args.Spender, args.Amount)
	case *command.TransferArgs:
		return res, s.Payments.Transfer(caller, args.To, args.Amount)
	case *command.CreateGroupArgs:
		index, addr, err := s.Registry.CreateGroup(caller, args.Name, args.Description, args.Members)
		if err != nil {
			return Result{}, err
		}
		res.GroupIndex, res.Group = u64(index), &addr
		return res, nil
	case *command.TeamScoreArgs:
		if err := s.setGroup(&res, args.Group); err != nil {
			return Result{}, err
		}
		return res, s.Registry.SetTeamScoreForCreatorGroup(caller, args.Group, args.Score)
	case *command.AddressArgs:
		return res, s.Registry.SetFeeRecipient(caller, args.Address)
	case *command.FeeArgs:
		if cmd.Op == command.OpSetBurnFee {
			return res, s.Registry.SetBurnFee(caller, args.Fee)
		}
		return res, s.Registry.SetMintFee(caller, args.Fee)
	case *command.NoArgs:
		return s.applyNoArgs(cmd, res)
	case *command.MemberArgs:
		return s.applyMember(cmd, res, args)
	case *command.GroupArgs:
		return s.applyGroup(cmd, res, args)
	case *command.MintArgs:
		g, err := s.group(&res, args.Group)
		if err != nil {
			return Result{}, err
		}
		id, err := g.Mint(caller, args.URI)
		if err != nil {
			return Result{}, err
		}
		res.Item = u64(id)
		return res, nil
	case *command.ListEnglishArgs:
		g, err := s.group(&res, args.Group)
		if err != nil {
			return Result{}, err
		}
		d, err := command.Seconds(args.Duration)
		if err != nil {
			return Result{}, err
		}
		id, err := g.ListToEnglishAuction(caller, args.Item, args.StartPrice, d)
		return listed(res, domain.MechanismEnglish, args.Item, id, err)
	case *command.ListDutchArgs:
		g, err := s.group(&res, args.Group)
		if err != nil {
			return Result{}, err
		}
		d, err := command.Seconds(args.Duration)
		if err != nil {
			return Result{}, err
		}
		id, err := g.ListToDutchAuction(caller, args.Item, args.StartPrice, args.FloorPrice, d)
		return listed(res, domain.MechanismDutch, args.Item, id, err)
	case *command.ListOfferingArgs:
		g, err := s.group(&res, args.Group)
		if err != nil {
			return Result{}, err
		}
		id, err := g.ListToOfferingSale(caller, args.Item, args.StartPrice)
		return listed(res, domain.MechanismOffering, args.Item, id, err)
	case *command.ItemArgs:
		return s.applyItem(cmd, res, args)
	case *command.BidArgs:
		return s.applyBid(cmd, res, args)
	case *command.ListingArgs:
		m := domain.MechanismEnglish
		withdraw := s.Engine.WithdrawFromEnglishAuction
		if cmd.Op == command.OpWithdrawOffering {
			m, withdraw = domain.MechanismOffering, s.Engine.WithdrawFromOfferingSale
		}
		amt, err := withdraw(caller, args.Listing)
		if err != nil {
			return Result{}, err
		}
		res.Mechanism, res.ListingID, res.Amount = m, u64(args.Listing), amt
		return res, nil
	}
	return Result{}, fmt.Errorf("service: apply %s: %w", cmd.Op, domain.ErrUnknownOp)
}

func listed(res Result, m domain.Mechanism, item, id uint64, err error) (Result, error) {
	if err != nil {
		return Result{}, err
	}
	res.Mechanism, res.Item, res.ListingID = m, u64(item), u64(id)
	return res, nil
}

func (s *State) setGroup(res *Result, index uint64) error {
	addr, err := s.Registry.GroupAddress(index)
	if err != nil {
		return err
	}
	res.GroupIndex, res.Group = u64(index), &addr
	return nil
}

func (s *State) group(res *Result, index uint64) (*group.Group, error) {
	g, err := s.Registry.Group(index)
	if err != nil {
		return nil, err
	}
	addr := g.Address()
	res.GroupIndex, res.Group = u64(index), &addr
	return g, nil
}

func (s *State) applyNoArgs(cmd command.Command, res Result) (Result, error) {
	var (
		amt *big.Int
		err error
	)
	switch cmd.Op {
	case command.OpWithdrawFees:
		amt, err = s.Registry.WithdrawFees(cmd.Caller)
	case command.OpMarketWithdraw:
		amt, err = s.Engine.Withdraw(cmd.Caller)
	default:
		return Result{}, domain.ErrUnknownOp
	}
	if err != nil {
		return Result{}, err
	}
	res.Amount = amt
	return res, nil
}

func (s *State) applyMember(cmd command.Command, res Result, args *command.MemberArgs) (Result, error) {
	if cmd.Op == command.OpAppointDirector {
		if err := s.setGroup(&res, args.Group); err != nil {
			return Result{}, err
		}
		return res, s.Registry.AppointDirector(cmd.Caller, args.Group, args.Member)
	}
	g, err := s.group(&res, args.Group)
	if err != nil {
		return Result{}, err
	}
	if cmd.Op == command.OpSetDirector {
		return res, g.SetNewDirector(cmd.Caller, args.Member)
	}
	return res, g.AddMember(cmd.Caller, args.Member)
}

func (s *State) applyGroup(cmd command.Command, res Result, args *command.GroupArgs) (Result, error) {
	g, err := s.group(&res, args.Group)
	if err != nil {
		return Result{}, err
	}
	var amt *big.Int
	switch cmd.Op {
	case command.OpLeaveGroup:
		amt, err = g.LeaveGroup(cmd.Caller)
	case command.OpWithdrawFromMarket:
		amt, err = g.WithdrawFromMarketplace(cmd.Caller)
	case command.OpGroupWithdraw:
		amt, err = g.Withdraw(cmd.Caller)
	default:
		return Result{}, domain.ErrUnknownOp
	}
	if err != nil {
		return Result{}, err
	}
	res.Amount = amt
	return res, nil
}

func (s *State) applyItem(cmd command.Command, res Result, args *command.ItemArgs) (Result, error) {
	g, err := s.group(&res, args.Group)
	if err != nil {
		return Result{}, err
	}
	res.Item = u64(args.Item)

	switch cmd.Op {
	case command.OpCancelListing:
		it, err := g.Item(args.Item)
		if err != nil {
			return Result{}, err
		}
		if err := g.CancelListing(cmd.Caller, args.Item); err != nil {
			return Result{}, err
		}
		res.Mechanism, res.ListingID = it.Mechanism, it.ListingID
		return res, nil
	case command.OpBurn:
		return res, g.ExecuteBurnTransaction(cmd.Caller, args.Item)
	case command.OpEndEnglish, command.OpExecuteOffering:
		settle := g.EndEnglishAuction
		if cmd.Op == command.OpExecuteOffering {
			settle = g.ExecuteOfferingSaleTransaction
		}
		st, err := settle(cmd.Caller, args.Item)
		if err != nil {
			return Result{}, err
		}
		return settled(res, st), nil
	}
	return Result{}, domain.ErrUnknownOp
}

func settled(res Result, st domain.Settlement) Result {
	res.Mechanism = st.Mechanism
	res.ListingID = u64(st.ListingID)
	res.Item = u64(st.LocalID)
	res.Amount = st.Price
	res.Settlement = &st
	return res
}

func (s *State) applyBid(cmd command.Command, res Result, args *command.BidArgs) (Result, error) {
	var (
		m   domain.Mechanism
		err error
	)
	switch cmd.Op {
	case command.OpBidEnglish:
		m, err = domain.MechanismEnglish, s.Engine.MakeBidToEnglishAuction(cmd.Caller, args.Listing, args.Amount)
	case command.OpBidOffering:
		m, err = domain.MechanismOffering, s.Engine.MakeBidToOfferingSale(cmd.Caller, args.Listing, args.Amount)
	case command.OpBuyDutch:
		st, err := s.Engine.BuyDutchAuction(cmd.Caller, args.Listing, args.Amount)
		if err != nil {
			return Result{}, err
		}
		res = settled(res, st)
		res.Group = &st.Group
		res.GroupIndex = s.groupIndex(st.Group)
		return res, nil
	default:
		return Result{}, domain.ErrUnknownOp
	}
	if err != nil {
		return Result{}, err
	}
	l, lerr := s.Engine.Listing(m, args.Listing)
	if lerr == nil {
		res.Group = &l.Group
		res.GroupIndex = s.groupIndex(l.Group)
		res.Item = u64(l.LocalID)
	}
	res.Mechanism, res.ListingID, res.Amount = m, u64(args.Listing), args.Amount
	return res, nil
}

func (s *State) groupIndex(addr common.Address) *uint64 {
	i, err := s.Registry.IndexOf(addr)
	if err != nil {
		return nil
	}
	return u64(i)
}

// Event renders the public event for an applied command.
func (r Result) Event(cmd command.Command) domain.Event {
	ev := domain.Event{
		ID:        cmd.ID,
		Type:      eventType(cmd.Op, r),
		Op:        string(cmd.Op),
		Caller:    cmd.Caller.Hex(),
		Mechanism: r.Mechanism,
		ListingID: r.ListingID,
		LocalID:   r.Item,
		Amount:    r.Amount,
		At:        cmd.At,
	}
	if r.Group != nil {
		ev.Group = r.Group.Hex()
	}
	if r.Settlement != nil && r.Settlement.Sold() {
		ev.Winner = r.Settlement.Winner.Hex()
	}
	return ev
}

func eventType(op command.Op, r Result) domain.EventType {
	switch op {
	case command.OpPaymentMint, command.OpPaymentApprove, command.OpPaymentTransfer:
		return domain.EventPayment
	case command.OpCreateGroup:
		return domain.EventGroupCreated
	case command.OpSetTeamScore, command.OpSetFeeRecipient, command.OpSetMintFee, command.OpSetBurnFee:
		return domain.EventParams
	case command.OpAddMember, command.OpLeaveGroup, command.OpSetDirector, command.OpAppointDirector:
		return domain.EventMembership
	case command.OpMint:
		return domain.EventItemMinted
	case command.OpListEnglish, command.OpListDutch, command.OpListOffering:
		return domain.EventItemListed
	case command.OpCancelListing:
		return domain.EventListingCancelled
	case command.OpBurn:
		return domain.EventItemBurned
	case command.OpBidEnglish, command.OpBidOffering:
		return domain.EventBidPlaced
	case command.OpEndEnglish, command.OpExecuteOffering, command.OpBuyDutch:
		if r.Settlement != nil && r.Settlement.Sold() {
			return domain.EventSaleSettled
		}
		return domain.EventAuctionClosed
	case command.OpWithdrawFromMarket:
		return domain.EventEarnings
	}
	return domain.EventWithdrawal
}

// CacheKeys lists the cached views an applied command may have changed.
func (r Result) CacheKeys() []string {
	keys := []string{GroupsKey}
	if r.GroupIndex != nil {
		keys = append(keys, GroupKey(*r.GroupIndex))
	}
	if r.Mechanism != "" && r.ListingID != nil {
		keys = append(keys, ListingKey(r.Mechanism, *r.ListingID))
	}
	return keys
}

// Cache keys of rendered read views.
const GroupsKey = "view:groups"

func GroupKey(index uint64) string { return "view:group:" + strconv.FormatUint(index, 10) }

func ListingKey(m domain.Mechanism, id uint64) string {
	return "view:listing:" + string(m) + ":" + strconv.FormatUint(id, 10)
}
