package handler

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/groupmarket/internal/command"
	"github.com/alanyoungcy/groupmarket/internal/domain"
	"github.com/alanyoungcy/groupmarket/internal/group"
	"github.com/alanyoungcy/groupmarket/internal/service"
)

// Marketplace is the part of service.Marketplace the HTTP API uses.
type Marketplace interface {
	Submit(ctx context.Context, cmd command.Command) (service.Result, error)
	Halted() bool
	Status() service.StatusView

	GroupsJSON(ctx context.Context) ([]byte, error)
	GroupJSON(ctx context.Context, index uint64) ([]byte, error)
	ListingJSON(ctx context.Context, mech domain.Mechanism, id uint64) ([]byte, error)
	Item(index, id uint64) (group.Item, error)
	DutchPrice(id uint64) (service.PriceView, error)
	Balance(addr common.Address) service.BalanceView
	PendingReturn(mech domain.Mechanism, id uint64, addr common.Address) (*big.Int, error)
	Payment(addr common.Address) service.PaymentView
}

var _ Marketplace = (*service.Marketplace)(nil)
