package service

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/groupmarket/internal/chain"
	"github.com/alanyoungcy/groupmarket/internal/ledger/payment"
	"github.com/alanyoungcy/groupmarket/internal/market"
	"github.com/alanyoungcy/groupmarket/internal/registry"
)

// StateParams fixes everything needed to rebuild identical state from the
// same command journal.
type StateParams struct {
	Operator      common.Address // registry admin and payment token owner
	FeeRecipient  common.Address
	MintFee       *big.Int
	BurnFee       *big.Int
	SellerShare   uint8
	TokenName     string
	TokenSymbol   string
	InitialSupply *big.Int // minted to the operator at genesis
}

// Addresses are the deterministic identities of the singleton components.
type Addresses struct {
	Engine   common.Address `json:"engine"`
	Registry common.Address `json:"registry"`
	Token    common.Address `json:"token"`
}

// DeriveAddresses returns the component addresses deployed by operator.
func DeriveAddresses(operator common.Address) Addresses {
	return Addresses{
		Engine:   ethcrypto.CreateAddress(operator, 0),
		Registry: ethcrypto.CreateAddress(operator, 1),
		Token:    ethcrypto.CreateAddress(operator, 2),
	}
}

// State wires the ledgers, the engine and the registry behind one runtime.
// Every mutation must go through Runtime.Do and every read through
// Runtime.View.
type State struct {
	Runtime   *chain.Runtime
	Payments  *payment.Ledger
	Engine    *market.Engine
	Registry  *registry.Registry
	Addresses Addresses
	Params    StateParams
}

// NewState builds genesis state.
func NewState(p StateParams) (*State, error) {
	if p.Operator == (common.Address{}) {
		return nil, fmt.Errorf("service: state: operator address is required")
	}
	if p.FeeRecipient == (common.Address{}) {
		p.FeeRecipient = p.Operator
	}
	addrs := DeriveAddresses(p.Operator)
	rt := chain.NewRuntime(time.Unix(0, 0).UTC())

	pay := payment.New(addrs.Token, p.Operator, p.TokenName, p.TokenSymbol)
	engine := market.NewEngine(market.Config{
		Address:      addrs.Engine,
		Registrar:    addrs.Registry,
		FeeRecipient: p.FeeRecipient,
	}, pay, rt.Clock())
	reg := registry.New(registry.Config{
		Address:      addrs.Registry,
		Admin:        p.Operator,
		FeeRecipient: p.FeeRecipient,
		MintFee:      p.MintFee,
		BurnFee:      p.BurnFee,
		SellerShare:  p.SellerShare,
	}, engine, pay)

	if p.InitialSupply != nil && p.InitialSupply.Sign() > 0 {
		if err := pay.Mint(p.Operator, p.Operator, p.InitialSupply); err != nil {
			return nil, fmt.Errorf("service: state: genesis mint: %w", err)
		}
	}
	return &State{
		Runtime:   rt,
		Payments:  pay,
		Engine:    engine,
		Registry:  reg,
		Addresses: addrs,
		Params:    p,
	}, nil
}
