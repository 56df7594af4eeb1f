package handler

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/groupmarket/internal/domain"
)

// ViewHandler serves the read-only marketplace views.
type ViewHandler struct {
	market Marketplace
	logger *slog.Logger
}

// NewViewHandler creates a ViewHandler.
func NewViewHandler(market Marketplace, logger *slog.Logger) *ViewHandler {
	return &ViewHandler{market: market, logger: logHandler(logger, "views")}
}

// ListGroups returns every group summary.
// GET /api/groups
func (h *ViewHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	data, err := h.market.GroupsJSON(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeRaw(w, http.StatusOK, data)
}

// GetGroup returns one group summary.
// GET /api/groups/{index}
func (h *ViewHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	index, err := pathUint(r, "index")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	data, err := h.market.GroupJSON(r.Context(), index)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeRaw(w, http.StatusOK, data)
}

// GetItem returns one item of a group's collection.
// GET /api/groups/{index}/items/{id}
func (h *ViewHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	index, err := pathUint(r, "index")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	id, err := pathUint(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	item, err := h.market.Item(index, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func listingParams(r *http.Request) (domain.Mechanism, uint64, error) {
	mech, err := domain.ParseMechanism(pathParam(r, "mechanism"))
	if err != nil {
		return "", 0, err
	}
	id, err := pathUint(r, "id")
	if err != nil {
		return "", 0, err
	}
	return mech, id, nil
}

// GetListing returns a listing snapshot.
// GET /api/listings/{mechanism}/{id}
func (h *ViewHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	mech, id, err := listingParams(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	data, err := h.market.ListingJSON(r.Context(), mech, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeRaw(w, http.StatusOK, data)
}

// GetDutchPrice returns the current price of an active Dutch auction.
// GET /api/listings/dutch/{id}/price
func (h *ViewHandler) GetDutchPrice(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	pv, err := h.market.DutchPrice(id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pv)
}

// pendingView is what an address may withdraw from one listing.
type pendingView struct {
	Mechanism domain.Mechanism `json:"mechanism"`
	ListingID uint64           `json:"listing_id"`
	Address   common.Address   `json:"address"`
	Pending   *big.Int         `json:"pending"`
}

// GetPendingReturn returns an address's refundable amount on a listing.
// GET /api/listings/{mechanism}/{id}/pending/{address}
func (h *ViewHandler) GetPendingReturn(w http.ResponseWriter, r *http.Request) {
	mech, id, err := listingParams(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	amount, err := h.market.PendingReturn(mech, id, addr)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pendingView{Mechanism: mech, ListingID: id, Address: addr, Pending: amount})
}

// GetBalance returns an address's withdrawable engine balance.
// GET /api/balances/{address}
func (h *ViewHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.market.Balance(addr))
}

// GetPayment returns an address's payment ledger account.
// GET /api/payments/{address}
func (h *ViewHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.market.Payment(addr))
}
