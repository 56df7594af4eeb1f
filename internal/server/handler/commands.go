package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/groupmarket/internal/command"
	"github.com/alanyoungcy/groupmarket/internal/crypto"
	"github.com/alanyoungcy/groupmarket/internal/domain"
	"github.com/alanyoungcy/groupmarket/internal/service"
)

const maxCommandBody = 64 << 10

// CommandHandler accepts signed commands.
type CommandHandler struct {
	market Marketplace
	logger *slog.Logger
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(market Marketplace, logger *slog.Logger) *CommandHandler {
	return &CommandHandler{market: market, logger: logHandler(logger, "commands")}
}

// SubmitRequest is the body of POST /api/commands. Signature is an EIP-191
// personal signature over command.SigningPayload(op, nonce, args). Caller is
// optional; when present it must match the recovered signer.
type SubmitRequest struct {
	Op        command.Op      `json:"op"`
	Args      json.RawMessage `json:"args"`
	Nonce     string          `json:"nonce"`
	Signature string          `json:"signature"`
	Caller    string          `json:"caller,omitempty"`
}

// SubmitResponse reports an applied command.
type SubmitResponse struct {
	ID     string         `json:"id"`
	Caller common.Address `json:"caller"`
	Result service.Result `json:"result"`
}

// Submit verifies the signature, submits the command and returns its result.
// POST /api/commands
func (h *CommandHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, h.logger, fmt.Errorf("%w: body: %v", domain.ErrInvalidArgs, err))
		return
	}

	cmd, err := req.command()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.market.Submit(r.Context(), cmd)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, SubmitResponse{ID: cmd.ID, Caller: cmd.Caller, Result: res})
}

// command turns a request into a command attributed to the recovered
// signer.
func (req SubmitRequest) command() (command.Command, error) {
	if !command.Known(req.Op) {
		return command.Command{}, fmt.Errorf("handler: op %q: %w", req.Op, domain.ErrUnknownOp)
	}
	if strings.TrimSpace(req.Nonce) == "" {
		return command.Command{}, fmt.Errorf("%w: nonce is required", domain.ErrInvalidArgs)
	}
	payload, err := command.SigningPayload(req.Op, req.Nonce, req.Args)
	if err != nil {
		return command.Command{}, err
	}
	caller, err := crypto.RecoverAddress(payload, req.Signature)
	if err != nil {
		return command.Command{}, err
	}
	if req.Caller != "" && (!common.IsHexAddress(req.Caller) || common.HexToAddress(req.Caller) != caller) {
		return command.Command{}, fmt.Errorf("handler: caller %s does not match signer: %w", req.Caller, domain.ErrBadSignature)
	}
	return command.Command{
		ID:     uuid.NewString(),
		Op:     req.Op,
		Caller: caller,
		Nonce:  req.Nonce,
		Args:   req.Args,
	}, nil
}

// ListOps returns every recognized operation name.
// GET /api/commands/ops
func (h *CommandHandler) ListOps(w http.ResponseWriter, r *http.Request) {
	ops := command.Ops()
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		names = append(names, string(op))
	}
	slices.Sort(names)
	writeJSON(w, http.StatusOK, map[string]any{"ops": names})
}
