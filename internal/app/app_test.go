package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/groupmarket/internal/command"
	"github.com/alanyoungcy/groupmarket/internal/config"
	"github.com/alanyoungcy/groupmarket/internal/crypto"
	"github.com/alanyoungcy/groupmarket/internal/server/handler"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestStateParams(t *testing.T) {
	cfg := config.Defaults()
	cfg.Operator.Address = "0x00000000000000000000000000000000000000f1"
	cfg.Market.SellerShare = 70
	cfg.Market.MintFee = "10"
	cfg.Market.FeeRecipient = "0x00000000000000000000000000000000000000fe"

	p, err := StateParams(&cfg)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(cfg.Operator.Address), p.Operator)
	assert.Equal(t, common.HexToAddress(cfg.Market.FeeRecipient), p.FeeRecipient)
	assert.Equal(t, uint8(70), p.SellerShare)
	assert.Equal(t, "10", p.MintFee.String())
	assert.Equal(t, "1000000000000", p.InitialSupply.String())

	cfg.Operator.Address = ""
	_, err = StateParams(&cfg)
	require.Error(t, err)
}

func TestSealOperatorKey(t *testing.T) {
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.Operator.PrivateKey = testKey
	cfg.Operator.KeyPassword = "hunter2"
	path := filepath.Join(t.TempDir(), "operator.json")

	addr, err := SealOperatorKey(&cfg, path)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), addr)

	sealed := config.Defaults()
	sealed.Operator.EncryptedKeyPath = path
	p, err := StateParams(&sealed)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), p.Operator)

	cfg.Operator.KeyPassword = ""
	_, err = SealOperatorKey(&cfg, path)
	require.Error(t, err)
}

func TestStateParamsFromKey(t *testing.T) {
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.Operator.PrivateKey = testKey
	p, err := StateParams(&cfg)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), p.Operator)

	cfg.Operator.Address = "0x00000000000000000000000000000000000000f1"
	_, err = StateParams(&cfg)
	require.ErrorContains(t, err, "does not match key address")
}

func TestNotifierSenders(t *testing.T) {
	_, n := notifier(config.NotifyConfig{}, discard())
	assert.Zero(t, n)

	_, n = notifier(config.NotifyConfig{
		TelegramToken:     "t",
		TelegramChatID:    "c",
		DiscordWebhookURL: "https://discord.example/hook",
		WebhookURL:        "https://hooks.example/market",
		WebhookSecret:     "s",
	}, discard())
	assert.Equal(t, 3, n)
}

func TestSignModeOutputVerifies(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "sign"
	cfg.Operator.PrivateKey = testKey

	var out bytes.Buffer
	a := New(&cfg, discard()).WithSignRequest(SignRequest{
		Op:    command.OpBidEnglish,
		Nonce: "n-42",
		Args:  json.RawMessage(`{"listing": 0, "amount": 1500}`),
	})
	a.out = &out
	require.NoError(t, a.Run(context.Background()))

	var req handler.SubmitRequest
	require.NoError(t, json.Unmarshal(out.Bytes(), &req))
	assert.Equal(t, "n-42", req.Nonce)

	payload, err := command.SigningPayload(req.Op, req.Nonce, req.Args)
	require.NoError(t, err)
	addr, err := crypto.RecoverAddress(payload, req.Signature)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(req.Caller), addr)
}

func TestSignModeRejectsUnknownOp(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "sign"
	cfg.Operator.PrivateKey = testKey

	a := New(&cfg, discard()).WithSignRequest(SignRequest{Op: "market.steal"})
	a.out = io.Discard
	require.ErrorContains(t, a.Run(context.Background()), "unknown op")
}
