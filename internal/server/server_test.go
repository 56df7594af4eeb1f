package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/groupmarket/internal/command"
	"github.com/alanyoungcy/groupmarket/internal/crypto"
	"github.com/alanyoungcy/groupmarket/internal/domain"
	"github.com/alanyoungcy/groupmarket/internal/group"
	"github.com/alanyoungcy/groupmarket/internal/server/handler"
	"github.com/alanyoungcy/groupmarket/internal/service"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type stubMarket struct {
	mu        sync.Mutex
	submitted []command.Command
	submitErr error
	halted    bool
}

func (s *stubMarket) Submit(_ context.Context, cmd command.Command) (service.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return service.Result{}, s.submitErr
	}
	s.submitted = append(s.submitted, cmd)
	return service.Result{Op: cmd.Op}, nil
}

func (s *stubMarket) Halted() bool { return s.halted }

func (s *stubMarket) Status() service.StatusView {
	return service.StatusView{Groups: 1, Custody: big.NewInt(0), Liabilities: big.NewInt(0), Solvent: true}
}

func (s *stubMarket) GroupsJSON(context.Context) ([]byte, error) {
	return []byte(`[{"name":"crew"}]`), nil
}

func (s *stubMarket) GroupJSON(_ context.Context, index uint64) ([]byte, error) {
	if index > 0 {
		return nil, domain.ErrGroupNotFound
	}
	return []byte(`{"name":"crew"}`), nil
}

func (s *stubMarket) ListingJSON(_ context.Context, mech domain.Mechanism, id uint64) ([]byte, error) {
	return []byte(fmt.Sprintf(`{"mechanism":%q,"id":%d}`, mech, id)), nil
}

func (s *stubMarket) Item(_, id uint64) (group.Item, error) {
	if id > 3 {
		return group.Item{}, domain.ErrItemNotFound
	}
	return group.Item{ID: id, URI: "ipfs://item"}, nil
}

func (s *stubMarket) DutchPrice(id uint64) (service.PriceView, error) {
	return service.PriceView{ListingID: id, Price: big.NewInt(550)}, nil
}

func (s *stubMarket) Balance(addr common.Address) service.BalanceView {
	return service.BalanceView{Address: addr, Withdrawable: big.NewInt(1500)}
}

func (s *stubMarket) PendingReturn(domain.Mechanism, uint64, common.Address) (*big.Int, error) {
	return big.NewInt(7), nil
}

func (s *stubMarket) Payment(addr common.Address) service.PaymentView {
	return service.PaymentView{Address: addr, Balance: big.NewInt(10), EngineAllowance: big.NewInt(5)}
}

// fixedQuota admits the first allow requests per key and then refuses with
// retry, recording the limit it was asked to enforce.
type fixedQuota struct {
	allow  int
	retry  time.Duration
	taken  map[string]int
	limits map[string]int
}

func (q *fixedQuota) Take(_ context.Context, key string, limit int, _ time.Duration) (domain.Quota, error) {
	if q.taken == nil {
		q.taken, q.limits = map[string]int{}, map[string]int{}
	}
	q.limits[key] = limit
	if q.taken[key] >= q.allow {
		return domain.Quota{Limit: limit, RetryAfter: q.retry}, nil
	}
	q.taken[key]++
	return domain.Quota{Allowed: true, Limit: limit, Remaining: limit - q.taken[key]}, nil
}

func newTestServer(t *testing.T, m *stubMarket, cfg Config, limiter domain.RateLimiter) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(cfg, Handlers{
		Health:   handler.NewHealthHandler(m.Halted, logger),
		Status:   handler.NewStatusHandler("serve", m),
		Commands: handler.NewCommandHandler(m, logger),
		Views:    handler.NewViewHandler(m, logger),
	}, nil, limiter, logger)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body []byte, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func signedBody(t *testing.T, op command.Op, nonce, args string) ([]byte, common.Address) {
	t.Helper()
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	payload, err := command.SigningPayload(op, nonce, json.RawMessage(args))
	require.NoError(t, err)
	sig, err := signer.SignMessage(payload)
	require.NoError(t, err)
	body, err := json.Marshal(handler.SubmitRequest{
		Op:        op,
		Args:      json.RawMessage(args),
		Nonce:     nonce,
		Signature: sig,
	})
	require.NoError(t, err)
	return body, signer.Address()
}

func TestSubmitRecoversCaller(t *testing.T) {
	m := &stubMarket{}
	h := newTestServer(t, m, Config{}, nil)

	body, addr := signedBody(t, command.OpBidEnglish, "n-1", `{"listing": 0, "amount": 1500}`)
	rec := do(t, h, http.MethodPost, "/api/commands", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp handler.SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, addr, resp.Caller)
	assert.NotEmpty(t, resp.ID)

	require.Len(t, m.submitted, 1)
	assert.Equal(t, addr, m.submitted[0].Caller)
	assert.Equal(t, "n-1", m.submitted[0].Nonce)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSubmitRejectsTamperedArgs(t *testing.T) {
	m := &stubMarket{}
	h := newTestServer(t, m, Config{}, nil)

	body, addr := signedBody(t, command.OpBidEnglish, "n-1", `{"listing":0,"amount":1500}`)
	var req handler.SubmitRequest
	require.NoError(t, json.Unmarshal(body, &req))
	req.Args = json.RawMessage(`{"listing":0,"amount":1}`)
	req.Caller = addr.Hex()
	tampered, err := json.Marshal(req)
	require.NoError(t, err)

	rec := do(t, h, http.MethodPost, "/api/commands", tampered)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"handler: caller `+addr.Hex()+` does not match signer: bad signature","code":"bad_signature"}`, rec.Body.String())
	assert.Empty(t, m.submitted)
}

func TestSubmitValidation(t *testing.T) {
	m := &stubMarket{}
	h := newTestServer(t, m, Config{}, nil)

	tests := []struct {
		name string
		body string
		code int
		want string
	}{
		{"malformed body", `{"op":`, http.StatusUnprocessableEntity, "invalid_args"},
		{"unknown field", `{"op":"market.withdraw","bogus":1}`, http.StatusUnprocessableEntity, "invalid_args"},
		{"unknown op", `{"op":"market.steal","nonce":"1","signature":"0x00"}`, http.StatusNotFound, "unknown_op"},
		{"missing nonce", `{"op":"market.withdraw","signature":"0x00"}`, http.StatusUnprocessableEntity, "invalid_args"},
		{"bad signature", `{"op":"market.withdraw","nonce":"1","signature":"0x00"}`, http.StatusUnauthorized, "bad_signature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/commands", []byte(tt.body))
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			var eb struct{ Code string }
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eb))
			assert.Equal(t, tt.want, eb.Code)
		})
	}
	assert.Empty(t, m.submitted)
}

func TestSubmitErrorKinds(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{domain.ErrNotDirector, http.StatusForbidden},
		{domain.ErrListingNotFound, http.StatusNotFound},
		{domain.ErrAlreadyListed, http.StatusConflict},
		{domain.ErrBidTooLow, http.StatusUnprocessableEntity},
		{service.ErrHalted, http.StatusServiceUnavailable},
		{fmt.Errorf("postgres: boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(domain.Code(tt.err), func(t *testing.T) {
			m := &stubMarket{submitErr: tt.err}
			h := newTestServer(t, m, Config{}, nil)
			body, _ := signedBody(t, command.OpMarketWithdraw, "n", `{}`)
			rec := do(t, h, http.MethodPost, "/api/commands", body)
			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusInternalServerError {
				assert.NotContains(t, rec.Body.String(), "boom")
			}
		})
	}
}

func TestReadRoutes(t *testing.T) {
	h := newTestServer(t, &stubMarket{}, Config{}, nil)
	// Addresses are encoded as lowercase hex; a checksummed path segment
	// must read the same account.
	addr := "0x00000000000000000000000000000000000000a1"
	checksummed := common.HexToAddress(addr).Hex()
	require.NotEqual(t, addr, checksummed)

	tests := []struct {
		path string
		code int
		body string
	}{
		{"/api/groups", http.StatusOK, `[{"name":"crew"}]`},
		{"/api/groups/0", http.StatusOK, `{"name":"crew"}`},
		{"/api/groups/9", http.StatusNotFound, ""},
		{"/api/groups/x", http.StatusUnprocessableEntity, ""},
		{"/api/groups/0/items/1", http.StatusOK, `{"id":1,"uri":"ipfs://item","burned":false,"listed":false,"sold":false}`},
		{"/api/groups/0/items/7", http.StatusNotFound, ""},
		{"/api/listings/english/3", http.StatusOK, `{"mechanism":"english","id":3}`},
		{"/api/listings/raffle/3", http.StatusUnprocessableEntity, ""},
		{"/api/listings/dutch/2/price", http.StatusOK, `{"listing_id":2,"price":550,"at":"0001-01-01T00:00:00Z"}`},
		{"/api/listings/offering/1/pending/" + addr, http.StatusOK, `{"mechanism":"offering","listing_id":1,"address":"` + addr + `","pending":7}`},
		{"/api/balances/" + addr, http.StatusOK, `{"address":"` + addr + `","withdrawable":1500}`},
		{"/api/balances/" + checksummed, http.StatusOK, `{"address":"` + addr + `","withdrawable":1500}`},
		{"/api/balances/nope", http.StatusUnprocessableEntity, ""},
		{"/api/payments/" + addr, http.StatusOK, `{"address":"` + addr + `","balance":10,"engine_allowance":5}`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.path, nil)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.body != "" {
				assert.JSONEq(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestHealthReportsHalt(t *testing.T) {
	m := &stubMarket{}
	h := newTestServer(t, m, Config{}, nil)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/health", nil).Code)

	m.halted = true
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/health", nil).Code)
}

func TestAPIKey(t *testing.T) {
	h := newTestServer(t, &stubMarket{}, Config{APIKey: "s3cret"}, nil)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/health", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/groups", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/groups", nil, "X-API-Key", "wrong").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/groups", nil, "Authorization", "Bearer s3cret").Code)
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, &stubMarket{}, Config{RateLimit: 1, RateWindow: time.Minute}, &fixedQuota{retry: 42 * time.Second})
	rec := do(t, h, http.MethodGet, "/api/groups", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, rec.Body.String(), `"class":"view"`)
}

func TestRateLimitSeparatesCommandBudget(t *testing.T) {
	q := &fixedQuota{allow: 1, retry: time.Second}
	h := newTestServer(t, &stubMarket{}, Config{RateLimit: 10, CommandRate: 2, RateWindow: time.Minute}, q)

	rec := do(t, h, http.MethodGet, "/api/groups", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodGet, "/api/groups", nil).Code)

	// Spent view budget leaves command submission untouched.
	rec = do(t, h, http.MethodGet, "/api/commands/ops", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/commands", []byte(`{}`))
	assert.NotEqual(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))

	var keys []string
	for k := range q.limits {
		keys = append(keys, strings.SplitN(k, ":", 2)[0])
	}
	assert.ElementsMatch(t, []string{"view", "command"}, keys)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, &stubMarket{}, Config{CORSOrigins: []string{"http://app.local"}, APIKey: "k"}, nil)
	rec := do(t, h, http.MethodOptions, "/api/commands", nil,
		"Origin", "http://app.local", "Access-Control-Request-Method", "POST")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://app.local", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))

	rec = do(t, h, http.MethodOptions, "/api/commands", nil,
		"Origin", "http://evil.local", "Access-Control-Request-Method", "POST")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSExposesMarketplaceHeaders(t *testing.T) {
	h := newTestServer(t, &stubMarket{}, Config{CORSOrigins: []string{"http://app.local"}}, nil)
	rec := do(t, h, http.MethodGet, "/api/health", nil, "Origin", "http://app.local")
	assert.Equal(t, http.StatusOK, rec.Code)
	exposed := rec.Header().Get("Access-Control-Expose-Headers")
	for _, hdr := range []string{"X-Request-ID", "Retry-After", "X-RateLimit-Remaining"} {
		assert.Contains(t, exposed, hdr)
	}

	rec = do(t, h, http.MethodGet, "/api/health", nil, "Origin", "http://evil.local")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

type recordedAudit struct{ opts domain.ListOpts }

func (a *recordedAudit) Log(context.Context, domain.AuditEntry) error { return nil }

func (a *recordedAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.opts = opts
	return []domain.AuditEntry{{ID: 9, Event: domain.AuditCommandRejected, Op: opts.Op, Caller: opts.Caller, Code: "bid_too_low"}}, nil
}

func TestAuditFilters(t *testing.T) {
	audit := &recordedAudit{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := &stubMarket{}
	h := NewServer(Config{}, Handlers{
		Health:   handler.NewHealthHandler(m.Halted, logger),
		Status:   handler.NewStatusHandler("serve", m),
		Commands: handler.NewCommandHandler(m, logger),
		Views:    handler.NewViewHandler(m, logger),
		Audit:    handler.NewAuditHandler(audit, nil, logger),
	}, nil, nil, logger).Handler()

	addr := "0x00000000000000000000000000000000000000a1"
	checksummed := common.HexToAddress(addr).Hex()
	rec := do(t, h, http.MethodGet, "/api/audit?op=market.bid_english&code=bid_too_low&caller="+checksummed, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "market.bid_english", audit.opts.Op)
	assert.Equal(t, "bid_too_low", audit.opts.Code)
	assert.Equal(t, addr, audit.opts.Caller)
	assert.JSONEq(t, `[{"id":9,"event":"command_rejected","op":"market.bid_english","caller":"`+addr+`","code":"bid_too_low","created_at":"0001-01-01T00:00:00Z"}]`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/audit?caller=nobody", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
