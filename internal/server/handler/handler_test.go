package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cadencefi/dcad/internal/breaker"
	"github.com/cadencefi/dcad/internal/domain"
	"github.com/cadencefi/dcad/internal/engine"
	"github.com/cadencefi/dcad/internal/fees"
	"github.com/cadencefi/dcad/internal/ledger"
	"github.com/cadencefi/dcad/internal/oracle"
	"github.com/cadencefi/dcad/internal/router"
	"github.com/cadencefi/dcad/internal/server/middleware"
)

var (
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	adminAddr = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	apiNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLedger(t *testing.T) (*ledger.Ledger, *ledger.MemoryRegistry) {
	t.Helper()
	cfg := domain.ProtocolConfig{
		MaxPositionsPerOwner: 10,
		MaxPositions:         100,
		MaxOracleStaleness:   time.Minute,
		MinTwapWindow:        5 * time.Minute,
		EmergencyDelay:       48 * time.Hour,
		GracePeriod:          15 * time.Minute,
		Admins:               map[common.Address]bool{adminAddr: true},
		Assets: map[string]domain.Asset{
			"USDC": {Symbol: "USDC", Decimals: 6, PegUSD: 1},
			"WETH": {Symbol: "WETH", Decimals: 18},
		},
	}
	certs := ledger.NewMemoryRegistry()
	led := ledger.New(cfg, certs, nil, nil, testLogger())
	led.SetClock(func() time.Time { return apiNow })
	certs.SetTransferListener(led.OnCertificateTransfer)
	return led, certs
}

func newPositionHandler(t *testing.T) *PositionHandler {
	t.Helper()
	led, certs := testLedger(t)
	return NewPositionHandler(led, certs, testLogger())
}

// serve runs the handler with req authenticated as addr and returns the
// recorded response.
func serve(h http.HandlerFunc, addr common.Address, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req.Header.Set("Authorization", "Bearer test-token")
	middleware.Auth(map[string]common.Address{"test-token": addr})(h).ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

const createBody = `{
	"quote_asset": "USDC",
	"base_asset": "WETH",
	"direction": "buy",
	"frequency": "daily",
	"amount_per_period": "100000000",
	"start_at": "2026-03-01T13:00:00Z",
	"slippage_bps": 50,
	"twap_window_secs": 600
}`

func createPosition(t *testing.T, h *PositionHandler, owner common.Address) uint64 {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/positions", strings.NewReader(createBody))
	rec := serve(h.Create, owner, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	return uint64(decode(t, rec)["id"].(float64))
}

func positionRequest(method, path, id, body string) *http.Request {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.SetPathValue("id", id)
	return req
}

func TestCreatePositionEndpoint(t *testing.T) {
	h := newPositionHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/positions", strings.NewReader(createBody))
	rec := serve(h.Create, alice, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["id"].(float64) != 1 {
		t.Errorf("id = %v, want 1", body["id"])
	}
	if body["owner"] != alice.Hex() {
		t.Errorf("owner = %v, want caller", body["owner"])
	}
	// Venue and MEV posture default when the client omits them.
	if body["venue"] != "auto" || body["mev"] != "private" {
		t.Errorf("defaults = %v/%v, want auto/private", body["venue"], body["mev"])
	}
	if body["amount_per_period"] != "100000000" {
		t.Errorf("amount rendered as %v, want string base units", body["amount_per_period"])
	}
}

func TestCreatePositionRejectsBadBodies(t *testing.T) {
	h := newPositionHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"unknown field", `{"quote_asset":"USDC","surprise":1}`},
		{"malformed json", `{{{`},
		{"bad address", `{"beneficiary":"0xzz"}`},
		{"bad timestamp", `{"quote_asset":"USDC","base_asset":"WETH","start_at":"yesterday"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/positions", strings.NewReader(tt.body))
			if rec := serve(h.Create, alice, req); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestCreatePositionInvalidParams(t *testing.T) {
	h := newPositionHandler(t)

	// Unregistered asset fails ledger validation, not body parsing.
	body := strings.Replace(createBody, "WETH", "DOGE", 1)
	req := httptest.NewRequest(http.MethodPost, "/api/positions", strings.NewReader(body))
	rec := serve(h.Create, alice, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetPosition(t *testing.T) {
	h := newPositionHandler(t)
	id := createPosition(t, h, alice)

	rec := serve(h.Get, bob, positionRequest(http.MethodGet, "/api/positions/1", "1", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode(t, rec)["id"].(float64); uint64(got) != id {
		t.Errorf("id = %v, want %d", got, id)
	}

	rec = serve(h.Get, bob, positionRequest(http.MethodGet, "/api/positions/99", "99", ""))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing position status = %d, want 404", rec.Code)
	}

	rec = serve(h.Get, bob, positionRequest(http.MethodGet, "/api/positions/abc", "abc", ""))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}

func TestModifyAuthorization(t *testing.T) {
	h := newPositionHandler(t)
	createPosition(t, h, alice)

	body := `{"slippage_bps": 75}`

	rec := serve(h.Modify, bob, positionRequest(http.MethodPatch, "/api/positions/1", "1", body))
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-owner modify status = %d, want 403", rec.Code)
	}

	rec = serve(h.Modify, alice, positionRequest(http.MethodPatch, "/api/positions/1", "1", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("owner modify status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decode(t, rec)["slippage_bps"].(float64); got != 75 {
		t.Errorf("slippage_bps = %v, want 75", got)
	}
}

func TestModifyImmutableFields(t *testing.T) {
	h := newPositionHandler(t)
	createPosition(t, h, alice)

	tests := []struct {
		name string
		body string
	}{
		{"direction", `{"direction": "sell"}`},
		{"amount", `{"amount_per_period": "200000000"}`},
		{"assets", `{"base_asset": "USDC", "slippage_bps": 75}`},
		{"schedule", `{"start_at": "2026-04-01T00:00:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h.Modify, alice, positionRequest(http.MethodPatch, "/api/positions/1", "1", tt.body))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if msg := decode(t, rec)["error"].(string); !strings.Contains(msg, "immutable") {
				t.Errorf("error = %q, want immutable field violation", msg)
			}
		})
	}

	// Fields the API has never heard of stay a plain decode rejection.
	rec := serve(h.Modify, alice, positionRequest(http.MethodPatch, "/api/positions/1", "1", `{"surprise": 1}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field status = %d, want 400", rec.Code)
	}
	if msg := decode(t, rec)["error"].(string); strings.Contains(msg, "immutable") {
		t.Errorf("unknown field misreported as immutable: %q", msg)
	}

	// The position is untouched after the rejected PATCHes.
	rec = serve(h.Get, alice, positionRequest(http.MethodGet, "/api/positions/1", "1", ""))
	if got := decode(t, rec)["direction"]; got != "buy" {
		t.Errorf("direction = %v, want buy", got)
	}
}

func TestPauseResumeLifecycle(t *testing.T) {
	h := newPositionHandler(t)
	createPosition(t, h, alice)

	rec := serve(h.Pause, alice, positionRequest(http.MethodPost, "/api/positions/1/pause", "1", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d", rec.Code)
	}
	if paused := decode(t, rec)["paused"].(bool); !paused {
		t.Error("position not paused after pause")
	}

	rec = serve(h.Resume, alice, positionRequest(http.MethodPost, "/api/positions/1/resume", "1", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d", rec.Code)
	}

	// Resuming a running position is a state conflict.
	rec = serve(h.Resume, alice, positionRequest(http.MethodPost, "/api/positions/1/resume", "1", ""))
	if rec.Code != http.StatusConflict {
		t.Errorf("double resume status = %d, want 409", rec.Code)
	}
}

func TestDepositAndWithdraw(t *testing.T) {
	h := newPositionHandler(t)
	createPosition(t, h, alice)

	rec := serve(h.Deposit, bob, positionRequest(http.MethodPost, "/api/positions/1/deposit", "1",
		`{"asset":"USDC","amount":"100000000"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decode(t, rec)["quote_balance"]; got != "100000000" {
		t.Errorf("quote_balance = %v, want 100000000", got)
	}

	// Withdrawal stays an owner capability.
	rec = serve(h.Withdraw, bob, positionRequest(http.MethodPost, "/api/positions/1/withdraw", "1",
		`{"asset":"USDC","amount":"1"}`))
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-owner withdraw status = %d, want 403", rec.Code)
	}

	rec = serve(h.Withdraw, alice, positionRequest(http.MethodPost, "/api/positions/1/withdraw", "1",
		`{"asset":"USDC","amount":"200000000"}`))
	if rec.Code != http.StatusConflict {
		t.Errorf("overdraw status = %d, want 409", rec.Code)
	}

	rec = serve(h.Withdraw, alice, positionRequest(http.MethodPost, "/api/positions/1/withdraw", "1",
		`{"asset":"USDC","amount":"40000000"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("withdraw status = %d", rec.Code)
	}
	if got := decode(t, rec)["quote_balance"]; got != "60000000" {
		t.Errorf("quote_balance = %v, want 60000000", got)
	}
}

func TestCancelEndpoint(t *testing.T) {
	h := newPositionHandler(t)
	createPosition(t, h, alice)

	rec := serve(h.Cancel, alice, positionRequest(http.MethodDelete, "/api/positions/1", "1", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", rec.Code)
	}
	if canceled := decode(t, rec)["canceled"].(bool); !canceled {
		t.Error("position not canceled")
	}

	rec = serve(h.Cancel, alice, positionRequest(http.MethodDelete, "/api/positions/1", "1", ""))
	if rec.Code != http.StatusConflict {
		t.Errorf("double cancel status = %d, want 409", rec.Code)
	}
}

func TestTransferEndpoint(t *testing.T) {
	h := newPositionHandler(t)
	createPosition(t, h, alice)

	rec := serve(h.Transfer, alice, positionRequest(http.MethodPost, "/api/positions/1/transfer", "1", `{"to":""}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty target status = %d, want 400", rec.Code)
	}

	rec = serve(h.Transfer, alice, positionRequest(http.MethodPost, "/api/positions/1/transfer", "1",
		`{"to":"`+bob.Hex()+`"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("transfer status = %d, body %s", rec.Code, rec.Body.String())
	}
	if owner := decode(t, rec)["owner"]; owner != bob.Hex() {
		t.Errorf("owner after transfer = %v, want %s", owner, bob.Hex())
	}

	// The previous holder lost the transfer capability with the certificate.
	rec = serve(h.Transfer, alice, positionRequest(http.MethodPost, "/api/positions/1/transfer", "1",
		`{"to":"`+alice.Hex()+`"}`))
	if rec.Code != http.StatusForbidden {
		t.Errorf("stale holder transfer status = %d, want 403", rec.Code)
	}
}

func TestListPositionsByOwner(t *testing.T) {
	h := newPositionHandler(t)
	createPosition(t, h, alice)
	createPosition(t, h, alice)
	createPosition(t, h, bob)

	req := httptest.NewRequest(http.MethodGet, "/api/positions?owner="+alice.Hex(), nil)
	rec := serve(h.List, bob, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if got := decode(t, rec)["positions"].([]any); len(got) != 2 {
		t.Errorf("positions = %d, want 2", len(got))
	}

	// Without an owner parameter the caller lists their own.
	req = httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	rec = serve(h.List, bob, req)
	if got := decode(t, rec)["positions"].([]any); len(got) != 1 {
		t.Errorf("caller positions = %d, want 1", len(got))
	}
}

// stubEngine scripts the execution surface.
type stubEngine struct {
	result   engine.Result
	err      error
	eligible bool
	reason   domain.SkipReason
	pending  []uint64
}

func (s *stubEngine) Execute(context.Context, common.Address, uint64) (engine.Result, error) {
	return s.result, s.err
}

func (s *stubEngine) IsEligible(context.Context, uint64) (bool, domain.SkipReason) {
	return s.eligible, s.reason
}

func (s *stubEngine) PendingExecutions(time.Time) []uint64 {
	return s.pending
}

func TestExecuteEndpointSkipIsOK(t *testing.T) {
	eng := &stubEngine{result: engine.Result{
		PositionID: 1,
		Executed:   false,
		Reason:     domain.SkipCircuitBreaker,
	}}
	h := NewExecuteHandler(eng, eng, testLogger())

	rec := serve(h.Execute, alice, positionRequest(http.MethodPost, "/api/positions/1/execute", "1", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("skip status = %d, want 200", rec.Code)
	}
	body := decode(t, rec)
	if body["executed"].(bool) {
		t.Error("executed = true for a skip")
	}
	if body["reason"] != string(domain.SkipCircuitBreaker) {
		t.Errorf("reason = %v", body["reason"])
	}
}

func TestExecuteEndpointMapsDomainErrors(t *testing.T) {
	eng := &stubEngine{err: domain.ErrUnauthorized}
	h := NewExecuteHandler(eng, eng, testLogger())

	rec := serve(h.Execute, alice, positionRequest(http.MethodPost, "/api/positions/1/execute", "1", ""))
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestEligibilityEndpoint(t *testing.T) {
	eng := &stubEngine{eligible: false, reason: domain.SkipNotDue}
	h := NewExecuteHandler(eng, eng, testLogger())

	rec := serve(h.Eligibility, alice, positionRequest(http.MethodGet, "/api/positions/1/eligibility", "1", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["eligible"].(bool) || body["reason"] != string(domain.SkipNotDue) {
		t.Errorf("body = %v", body)
	}
}

func TestPendingExecutionsEndpoint(t *testing.T) {
	eng := &stubEngine{pending: []uint64{3, 5}}
	h := NewExecuteHandler(eng, eng, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/executions/pending", nil)
	rec := serve(h.Pending, alice, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["count"].(float64) != 2 {
		t.Errorf("count = %v, want 2", body["count"])
	}
	if ids := body["positions"].([]any); len(ids) != 2 || ids[0].(float64) != 3 {
		t.Errorf("positions = %v", ids)
	}

	// No due positions renders an empty list, not null.
	eng.pending = nil
	rec = serve(h.Pending, alice, httptest.NewRequest(http.MethodGet, "/api/executions/pending", nil))
	if ids := decode(t, rec)["positions"].([]any); ids == nil || len(ids) != 0 {
		t.Errorf("empty positions = %v, want []", ids)
	}
}

// stubEventStore holds a fixed journal.
type stubEventStore struct {
	events []domain.Event
	err    error
}

func (s *stubEventStore) Append(context.Context, domain.Event) error { return nil }

func (s *stubEventStore) List(context.Context, domain.ListOpts) ([]domain.Event, error) {
	return s.events, s.err
}

func (s *stubEventStore) ListBefore(context.Context, time.Time) ([]domain.Event, error) {
	return s.events, s.err
}

func TestEventsList(t *testing.T) {
	store := &stubEventStore{events: []domain.Event{
		{Name: "PositionExecuted", PositionID: 1, At: apiNow},
		{Name: "PositionPaused", PositionID: 2, At: apiNow},
	}}
	h := NewEventsHandler(store, testLogger())

	rec := serve(h.List, alice, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode(t, rec)["events"].([]any); len(got) != 2 {
		t.Errorf("events = %d, want 2", len(got))
	}

	rec = serve(h.List, alice, httptest.NewRequest(http.MethodGet, "/api/events?position_id=2", nil))
	if got := decode(t, rec)["events"].([]any); len(got) != 1 {
		t.Errorf("filtered events = %d, want 1", len(got))
	}

	rec = serve(h.List, alice, httptest.NewRequest(http.MethodGet, "/api/events?position_id=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad filter status = %d, want 400", rec.Code)
	}
}

func TestEventsListStoreFailure(t *testing.T) {
	store := &stubEventStore{err: context.DeadlineExceeded}
	h := NewEventsHandler(store, testLogger())

	rec := serve(h.List, alice, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestPricesEndpoints(t *testing.T) {
	agg := oracle.New(time.Minute, nil, testLogger())
	agg.SetClock(func() time.Time { return apiNow })
	feed := oracle.NewPushFeed("stub")
	feed.Push(2_000, apiNow)
	agg.AddFeed(context.Background(), "WETH", feed)
	agg.RecordObservation("WETH/USDC", 1_990, apiNow.Add(-30*time.Second))
	agg.RecordObservation("WETH/USDC", 2_010, apiNow)
	h := NewPricesHandler(agg, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/prices/WETH", nil)
	req.SetPathValue("asset", "WETH")
	rec := serve(h.Latest, alice, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("price status = %d", rec.Code)
	}
	if got := decode(t, rec)["price_usd"].(float64); got != 2_000 {
		t.Errorf("price_usd = %v, want 2000", got)
	}

	rec = serve(h.Twap, alice, httptest.NewRequest(http.MethodGet, "/api/twap?pair=WETH/USDC&window_secs=60", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("twap status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if _, ok := body["twap"].(float64); !ok {
		t.Errorf("twap missing: %v", body)
	}
	if body["spot"].(float64) != 2_010 {
		t.Errorf("spot = %v, want 2010", body["spot"])
	}

	rec = serve(h.Twap, alice, httptest.NewRequest(http.MethodGet, "/api/twap?window_secs=60", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing pair status = %d, want 400", rec.Code)
	}
	rec = serve(h.Twap, alice, httptest.NewRequest(http.MethodGet, "/api/twap?pair=X/Y&window_secs=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad window status = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := NewHealthHandler(nil, testLogger())
	rec := serve(h.HealthCheck, alice, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if decode(t, rec)["status"] != "ok" {
		t.Errorf("body = %s", rec.Body.String())
	}

	h = NewHealthHandler(map[string]HealthCheckFunc{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return context.DeadlineExceeded },
	}, testLogger())
	rec = serve(h.HealthCheck, alice, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d, want 503", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "degraded" {
		t.Errorf("status field = %v", body["status"])
	}
	deps := body["dependencies"].(map[string]any)
	if deps["postgres"] != "ok" || deps["redis"] == "ok" {
		t.Errorf("dependencies = %v", deps)
	}
}

// stubConfigStore records admin persistence calls.
type stubConfigStore struct {
	protocolSaves int
	feeSaves      int
	breakerSaves  int
	routerSaves   int
}

func (s *stubConfigStore) SaveProtocol(context.Context, domain.ProtocolConfig) error {
	s.protocolSaves++
	return nil
}

func (s *stubConfigStore) LoadProtocol(context.Context) (domain.ProtocolConfig, error) {
	return domain.ProtocolConfig{}, domain.ErrNotFound
}

func (s *stubConfigStore) SaveFees(context.Context, domain.FeeConfig) error {
	s.feeSaves++
	return nil
}

func (s *stubConfigStore) LoadFees(context.Context) (domain.FeeConfig, error) {
	return domain.FeeConfig{}, domain.ErrNotFound
}

func (s *stubConfigStore) SaveBreaker(context.Context, domain.BreakerConfig) error {
	s.breakerSaves++
	return nil
}

func (s *stubConfigStore) LoadBreaker(context.Context) (domain.BreakerConfig, error) {
	return domain.BreakerConfig{}, domain.ErrNotFound
}

func (s *stubConfigStore) SaveRouter(context.Context, domain.RouterConfig) error {
	s.routerSaves++
	return nil
}

func (s *stubConfigStore) LoadRouter(context.Context) (domain.RouterConfig, error) {
	return domain.RouterConfig{}, domain.ErrNotFound
}

func newAdminHandler(t *testing.T) (*AdminHandler, *stubConfigStore) {
	t.Helper()
	led, _ := testLedger(t)
	calc := fees.New(domain.FeeConfig{ReferralMode: domain.ReferralAdditive}, nil)
	brk := breaker.New(domain.BreakerConfig{}, nil, testLogger())
	sel := router.New(domain.RouterConfig{BatchNotionalThreshold: 1_000_000_000}, nil, testLogger())
	store := &stubConfigStore{}
	return NewAdminHandler(led, calc, brk, sel, store, testLogger()), store
}

func TestAdminMutationsRequireAdmin(t *testing.T) {
	h, _ := newAdminHandler(t)

	endpoints := map[string]http.HandlerFunc{
		"config":  h.UpdateConfig,
		"keepers": h.UpdateKeepers,
		"fees":    h.UpdateFees,
		"breaker": h.UpdateBreaker,
		"reset":   h.ResetBreaker,
		"routing": h.UpdateRouting,
	}
	for name, fn := range endpoints {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/admin/"+name, strings.NewReader(`{}`))
			if rec := serve(fn, alice, req); rec.Code != http.StatusForbidden {
				t.Errorf("status = %d, want 403", rec.Code)
			}
		})
	}
}

func TestAdminUpdateConfig(t *testing.T) {
	h, store := newAdminHandler(t)

	req := httptest.NewRequest(http.MethodPut, "/api/admin/config",
		strings.NewReader(`{"grace_period_secs": 1800, "paused": true}`))
	rec := serve(h.UpdateConfig, adminAddr, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["grace_period_secs"].(float64) != 1800 {
		t.Errorf("grace_period_secs = %v, want 1800", body["grace_period_secs"])
	}
	if !body["paused"].(bool) {
		t.Error("global pause not applied")
	}
	// Untouched scalars keep their values.
	if body["emergency_delay_secs"].(float64) != 48*3600 {
		t.Errorf("emergency_delay_secs = %v, want unchanged", body["emergency_delay_secs"])
	}
	if store.protocolSaves != 1 {
		t.Errorf("protocol saves = %d, want 1", store.protocolSaves)
	}
}

func TestAdminUpdateKeepers(t *testing.T) {
	h, store := newAdminHandler(t)

	req := httptest.NewRequest(http.MethodPut, "/api/admin/keepers",
		strings.NewReader(`{"keepers":["`+bob.Hex()+`"]}`))
	rec := serve(h.UpdateKeepers, adminAddr, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	keepers := decode(t, rec)["keepers"].([]any)
	if len(keepers) != 1 || keepers[0] != bob.Hex() {
		t.Errorf("keepers = %v, want [%s]", keepers, bob.Hex())
	}
	if store.protocolSaves != 1 {
		t.Errorf("protocol saves = %d, want 1", store.protocolSaves)
	}
}

func TestAdminUpdateFees(t *testing.T) {
	h, store := newAdminHandler(t)

	req := httptest.NewRequest(http.MethodPut, "/api/admin/fees", strings.NewReader(`{
		"tiers": [{"notional_ceiling":"1000000","bps":50},{"notional_ceiling":"0","bps":10}],
		"execution_fee_bps": 5,
		"referral_mode": "additive"
	}`))
	rec := serve(h.UpdateFees, adminAddr, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if store.feeSaves != 1 {
		t.Errorf("fee saves = %d, want 1", store.feeSaves)
	}

	// Rejected policies keep the previous config and skip persistence.
	req = httptest.NewRequest(http.MethodPut, "/api/admin/fees", strings.NewReader(`{
		"tiers": [{"notional_ceiling":"0","bps":10},{"notional_ceiling":"1000000","bps":50}],
		"referral_mode": "additive"
	}`))
	rec = serve(h.UpdateFees, adminAddr, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid tiers status = %d, want 400", rec.Code)
	}
	if store.feeSaves != 1 {
		t.Errorf("fee saves after rejection = %d, want 1", store.feeSaves)
	}
}

func TestAdminBreakerLifecycle(t *testing.T) {
	h, store := newAdminHandler(t)

	req := httptest.NewRequest(http.MethodPut, "/api/admin/breaker", strings.NewReader(`{
		"volume_window_secs": 3600,
		"max_window_volume": "1000000",
		"price_window_secs": 300,
		"max_move_bps": 500
	}`))
	rec := serve(h.UpdateBreaker, adminAddr, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["max_window_volume"] != "1000000" || body["max_move_bps"].(float64) != 500 {
		t.Errorf("breaker view = %v", body)
	}
	if store.breakerSaves != 1 {
		t.Errorf("breaker saves = %d, want 1", store.breakerSaves)
	}

	rec = serve(h.ResetBreaker, adminAddr, httptest.NewRequest(http.MethodPost, "/api/admin/breaker/reset", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}
	if decode(t, rec)["tripped"].(bool) {
		t.Error("breaker tripped after reset")
	}
}

func TestAdminUpdateRouting(t *testing.T) {
	h, store := newAdminHandler(t)

	rec := serve(h.GetRouting, alice, httptest.NewRequest(http.MethodGet, "/api/admin/routing", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if got := decode(t, rec)["batch_notional_threshold"]; got != "1000000000" {
		t.Errorf("batch_notional_threshold = %v, want seed value", got)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/admin/routing", strings.NewReader(`{
		"batch_notional_threshold": "5000000000",
		"tight_slippage_bps": 25
	}`))
	rec = serve(h.UpdateRouting, adminAddr, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["batch_notional_threshold"] != "5000000000" || body["tight_slippage_bps"].(float64) != 25 {
		t.Errorf("routing view = %v", body)
	}
	if store.routerSaves != 1 {
		t.Errorf("router saves = %d, want 1", store.routerSaves)
	}
}
