package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pynthchain/core"
	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
	"pynthchain/native/params"
	"pynthchain/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var (
	authority = crypto.BytesToAddress([]byte{0xaa})
	oracle    = crypto.BytesToAddress([]byte{0xbb})
	alice     = crypto.BytesToAddress([]byte{0x01})
)

type harness struct {
	node     *core.Node
	verifier *Verifier
	handler  http.Handler
}

func newHarness(t *testing.T, limiter *RateLimiter) *harness {
	t.Helper()
	now := time.Unix(1_700_000_000, 0).UTC()
	node, err := core.NewNode(storage.NewMemDB(), core.Options{
		NetworkID:      1,
		Authority:      authority,
		Oracle:         oracle,
		FeeAddress:     crypto.ModuleAddress("fee-pool"),
		RewardsAddress: crypto.ModuleAddress("rewards"),
		Settings:       params.DefaultSettings(),
		LoanPynths:     []string{nativecommon.PUSD},
		Clock:          func() time.Time { return now },
	})
	require.NoError(t, err)
	require.NoError(t, node.UpdateRate(oracle, nativecommon.PERI, nativecommon.Units(4), time.Time{}, "test"))
	require.NoError(t, node.Fund(authority, nativecommon.PERI, alice, nativecommon.Units(1000)))

	verifier, err := NewVerifier(testSecret, "ledgerd-test", 0)
	require.NoError(t, err)
	if limiter == nil {
		limiter = NewRateLimiter(6000, 1000)
	}
	srv, err := New(Config{Node: node, Verifier: verifier, Limiter: limiter, ExportDir: t.TempDir()})
	require.NoError(t, err)
	return &harness{node: node, verifier: verifier, handler: srv.Handler()}
}

func (h *harness) do(t *testing.T, method, path string, caller *crypto.Address, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if caller != nil {
		token, err := h.verifier.Issue(*caller, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestMutationsRequireToken(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodPost, "/v1/issue", nil, map[string]string{"amount": "1"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/issue", bytes.NewBufferString(`{"amount":"1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIssueAndAccountView(t *testing.T) {
	h := newHarness(t, nil)
	caller := alice
	rec := h.do(t, http.MethodPost, "/v1/issue", &caller, map[string]string{"amount": "100"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/v1/accounts/"+alice.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view accountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, alice.String(), view.Account)
	require.Equal(t, "100", view.Debt)
	require.Equal(t, "4000", view.CollateralValue)
	require.Equal(t, "900", view.RemainingIssuable)
	require.False(t, view.Flagged)

	rec = h.do(t, http.MethodGet, "/v1/accounts/"+alice.String()+"/balances/"+nativecommon.PUSD, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"balance":"100"`)
}

func TestErrorStatusMapping(t *testing.T) {
	h := newHarness(t, nil)
	caller := alice
	admin := authority

	rec := h.do(t, http.MethodPost, "/v1/issue", &caller, map[string]string{"amount": "2000"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/issue", &caller, map[string]string{"amount": "lots"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/issue", &caller, map[string]any{"amount": "1", "extra": true})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/admin/fund", &caller, map[string]string{"key": nativecommon.PERI, "to": alice.String(), "amount": "1"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/admin/pynths", &admin, map[string]string{"key": nativecommon.PUSD})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/collateral/eth/loans/1", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/admin/suspend", &admin, map[string]string{"section": nativecommon.SectionSystem, "reason": "upgrade"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, http.MethodPost, "/v1/issue", &caller, map[string]string{"amount": "1"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSettingsPartialUpdate(t *testing.T) {
	h := newHarness(t, nil)
	admin := authority
	rec := h.do(t, http.MethodPost, "/v1/admin/settings", &admin, map[string]string{"issuanceRatio": "0.2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	settings := h.node.Settings()
	require.Equal(t, nativecommon.Fraction(1, 5).String(), settings.IssuanceRatio.String())
	require.Equal(t, params.DefaultSettings().LiquidationRatio.String(), settings.LiquidationRatio.String())

	rec = h.do(t, http.MethodPost, "/v1/admin/settings", &admin, map[string]string{"liquidationDelay": "soon"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeePeriodExport(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/v1/feepool/export?format=jsonl&open=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(checksumHeader))
	require.Contains(t, rec.Body.String(), `"period_id":1`)

	rec = h.do(t, http.MethodGet, "/v1/feepool/export?format=xml", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsWithoutJournal(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/v1/events", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimiterThrottles(t *testing.T) {
	h := newHarness(t, NewRateLimiter(60, 1))
	first := h.do(t, http.MethodGet, "/v1/system", nil, nil)
	require.Equal(t, http.StatusOK, first.Code)
	second := h.do(t, http.MethodGet, "/v1/system", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, second.Code)

	rec := h.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
