package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mortgagechain/core"
	"mortgagechain/core/genesis"
	"mortgagechain/crypto"
	"mortgagechain/observability/logging"
	"mortgagechain/storage"
)

const testSecret = "rpc-test-secret"

var (
	operator = [20]byte{0x0a}
	lender   = [20]byte{0x1e}
	seller   = [20]byte{0x5e}
)

type testEnv struct {
	server   *Server
	handler  http.Handler
	node     *core.Node
	key      *crypto.PrivateKey
	borrower [20]byte
}

func newTestEnv(t *testing.T, cfg ServerConfig) *testEnv {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	borrower := [20]byte(key.PubKey().Address())

	node, err := core.NewNode(storage.NewMemDB(), core.Config{
		PricingToken: "MANA",
		LoanToken:    "RCN",
		Operator:     operator,
	}, core.WithNowFunc(func() int64 { return 1_000 }))
	require.NoError(t, err)
	spec := &genesis.Spec{
		Tokens: []genesis.TokenSpec{{Symbol: "MANA", Decimals: 18}, {Symbol: "RCN", Decimals: 18}},
		Alloc: map[string]map[string]string{
			crypto.Address(borrower).String(): {"MANA": "100"},
			crypto.Address(lender).String():   {"RCN": "1000"},
		},
		Parcels:   []genesis.ParcelSpec{{X: 3, Y: -7, Owner: crypto.Address(seller).String()}},
		Listings:  []genesis.ListingSpec{{X: 3, Y: -7, Price: "200", ExpiresAt: 50_000}},
		Rates:     []genesis.RateSpec{{From: "RCN", To: "MANA", Rate: "0.5"}, {From: "MANA", To: "RCN", Rate: "2"}},
		Inventory: map[string]string{"MANA": "10000", "RCN": "10000"},
	}
	require.NoError(t, node.InitGenesis(context.Background(), spec))

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = testSecret
	}
	server := NewServer(node, nil, cfg)
	return &testEnv{server: server, handler: server.Handler(), node: node, key: key, borrower: borrower}
}

func (e *testEnv) call(t *testing.T, as *[20]byte, method string, params interface{}) (int, RPCResponse) {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []json.RawMessage{raw},
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.RemoteAddr = "10.0.0.5:1234"
	if as != nil {
		token, err := IssueToken(testSecret, *as, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	var resp RPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func resultMap(t *testing.T, resp RPCResponse) map[string]interface{} {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	out, ok := resp.Result.(map[string]interface{})
	require.True(t, ok, "unexpected result %T", resp.Result)
	return out
}

func TestMortgageFlowOverRPC(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	borrower := env.borrower
	bech := crypto.Address(borrower).String()

	terms := map[string]interface{}{"amount": "190", "duesIn": 86_400, "expiresAt": 10_000}
	idParams := map[string]interface{}{"borrower": bech, "metadata": "house"}
	for k, v := range terms {
		idParams[k] = v
	}
	_, resp := env.call(t, nil, "helper_identifier", idParams)
	identifierHex := resultMap(t, resp)["identifier"].(string)
	raw, err := hex.DecodeString(strings.TrimPrefix(identifierHex, "0x"))
	require.NoError(t, err)
	var identifier [32]byte
	copy(identifier[:], raw)
	sig, err := crypto.SignDigest(env.key, identifier)
	require.NoError(t, err)

	_, resp = env.call(t, nil, "helper_requiredDeposit", map[string]interface{}{
		"parcel": map[string]int64{"x": 3, "y": -7}, "amount": "190",
	})
	require.Equal(t, float64(30), resultMap(t, resp)["deposit"])

	_, resp = env.call(t, &borrower, "bank_approve", map[string]string{
		"token": "MANA", "spender": crypto.Address(core.HelperAddress).String(), "amount": "30",
	})
	resultMap(t, resp)

	reqParams := map[string]interface{}{
		"parcel":    map[string]int64{"x": 3, "y": -7},
		"metadata":  "house",
		"signature": "0x" + hex.EncodeToString(sig),
	}
	for k, v := range terms {
		reqParams[k] = v
	}
	_, resp = env.call(t, &borrower, "helper_requestMortgage", reqParams)
	opened := resultMap(t, resp)
	require.Equal(t, "pending", opened["status"])
	mortgageID := opened["id"].(float64)
	loanID := opened["loanId"].(float64)

	_, resp = env.call(t, &borrower, "bank_approve", map[string]string{
		"token": "RCN", "spender": crypto.Address(core.MortgageAddress).String(), "amount": "380",
	})
	resultMap(t, resp)
	_, resp = env.call(t, &lender, "bank_approve", map[string]string{
		"token": "RCN", "spender": crypto.Address(core.LoansAddress).String(), "amount": "380",
	})
	resultMap(t, resp)
	_, resp = env.call(t, &lender, "loan_lend", map[string]interface{}{"loanId": loanID, "mortgageId": mortgageID})
	lent := resultMap(t, resp)
	require.Equal(t, "lent", lent["status"])
	require.Equal(t, crypto.Address(core.MortgageAddress).String(), lent["cosigner"])

	_, resp = env.call(t, nil, "mortgage_get", map[string]interface{}{"id": mortgageID})
	got := resultMap(t, resp)
	require.Equal(t, "ongoing", got["status"])
	require.Equal(t, float64(200), got["collateralCost"])
	require.Equal(t, bech, got["holder"])

	// Cancelling a funded mortgage conflicts with its state.
	code, resp := env.call(t, &borrower, "mortgage_cancel", map[string]interface{}{"id": mortgageID})
	require.Equal(t, http.StatusConflict, code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeConflict, resp.Error.Code)

	// The loan is not due, so nobody can claim yet.
	_, resp = env.call(t, &seller, "mortgage_claim", map[string]interface{}{"loanId": loanID})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeConflict, resp.Error.Code)
}

func TestWriteMethodsRequireToken(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	code, resp := env.call(t, nil, "bank_transfer", map[string]string{
		"token": "RCN", "to": crypto.Address(seller).String(), "amount": "1",
	})
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"bank_transfer","params":[{}]}`))
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestErrorsMapToCodes(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	_, resp := env.call(t, nil, "mortgage_get", map[string]interface{}{"id": 42})
	require.Equal(t, codeNotFound, resp.Error.Code)

	_, resp = env.call(t, &seller, "bank_transfer", map[string]string{
		"token": "RCN", "to": crypto.Address(lender).String(), "amount": "5",
	})
	require.Equal(t, codeInsufficientFunds, resp.Error.Code)

	_, resp = env.call(t, nil, "bank_balance", map[string]string{"token": "RCN", "address": "nope"})
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	code, resp := env.call(t, nil, "mortgage_unknown", map[string]string{})
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestRateLimitRejectsBurst(t *testing.T) {
	env := newTestEnv(t, ServerConfig{RequestsPerMinute: 1, Burst: 2})
	params := map[string]string{"token": "RCN", "address": crypto.Address(lender).String()}
	for i := 0; i < 2; i++ {
		code, _ := env.call(t, nil, "bank_balance", params)
		require.Equal(t, http.StatusOK, code)
	}
	code, resp := env.call(t, nil, "bank_balance", params)
	require.Equal(t, http.StatusTooManyRequests, code)
	require.Equal(t, codeRateLimited, resp.Error.Code)
}

func TestHealthAndRequestID(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["genesis"])
}

func TestCredentialsAreRedactedInLogs(t *testing.T) {
	var logs bytes.Buffer
	env := newTestEnv(t, ServerConfig{Logger: slog.New(slog.NewJSONHandler(&logs, nil))})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"bank_transfer","params":[{}]}`))
	req.Header.Set("Authorization", "Bearer leaked-bearer-value")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	sig, err := crypto.SignDigest(env.key, [32]byte{0x01})
	require.NoError(t, err)
	sigHex := "0x" + hex.EncodeToString(sig)
	borrower := env.borrower
	_, resp := env.call(t, &borrower, "helper_requestMortgage", map[string]interface{}{
		"parcel":    map[string]int64{"x": 3, "y": -7},
		"amount":    "190",
		"duesIn":    86_400,
		"expiresAt": 10_000,
		"signature": sigHex,
	})
	require.NotNil(t, resp.Error)

	out := logs.String()
	require.Contains(t, out, "rpc authentication failed")
	require.Contains(t, out, "helper mortgage request rejected")
	require.Contains(t, out, logging.RedactedValue)
	require.NotContains(t, out, "leaked-bearer-value")
	require.NotContains(t, out, strings.TrimPrefix(sigHex, "0x"))
}

func TestOperatorRetiresConverter(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	borrower := env.borrower
	book := crypto.Address(env.node.Book().Address()).String()

	_, resp := env.call(t, &borrower, "convert_retire", map[string]string{"address": book})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeForbidden, resp.Error.Code)

	_, resp = env.call(t, nil, "convert_list", map[string]string{})
	require.Nil(t, resp.Error)
	require.Equal(t, []interface{}{map[string]interface{}{"address": book, "active": true}}, resp.Result)

	op := operator
	_, resp = env.call(t, &op, "convert_retire", map[string]string{"address": book})
	require.Equal(t, false, resultMap(t, resp)["active"])

	_, resp = env.call(t, &op, "convert_retire", map[string]string{"address": crypto.Address(seller).String()})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeConversionFailed, resp.Error.Code)

	_, resp = env.call(t, nil, "convert_list", map[string]string{})
	require.Equal(t, []interface{}{map[string]interface{}{"address": book, "active": false}}, resp.Result)

	// New helper requests route through the retired book and are refused.
	terms := map[string]interface{}{"amount": "190", "duesIn": 86_400, "expiresAt": 10_000}
	idParams := map[string]interface{}{"borrower": crypto.Address(borrower).String()}
	for k, v := range terms {
		idParams[k] = v
	}
	_, resp = env.call(t, nil, "helper_identifier", idParams)
	raw, err := hex.DecodeString(strings.TrimPrefix(resultMap(t, resp)["identifier"].(string), "0x"))
	require.NoError(t, err)
	var identifier [32]byte
	copy(identifier[:], raw)
	sig, err := crypto.SignDigest(env.key, identifier)
	require.NoError(t, err)
	_, resp = env.call(t, &borrower, "bank_approve", map[string]string{
		"token": "MANA", "spender": crypto.Address(core.HelperAddress).String(), "amount": "30",
	})
	resultMap(t, resp)

	reqParams := map[string]interface{}{
		"parcel":    map[string]int64{"x": 3, "y": -7},
		"signature": "0x" + hex.EncodeToString(sig),
	}
	for k, v := range terms {
		reqParams[k] = v
	}
	_, resp = env.call(t, &borrower, "helper_requestMortgage", reqParams)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeConversionFailed, resp.Error.Code)
}
