package mpesa

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type darajaStub struct {
	tokenCalls  atomic.Int64
	pushCalls   atomic.Int64
	queryCalls  atomic.Int64
	pushStatus  int
	pushBody    string
	queryStatus int
	queryBody   string
	lastPush    atomic.Value
}

func (d *darajaStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		d.tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"test-token","expires_in":"3599"}`))
	})
	mux.HandleFunc("POST /mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		d.pushCalls.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		d.lastPush.Store(body)

		status := d.pushStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(d.pushBody))
	})
	mux.HandleFunc("POST /mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		d.queryCalls.Add(1)
		status := d.queryStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(d.queryBody))
	})
	return mux
}

const acceptedPush = `{
	"MerchantRequestID":"merchant-1",
	"CheckoutRequestID":"ws_CO_0001",
	"ResponseCode":"0",
	"ResponseDescription":"Success. Request accepted for processing",
	"CustomerMessage":"Success. Request accepted for processing"
}`

func newTestClient(t *testing.T, stub *darajaStub) *Client {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	client := NewClient(Config{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://shop.example/payments/callback/s3cret",
	})
	client.now = func() time.Time { return time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC) }
	return client
}

func TestInitiateSTKPush_SendsSignedRequest(t *testing.T) {
	stub := &darajaStub{pushBody: acceptedPush}
	client := newTestClient(t, stub)

	resp, err := client.InitiateSTKPush(t.Context(), STKPushRequest{
		Amount:           499.6,
		PhoneNumber:      "254712345678",
		AccountReference: "LNB-001",
	})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_0001", resp.CheckoutRequestID)
	assert.NotEmpty(t, resp.CustomerMessage)

	body, ok := stub.lastPush.Load().(map[string]any)
	require.True(t, ok, "push body not captured")
	assert.Equal(t, "174379", body["BusinessShortCode"])
	assert.Equal(t, "20240601123045", body["Timestamp"])
	assert.Equal(t, "CustomerPayBillOnline", body["TransactionType"])
	assert.Equal(t, float64(500), body["Amount"], "amount is rounded to whole shillings")
	assert.Equal(t, "254712345678", body["PartyA"])
	assert.Equal(t, "https://shop.example/payments/callback/s3cret", body["CallBackURL"])

	wantPassword := base64.StdEncoding.EncodeToString([]byte("174379" + "passkey" + "20240601123045"))
	assert.Equal(t, wantPassword, body["Password"])
}

func TestInitiateSTKPush_ProviderRejection(t *testing.T) {
	stub := &darajaStub{pushBody: `{"ResponseCode":"1","ResponseDescription":"Invalid Amount"}`}
	client := newTestClient(t, stub)

	_, err := client.InitiateSTKPush(t.Context(), STKPushRequest{Amount: 10, PhoneNumber: "254712345678", AccountReference: "LNB-001"})
	require.Error(t, err)

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "stkpush", gwErr.Op)
	assert.Contains(t, string(gwErr.RawBody), "Invalid Amount")
}

func TestInitiateSTKPush_MissingCheckoutID(t *testing.T) {
	stub := &darajaStub{pushBody: `{"ResponseCode":"0"}`}
	client := newTestClient(t, stub)

	_, err := client.InitiateSTKPush(t.Context(), STKPushRequest{Amount: 10, PhoneNumber: "254712345678", AccountReference: "LNB-001"})
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
}

func TestAccessToken_CachedAcrossCalls(t *testing.T) {
	stub := &darajaStub{pushBody: acceptedPush}
	client := newTestClient(t, stub)

	for i := 0; i < 3; i++ {
		_, err := client.InitiateSTKPush(t.Context(), STKPushRequest{Amount: 10, PhoneNumber: "254712345678", AccountReference: "LNB-001"})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), stub.tokenCalls.Load(), "token should be fetched once and reused")
	assert.Equal(t, int64(3), stub.pushCalls.Load())
}

func TestAccessToken_RefreshedAfterExpiry(t *testing.T) {
	stub := &darajaStub{pushBody: acceptedPush}
	client := newTestClient(t, stub)

	_, err := client.InitiateSTKPush(t.Context(), STKPushRequest{Amount: 10, PhoneNumber: "254712345678", AccountReference: "LNB-001"})
	require.NoError(t, err)

	// Jump past the cached token's lifetime.
	client.now = func() time.Time { return time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC) }
	_, err = client.InitiateSTKPush(t.Context(), STKPushRequest{Amount: 10, PhoneNumber: "254712345678", AccountReference: "LNB-001"})
	require.NoError(t, err)

	assert.Equal(t, int64(2), stub.tokenCalls.Load())
}

func TestPost_RetriesOnceOnUnauthorized(t *testing.T) {
	var rejected atomic.Bool
	stub := &darajaStub{pushBody: acceptedPush}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		stub.tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"test-token","expires_in":"3599"}`))
	})
	mux.HandleFunc("POST /mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		if rejected.CompareAndSwap(false, true) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"errorMessage":"Invalid Access Token"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(acceptedPush))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewClient(Config{BaseURL: srv.URL, ConsumerKey: "key", ConsumerSecret: "secret", ShortCode: "174379", Passkey: "passkey"})
	resp, err := client.InitiateSTKPush(t.Context(), STKPushRequest{Amount: 10, PhoneNumber: "254712345678", AccountReference: "LNB-001"})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_0001", resp.CheckoutRequestID)
	assert.Equal(t, int64(2), stub.tokenCalls.Load(), "401 should invalidate the cached token")
}

func TestQueryStatus_StillProcessing(t *testing.T) {
	stub := &darajaStub{
		queryStatus: http.StatusInternalServerError,
		queryBody:   `{"requestId":"r1","errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`,
	}
	client := newTestClient(t, stub)

	_, err := client.QueryStatus(t.Context(), "ws_CO_0001")
	assert.True(t, errors.Is(err, ErrResultNotReady), "got %v", err)
}

func TestQueryStatus_DefinitiveResult(t *testing.T) {
	stub := &darajaStub{
		queryBody: `{"ResponseCode":"0","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`,
	}
	client := newTestClient(t, stub)

	res, err := client.QueryStatus(t.Context(), "ws_CO_0001")
	require.NoError(t, err)
	assert.Equal(t, 1032, res.ResultCode)
	assert.Equal(t, "Request cancelled by user", res.ResultDesc)
	assert.NotEmpty(t, res.Raw)
}

func TestQueryStatus_UnparseableResultCode(t *testing.T) {
	stub := &darajaStub{queryBody: `{"ResponseCode":"0","ResultCode":"","ResultDesc":"odd"}`}
	client := newTestClient(t, stub)

	_, err := client.QueryStatus(t.Context(), "ws_CO_0001")
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "query", gwErr.Op)
}

func TestAccessToken_AuthFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errorMessage":"Bad credentials"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewClient(Config{BaseURL: srv.URL, ConsumerKey: "bad", ConsumerSecret: "bad", ShortCode: "174379", Passkey: "passkey"})
	_, err := client.InitiateSTKPush(t.Context(), STKPushRequest{Amount: 10, PhoneNumber: "254712345678", AccountReference: "LNB-001"})

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "token", gwErr.Op)
}
