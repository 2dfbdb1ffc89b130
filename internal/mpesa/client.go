package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrResultNotReady signals the provider has no final result for a
// checkout request yet. It is a normal in-flight outcome, not a failure.
var ErrResultNotReady = errors.New("mpesa: result not yet available")

// GatewayError wraps any auth, network, or provider-side failure and
// retains the provider's raw response body for auditing.
type GatewayError struct {
	Op         string
	StatusCode int
	RawBody    []byte
	Err        error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("mpesa %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Config holds Daraja API credentials and endpoints.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	Timeout        time.Duration
}

const (
	defaultTimeout = 30 * time.Second
	tokenSkew      = 30 * time.Second
	timestampForm  = "20060102150405"

	// Daraja reports this code while an STK push is still in flight.
	errCodeProcessing = "500.001.1001"
)

// Client talks to the Daraja STK push and query endpoints. Access tokens
// are acquired lazily and cached for their stated lifetime.
type Client struct {
	http *resty.Client
	cfg  Config
	now  func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient constructs a Daraja client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(timeout).
			SetRetryCount(0),
		cfg: cfg,
		now: time.Now,
	}
}

// STKPushRequest describes one payment prompt to a customer's phone.
// PhoneNumber must already be in canonical 254... form.
type STKPushRequest struct {
	Amount           float64
	PhoneNumber      string
	AccountReference string
	Description      string
}

// STKPushResponse is the provider's acknowledgement of an initiated push.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// QueryResult is the provider's definitive answer for a checkout request.
type QueryResult struct {
	ResultCode int
	ResultDesc string
	Raw        []byte
}

// InitiateSTKPush sends the payment prompt and returns the provider's
// correlation id for the attempt.
func (c *Client) InitiateSTKPush(ctx context.Context, req STKPushRequest) (STKPushResponse, error) {
	ts := c.now().Format(timestampForm)
	desc := req.Description
	if desc == "" {
		desc = "Order " + req.AccountReference
	}
	payload := map[string]any{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.password(ts),
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            int64(math.Round(req.Amount)),
		"PartyA":            req.PhoneNumber,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       req.PhoneNumber,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  req.AccountReference,
		"TransactionDesc":   desc,
	}

	var out STKPushResponse
	resp, err := c.post(ctx, "stkpush", "/mpesa/stkpush/v1/processrequest", payload, &out)
	if err != nil {
		return STKPushResponse{}, err
	}
	if out.ResponseCode != "0" {
		return STKPushResponse{}, &GatewayError{
			Op:         "stkpush",
			StatusCode: resp.StatusCode(),
			RawBody:    resp.Body(),
			Err:        fmt.Errorf("provider rejected request: %s", out.ResponseDescription),
		}
	}
	if out.CheckoutRequestID == "" {
		return STKPushResponse{}, &GatewayError{
			Op:      "stkpush",
			RawBody: resp.Body(),
			Err:     errors.New("response missing CheckoutRequestID"),
		}
	}
	return out, nil
}

// QueryStatus asks the provider for the outcome of a checkout request.
// Returns ErrResultNotReady while the push is still in flight.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (QueryResult, error) {
	ts := c.now().Format(timestampForm)
	payload := map[string]any{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.password(ts),
		"Timestamp":         ts,
		"CheckoutRequestID": checkoutRequestID,
	}

	var out struct {
		ResponseCode string `json:"ResponseCode"`
		ResultCode   string `json:"ResultCode"`
		ResultDesc   string `json:"ResultDesc"`
	}
	resp, err := c.post(ctx, "query", "/mpesa/stkpushquery/v1/query", payload, &out)
	if err != nil {
		return QueryResult{}, err
	}

	code, convErr := strconv.Atoi(out.ResultCode)
	if convErr != nil {
		return QueryResult{}, &GatewayError{
			Op:      "query",
			RawBody: resp.Body(),
			Err:     fmt.Errorf("unparseable ResultCode %q", out.ResultCode),
		}
	}
	return QueryResult{ResultCode: code, ResultDesc: out.ResultDesc, Raw: resp.Body()}, nil
}

// post sends an authenticated request, refreshing the token once on a 401.
func (c *Client) post(ctx context.Context, op, path string, payload, out any) (*resty.Response, error) {
	retried := false
	for {
		token, err := c.accessToken(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(payload).
			SetResult(out).
			Post(path)
		if err != nil {
			return nil, &GatewayError{Op: op, Err: err}
		}

		if resp.StatusCode() == http.StatusUnauthorized && !retried {
			retried = true
			c.invalidateToken()
			continue
		}
		if resp.IsError() {
			return nil, c.errorFromResponse(op, resp)
		}
		return resp, nil
	}
}

// errorFromResponse classifies a non-2xx provider response. The "still
// processing" rejection on the query endpoint is not a failure.
func (c *Client) errorFromResponse(op string, resp *resty.Response) error {
	var apiErr struct {
		RequestID    string `json:"requestId"`
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(resp.Body(), &apiErr); err == nil {
		if op == "query" && apiErr.ErrorCode == errCodeProcessing {
			return ErrResultNotReady
		}
		if apiErr.ErrorMessage != "" {
			return &GatewayError{
				Op:         op,
				StatusCode: resp.StatusCode(),
				RawBody:    resp.Body(),
				Err:        fmt.Errorf("%s: %s", apiErr.ErrorCode, apiErr.ErrorMessage),
			}
		}
	}
	return &GatewayError{
		Op:         op,
		StatusCode: resp.StatusCode(),
		RawBody:    resp.Body(),
		Err:        fmt.Errorf("unexpected status %d", resp.StatusCode()),
	}
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret).
		SetQueryParam("grant_type", "client_credentials").
		SetResult(&body).
		Get("/oauth/v1/generate")
	if err != nil {
		return "", &GatewayError{Op: "token", Err: err}
	}
	if resp.IsError() {
		return "", &GatewayError{
			Op:         "token",
			StatusCode: resp.StatusCode(),
			RawBody:    resp.Body(),
			Err:        errors.New("authentication failed"),
		}
	}
	if body.AccessToken == "" {
		return "", &GatewayError{Op: "token", RawBody: resp.Body(), Err: errors.New("empty access token")}
	}

	ttl := time.Hour
	if secs, err := strconv.Atoi(body.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	c.token = body.AccessToken
	c.tokenExpiry = c.now().Add(ttl - tokenSkew)
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp))
}
