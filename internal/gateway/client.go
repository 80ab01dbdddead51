// Package gateway talks to the Daraja STK push API: it sends the
// push-to-phone prompt and queries the outcome of a checkout. It never
// touches the payment record store.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrAuth        = errors.New("gateway authentication failed")
	ErrRejected    = errors.New("gateway rejected request")
	ErrUnavailable = errors.New("gateway unavailable")
)

var gatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gateway_requests_total",
	Help: "Gateway API calls by operation and outcome.",
}, []string{"op", "outcome"})

// Outcome is the domain status of a checkout as reported by the gateway.
type Outcome string

const (
	OutcomeCompleted         Outcome = "completed"
	OutcomeUserCanceled      Outcome = "user_canceled"
	OutcomeTimeout           Outcome = "timeout"
	OutcomeInsufficientFunds Outcome = "insufficient_funds"
	OutcomeInvalidPhone      Outcome = "invalid_phone"
	OutcomeOtherFailure      Outcome = "other_failure"
	OutcomeStillProcessing   Outcome = "still_processing"
)

// InitiateResult identifies an accepted push request.
type InitiateResult struct {
	CheckoutID string
	MerchantID string
}

// QueryResult carries the checkout outcome plus whatever payer metadata the
// gateway included. PayerName and Receipt are only set on OutcomeCompleted,
// and even then the gateway sometimes omits the name on early queries.
type QueryResult struct {
	Outcome   Outcome
	PayerName string
	Receipt   string
}

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	TillNumber     string
	CallbackURL    string
	AccountPrefix  string
	Description    string
	Timeout        time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     TokenSource
	logger     *zap.Logger
}

// New builds a client. If tokens is nil an in-memory token source backed by
// the client's own credential exchange is used.
func New(cfg Config, tokens TokenSource, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.AccountPrefix == "" {
		cfg.AccountPrefix = "BOOK"
	}
	if cfg.Description == "" {
		cfg.Description = "Book Payment"
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
	if tokens == nil {
		tokens = NewMemoryTokenSource(c.FetchAccessToken)
	}
	c.tokens = tokens
	return c
}

// UseTokenCache switches the client to a redis-backed token source so
// replicas share one access token instead of each holding their own.
func (c *Client) UseTokenCache(rc *redis.Client) {
	c.tokens = NewRedisTokenSource(rc, c.FetchAccessToken)
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// FetchAccessToken performs the OAuth client-credentials exchange. Exposed as
// a FetchFunc so token sources can share it.
func (c *Client) FetchAccessToken(ctx context.Context) (string, time.Duration, error) {
	url := c.cfg.BaseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+credentials)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		gatewayRequests.WithLabelValues("auth", "unavailable").Inc()
		return "", 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var auth authResponse
	if err := json.Unmarshal(body, &auth); err != nil || auth.AccessToken == "" {
		gatewayRequests.WithLabelValues("auth", "denied").Inc()
		return "", 0, fmt.Errorf("%w: no access token in response (status %s)", ErrAuth, resp.Status)
	}

	ttl := time.Hour
	if secs, err := strconv.Atoi(auth.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	gatewayRequests.WithLabelValues("auth", "ok").Inc()
	return auth.AccessToken, ttl, nil
}

// post sends an authorized JSON request. A 401 invalidates the cached token,
// re-authenticates once and retries once before surfacing ErrAuth.
func (c *Client) post(ctx context.Context, url string, payload any) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			if errors.Is(err, ErrUnavailable) {
				return nil, 0, err
			}
			return nil, 0, fmt.Errorf("%w: %v", ErrAuth, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, 0, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate(ctx)
			if attempt == 0 {
				continue
			}
			return nil, resp.StatusCode, fmt.Errorf("%w: token rejected after refresh", ErrAuth)
		}

		return respBody, resp.StatusCode, nil
	}
}

// password is the shortcode+passkey+timestamp credential the STK endpoints
// require alongside the bearer token.
func (c *Client) password(now time.Time) (password, timestamp string) {
	timestamp = now.Format("20060102150405")
	password = base64.StdEncoding.EncodeToString([]byte(c.cfg.Shortcode + c.cfg.Passkey + timestamp))
	return password, timestamp
}

type initiateResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	ErrorMessage        string `json:"errorMessage"`
}

// Initiate sends the push prompt to the payer's phone. Amount is whole
// shillings; the gateway does not take cents on this endpoint.
func (c *Client) Initiate(ctx context.Context, phone string, amount int64, reference string) (*InitiateResult, error) {
	password, timestamp := c.password(time.Now())
	payload := map[string]any{
		"BusinessShortCode": c.cfg.Shortcode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerBuyGoodsOnline",
		"Amount":            amount,
		"PartyA":            phone,
		"PartyB":            c.cfg.TillNumber,
		"PhoneNumber":       phone,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  c.cfg.AccountPrefix + reference,
		"TransactionDesc":   c.cfg.Description,
	}

	body, _, err := c.post(ctx, c.cfg.BaseURL+"/mpesa/stkpush/v1/processrequest", payload)
	if err != nil {
		gatewayRequests.WithLabelValues("initiate", "error").Inc()
		return nil, err
	}

	var resp initiateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		gatewayRequests.WithLabelValues("initiate", "error").Inc()
		return nil, fmt.Errorf("%w: invalid response body", ErrUnavailable)
	}

	if resp.ResponseCode != "0" {
		message := resp.ResponseDescription
		if resp.ErrorMessage != "" {
			message = resp.ErrorMessage
		}
		if message == "" {
			message = "unknown error"
		}
		gatewayRequests.WithLabelValues("initiate", "rejected").Inc()
		c.logger.Warn("STK push rejected", zap.String("phone", phone), zap.String("reason", message))
		return nil, fmt.Errorf("%w: %s", ErrRejected, message)
	}

	gatewayRequests.WithLabelValues("initiate", "ok").Inc()
	return &InitiateResult{
		CheckoutID: resp.CheckoutRequestID,
		MerchantID: resp.MerchantRequestID,
	}, nil
}

type metadataItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

type queryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
	CallbackMetadata    struct {
		Item []metadataItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

// Gateway result codes for a resolved checkout.
const (
	resultCompleted         = "0"
	resultUserCanceled      = "1032"
	resultTimeout           = "1037"
	resultInsufficientFunds = "1001"
	resultInvalidPhone      = "2001"
)

// QueryStatus asks the gateway what became of a checkout. Completed results
// carry payer name and receipt in loosely typed metadata; both fields may be
// absent and are extracted defensively.
func (c *Client) QueryStatus(ctx context.Context, checkoutID string) (*QueryResult, error) {
	password, timestamp := c.password(time.Now())
	payload := map[string]any{
		"BusinessShortCode": c.cfg.Shortcode,
		"Password":          password,
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutID,
	}

	body, _, err := c.post(ctx, c.cfg.BaseURL+"/mpesa/stkpushquery/v1/query", payload)
	if err != nil {
		gatewayRequests.WithLabelValues("query", "error").Inc()
		return nil, err
	}

	var resp queryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		gatewayRequests.WithLabelValues("query", "error").Inc()
		return nil, fmt.Errorf("%w: invalid response body", ErrUnavailable)
	}

	switch resp.ResponseCode {
	case "0":
		result := mapResultCode(resp)
		gatewayRequests.WithLabelValues("query", string(result.Outcome)).Inc()
		return result, nil
	case "1":
		// Request not yet processed by the gateway.
		gatewayRequests.WithLabelValues("query", string(OutcomeStillProcessing)).Inc()
		return &QueryResult{Outcome: OutcomeStillProcessing}, nil
	default:
		message := resp.ResponseDescription
		if message == "" {
			message = "unknown API error"
		}
		gatewayRequests.WithLabelValues("query", "error").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, message)
	}
}

func mapResultCode(resp queryResponse) *QueryResult {
	switch resp.ResultCode {
	case resultCompleted:
		result := &QueryResult{Outcome: OutcomeCompleted}
		for _, item := range resp.CallbackMetadata.Item {
			if item.Value == nil {
				continue
			}
			switch item.Name {
			case "FirstName":
				result.PayerName = fmt.Sprint(item.Value)
			case "MpesaReceiptNumber":
				result.Receipt = fmt.Sprint(item.Value)
			}
		}
		return result
	case resultUserCanceled:
		return &QueryResult{Outcome: OutcomeUserCanceled}
	case resultTimeout:
		return &QueryResult{Outcome: OutcomeTimeout}
	case resultInsufficientFunds:
		return &QueryResult{Outcome: OutcomeInsufficientFunds}
	case resultInvalidPhone:
		return &QueryResult{Outcome: OutcomeInvalidPhone}
	default:
		return &QueryResult{Outcome: OutcomeOtherFailure}
	}
}
