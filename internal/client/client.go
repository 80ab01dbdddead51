// Package client is a small HTTP client for the dopay payment API,
// meant for storefront backends and command line tooling.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumiri/dopay/internal/models"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// NewWithHTTPClient lets the caller supply a custom transport, for
// instance one with tracing instrumentation.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

type apiError struct {
	Message string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// APIError is a non-2xx response from the payment API.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payment api: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("payment api: %s (http %d)", e.Message, e.StatusCode)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae apiError
		if err := json.NewDecoder(resp.Body).Decode(&ae); err != nil || ae.Message == "" {
			ae.Message = resp.Status
		}
		return &APIError{StatusCode: resp.StatusCode, Message: ae.Message, Code: ae.Code}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// InitiatePayment asks the server to send a payment prompt to the phone.
func (c *Client) InitiatePayment(ctx context.Context, phone, firstName string, amount decimal.Decimal) (*models.InitiateResponse, error) {
	req := models.InitiateRequest{Phone: phone, FirstName: firstName, Amount: amount}
	var resp models.InitiateResponse
	if err := c.do(ctx, http.MethodPost, "/api/payments", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PaymentStatus reconciles and returns the payment's current status.
func (c *Client) PaymentStatus(ctx context.Context, paymentID string) (*models.StatusResponse, error) {
	var resp models.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/payments/"+paymentID+"/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyName submits the payer's claimed name for verification.
func (c *Client) VerifyName(ctx context.Context, paymentID, realName string) (*models.VerifyResponse, error) {
	req := models.VerifyRequest{RealName: realName}
	var resp models.VerifyResponse
	if err := c.do(ctx, http.MethodPost, "/api/payments/"+paymentID+"/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestDownload asks for a fresh single-use download link.
func (c *Client) RequestDownload(ctx context.Context, paymentID string) (*models.DownloadGrant, error) {
	var grant models.DownloadGrant
	if err := c.do(ctx, http.MethodPost, "/api/payments/"+paymentID+"/download", nil, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}
