package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusGatewayDone       Status = "gateway_done"
	StatusAuthorized        Status = "authorized"
	StatusRejected          Status = "rejected"
	StatusCanceledByUser    Status = "canceled_by_user"
	StatusTimedOut          Status = "timed_out"
	StatusInsufficientFunds Status = "insufficient_funds"
	StatusInvalidPhone      Status = "invalid_phone"
	StatusFailed            Status = "failed"
)

// IsTerminal reports whether no further gateway queries or name checks may
// happen for a payment in this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAuthorized, StatusRejected, StatusCanceledByUser,
		StatusTimedOut, StatusInsufficientFunds, StatusInvalidPhone, StatusFailed:
		return true
	}
	return false
}

// PaymentRequest is one payment attempt. The status column is the single
// authoritative field; every transition is a conditional update against the
// expected prior status.
type PaymentRequest struct {
	ID               string          `json:"id"`
	Phone            string          `json:"phone"`
	ClaimedFirstName string          `json:"claimed_first_name"`
	Amount           decimal.Decimal `json:"amount"`
	CheckoutID       string          `json:"gateway_checkout_id"`
	MerchantID       string          `json:"gateway_merchant_id"`
	GatewayName      string          `json:"gateway_reported_name"`
	Receipt          string          `json:"receipt_reference"`
	Status           Status          `json:"status"`
	VerifyAttempts   int             `json:"verify_attempts"`
	LastClaimedName  string          `json:"last_claimed_name"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// DownloadToken is a single-use, time-limited download credential. It
// references a payment but does not own it; expiry or consumption never
// changes the payment's status.
type DownloadToken struct {
	PaymentID string    `json:"payment_id"`
	Secret    string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	Consumed  bool      `json:"consumed"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats mirrors the numbers the admin dashboard shows.
type Stats struct {
	TotalPayments      int64           `json:"total_payments"`
	SuccessfulPayments int64           `json:"successful_payments"`
	PendingPayments    int64           `json:"pending_payments"`
	TotalRevenue       decimal.Decimal `json:"total_revenue"`
}

// InitiateRequest is the body of POST /api/payments.
type InitiateRequest struct {
	Phone     string          `json:"phone_number"`
	FirstName string          `json:"first_name"`
	Amount    decimal.Decimal `json:"amount"`
}

// InitiateResponse acknowledges a push sent to the payer's phone.
type InitiateResponse struct {
	PaymentID string `json:"payment_id"`
	Message   string `json:"message"`
}

// StatusResponse is what a polling client sees after reconciliation.
type StatusResponse struct {
	PaymentID   string `json:"payment_id"`
	Status      Status `json:"status"`
	MpesaName   string `json:"mpesa_name,omitempty"`
	EnteredName string `json:"entered_name"`
	Receipt     string `json:"receipt,omitempty"`
}

// VerifyRequest is the body of POST /api/payments/:id/verify.
type VerifyRequest struct {
	RealName string `json:"real_name"`
}

// VerifyResponse reports the outcome of a name verification attempt.
type VerifyResponse struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message,omitempty"`
}

// DownloadGrant is returned when a download token is issued.
type DownloadGrant struct {
	DownloadURL string `json:"download_url"`
	ExpiresIn   int64  `json:"expires_in"`
}
