package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumiri/dopay/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS payments (
			id VARCHAR(64) PRIMARY KEY,
			phone VARCHAR(15) NOT NULL,
			claimed_first_name VARCHAR(100) NOT NULL,
			amount NUMERIC(10,2) NOT NULL,
			checkout_request_id VARCHAR(100) NOT NULL DEFAULT '',
			merchant_request_id VARCHAR(100) NOT NULL DEFAULT '',
			gateway_name VARCHAR(100) NOT NULL DEFAULT '',
			receipt_number VARCHAR(100) NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			verify_attempts INT NOT NULL DEFAULT 0,
			last_claimed_name VARCHAR(100) NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status)`,
		`CREATE TABLE IF NOT EXISTS download_tokens (
			payment_id VARCHAR(64) NOT NULL,
			secret VARCHAR(128) NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			consumed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (payment_id, secret)
		)`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

func (r *PaymentRepository) Create(ctx context.Context, p *models.PaymentRequest) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (id, phone, claimed_first_name, amount, status)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.Phone, p.ClaimedFirstName, p.Amount.String(), p.Status)
	return err
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*models.PaymentRequest, error) {
	var p models.PaymentRequest
	var amount string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, phone, claimed_first_name, amount, checkout_request_id,
		       merchant_request_id, gateway_name, receipt_number, status,
		       verify_attempts, last_claimed_name, created_at, updated_at
		FROM payments WHERE id = $1
	`, id).Scan(&p.ID, &p.Phone, &p.ClaimedFirstName, &amount, &p.CheckoutID,
		&p.MerchantID, &p.GatewayName, &p.Receipt, &p.Status,
		&p.VerifyAttempts, &p.LastClaimedName, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) SetCheckoutIDs(ctx context.Context, id, checkoutID, merchantID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET checkout_request_id = $1, merchant_request_id = $2, updated_at = NOW()
		WHERE id = $3
	`, checkoutID, merchantID, id)
	return err
}

func (r *PaymentRepository) TransitionStatus(ctx context.Context, id string, from, to models.Status) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *PaymentRepository) CompleteGateway(ctx context.Context, id, gatewayName, receipt string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $1, gateway_name = $2, receipt_number = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5
	`, models.StatusGatewayDone, gatewayName, receipt, id, models.StatusPending)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *PaymentRepository) RecordVerification(ctx context.Context, id, claimedName string, from, to models.Status) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $1, last_claimed_name = $2, verify_attempts = verify_attempts + 1, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, to, claimedName, id, from)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *PaymentRepository) InsertToken(ctx context.Context, token *models.DownloadToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO download_tokens (payment_id, secret, expires_at)
		VALUES ($1, $2, $3)
	`, token.PaymentID, token.Secret, token.ExpiresAt)
	return err
}

func (r *PaymentRepository) GetToken(ctx context.Context, paymentID, secret string) (*models.DownloadToken, error) {
	var t models.DownloadToken
	err := r.db.QueryRowContext(ctx, `
		SELECT payment_id, secret, expires_at, consumed, created_at
		FROM download_tokens WHERE payment_id = $1 AND secret = $2
	`, paymentID, secret).Scan(&t.PaymentID, &t.Secret, &t.ExpiresAt, &t.Consumed, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *PaymentRepository) ConsumeToken(ctx context.Context, paymentID, secret string, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE download_tokens
		SET consumed = TRUE
		WHERE payment_id = $1 AND secret = $2 AND consumed = FALSE AND expires_at > $3
	`, paymentID, secret, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *PaymentRepository) Stats(ctx context.Context) (*models.Stats, error) {
	var s models.Stats
	var revenue string
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(CASE WHEN status = 'authorized' THEN 1 END),
		       COUNT(CASE WHEN status = 'pending' THEN 1 END),
		       COALESCE(SUM(CASE WHEN status = 'authorized' THEN amount ELSE 0 END), 0)
		FROM payments
	`).Scan(&s.TotalPayments, &s.SuccessfulPayments, &s.PendingPayments, &revenue)
	if err != nil {
		return nil, err
	}
	s.TotalRevenue, err = decimal.NewFromString(revenue)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
