package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rumiri/dopay/internal/interfaces"
	"github.com/rumiri/dopay/internal/models"
)

const tokenSecretBytes = 32

// TokenIssuer mints and redeems single-use download credentials. A token can
// only be issued for an authorized payment with a verified gateway name, and
// consumption is an atomic check-and-set so a leaked URL yields exactly one
// download.
type TokenIssuer struct {
	repo         interfaces.PaymentRepository
	ttl          time.Duration
	downloadFile string
	logger       *zap.Logger
}

func NewTokenIssuer(repo interfaces.PaymentRepository, ttl time.Duration, downloadFile string, logger *zap.Logger) *TokenIssuer {
	return &TokenIssuer{repo: repo, ttl: ttl, downloadFile: downloadFile, logger: logger}
}

// Issue creates a fresh download token. Both preconditions are enforced: the
// payment must be authorized and must carry the gateway-reported name.
func (s *TokenIssuer) Issue(ctx context.Context, paymentID string) (*models.DownloadToken, error) {
	payment, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	if payment.Status != models.StatusAuthorized || payment.GatewayName == "" {
		return nil, ErrNotAuthorized
	}

	secret := make([]byte, tokenSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}

	token := &models.DownloadToken{
		PaymentID: paymentID,
		Secret:    hex.EncodeToString(secret),
		ExpiresAt: time.Now().Add(s.ttl),
	}
	if err := s.repo.InsertToken(ctx, token); err != nil {
		return nil, err
	}

	s.logger.Info("download token issued", zap.String("payment_id", paymentID))
	return token, nil
}

// TTL reports the configured token lifetime.
func (s *TokenIssuer) TTL() time.Duration {
	return s.ttl
}

// Consume redeems a token and returns the download target. At most one of
// two simultaneous consumers succeeds; the loser gets ErrTokenAlreadyUsed.
func (s *TokenIssuer) Consume(ctx context.Context, paymentID, secret string) (string, error) {
	rows, err := s.repo.ConsumeToken(ctx, paymentID, secret, time.Now())
	if err != nil {
		return "", err
	}
	if rows > 0 {
		return s.downloadFile, nil
	}

	// The conditional update matched nothing; look at the row to say why.
	token, err := s.repo.GetToken(ctx, paymentID, secret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrTokenNotFound
		}
		return "", err
	}
	if token.Consumed {
		return "", ErrTokenAlreadyUsed
	}
	if time.Now().After(token.ExpiresAt) {
		return "", ErrTokenExpired
	}
	return "", ErrTokenNotFound
}
