package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rumiri/dopay/internal/gateway"
	"github.com/rumiri/dopay/internal/models"
	"github.com/rumiri/dopay/internal/service"
	"github.com/rumiri/dopay/internal/telemetry"
)

var phonePattern = regexp.MustCompile(`^254[0-9]{9}$`)

// Reconciler is the slice of the reconciliation service the handlers use.
type Reconciler interface {
	Initiate(ctx context.Context, phone, firstName string, amount decimal.Decimal) (*models.PaymentRequest, error)
	Reconcile(ctx context.Context, paymentID string) (*service.ReconcileResult, error)
}

type Verifier interface {
	VerifyName(ctx context.Context, paymentID, claimedName string) (bool, error)
}

type TokenIssuer interface {
	Issue(ctx context.Context, paymentID string) (*models.DownloadToken, error)
	Consume(ctx context.Context, paymentID, secret string) (string, error)
	TTL() time.Duration
}

type StatsProvider interface {
	Stats(ctx context.Context) (*models.Stats, error)
}

type PaymentHandler struct {
	reconciler Reconciler
	verifier   Verifier
	tokens     TokenIssuer
	stats      StatsProvider
}

func NewPaymentHandler(reconciler Reconciler, verifier Verifier, tokens TokenIssuer, stats StatsProvider) *PaymentHandler {
	return &PaymentHandler{reconciler: reconciler, verifier: verifier, tokens: tokens, stats: stats}
}

// InitiatePayment sends the push prompt to the payer's phone.
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	var req models.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if !phonePattern.MatchString(req.Phone) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid phone number format. Use 254XXXXXXXXX"})
		return
	}
	if req.FirstName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "First name is required"})
		return
	}
	if !req.Amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Amount must be positive"})
		return
	}

	payment, err := h.reconciler.Initiate(c.Request.Context(), req.Phone, req.FirstName, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrRejected):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.Is(err, gateway.ErrAuth), errors.Is(err, gateway.ErrUnavailable):
			c.JSON(http.StatusBadGateway, gin.H{"error": "Payment provider is unavailable. Please try again."})
		default:
			telemetry.Logger.Error("failed to initiate payment", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create payment"})
		}
		return
	}

	c.JSON(http.StatusCreated, models.InitiateResponse{
		PaymentID: payment.ID,
		Message:   "STK Push sent successfully. Please check your phone.",
	})
}

// PaymentStatus reconciles the payment and reports its current status.
func (h *PaymentHandler) PaymentStatus(c *gin.Context) {
	paymentID := c.Param("id")

	result, err := h.reconciler.Reconcile(c.Request.Context(), paymentID)
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
			return
		}
		telemetry.Logger.Error("failed to reconcile payment",
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check payment status"})
		return
	}

	c.JSON(http.StatusOK, models.StatusResponse{
		PaymentID:   paymentID,
		Status:      result.Status,
		MpesaName:   result.Payment.GatewayName,
		EnteredName: result.Payment.ClaimedFirstName,
		Receipt:     result.Payment.Receipt,
	})
}

// VerifyName runs the name check and resolves the payment either way.
func (h *PaymentHandler) VerifyName(c *gin.Context) {
	paymentID := c.Param("id")

	var req models.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RealName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Real name is required"})
		return
	}

	verified, err := h.verifier.VerifyName(c.Request.Context(), paymentID, req.RealName)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
		case errors.Is(err, service.ErrNotReady):
			c.JSON(http.StatusConflict, gin.H{"error": "Payment not completed. Verification not allowed.", "code": "not_ready"})
		case errors.Is(err, service.ErrNameNotYetAvailable):
			c.JSON(http.StatusConflict, gin.H{"error": "M-Pesa name not yet received. Please wait a moment and try again.", "code": "name_not_yet_available"})
		case errors.Is(err, service.ErrTooManyAttempts):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many verification attempts. Please contact support.", "code": "too_many_attempts"})
		default:
			telemetry.Logger.Error("name verification failed",
				zap.String("payment_id", paymentID),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify name"})
		}
		return
	}

	if !verified {
		c.JSON(http.StatusOK, models.VerifyResponse{
			Verified: false,
			Message:  "Name verification failed. Please contact support for help.",
		})
		return
	}

	c.JSON(http.StatusOK, models.VerifyResponse{
		Verified: true,
		Message:  "Name verification successful! You can now download.",
	})
}

// RequestDownload issues a fresh single-use download token.
func (h *PaymentHandler) RequestDownload(c *gin.Context) {
	paymentID := c.Param("id")

	token, err := h.tokens.Issue(c.Request.Context(), paymentID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
		case errors.Is(err, service.ErrNotAuthorized):
			c.JSON(http.StatusForbidden, gin.H{"error": "Payment not verified. Download not allowed."})
		default:
			telemetry.Logger.Error("failed to issue download token",
				zap.String("payment_id", paymentID),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate download link"})
		}
		return
	}

	c.JSON(http.StatusOK, models.DownloadGrant{
		DownloadURL: fmt.Sprintf("/secure-download?payment=%s&token=%s", paymentID, token.Secret),
		ExpiresIn:   int64(h.tokens.TTL().Seconds()),
	})
}

// Download consumes a token and streams the protected file. A token works
// exactly once; replays are told to request a new download.
func (h *PaymentHandler) Download(c *gin.Context) {
	paymentID := c.Query("payment")
	secret := c.Query("token")
	if paymentID == "" || secret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing payment or token"})
		return
	}

	target, err := h.tokens.Consume(c.Request.Context(), paymentID, secret)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTokenExpired):
			c.JSON(http.StatusGone, gin.H{"error": "Download link expired. Please request a new download."})
		case errors.Is(err, service.ErrTokenAlreadyUsed):
			c.JSON(http.StatusGone, gin.H{"error": "Download link already used. Please request a new download."})
		case errors.Is(err, service.ErrTokenNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Download link not found. Please request a new download."})
		default:
			telemetry.Logger.Error("failed to consume download token",
				zap.String("payment_id", paymentID),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Download failed"})
		}
		return
	}

	c.FileAttachment(target, "download.pdf")
}

// AdminStats reports the dashboard numbers.
func (h *PaymentHandler) AdminStats(c *gin.Context) {
	stats, err := h.stats.Stats(c.Request.Context())
	if err != nil {
		telemetry.Logger.Error("failed to load stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
