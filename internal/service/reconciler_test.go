package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rumiri/dopay/internal/gateway"
	"github.com/rumiri/dopay/internal/models"
)

func newTestReconciler(repo *fakeRepo, gw *fakeGateway) (*Reconciler, *recordingPublisher) {
	publisher := &recordingPublisher{}
	return NewReconciler(repo, gw, publisher, zap.NewNop()), publisher
}

func seedPending(t *testing.T, repo *fakeRepo) *models.PaymentRequest {
	t.Helper()
	payment := &models.PaymentRequest{
		ID:               "pay-1",
		Phone:            "254712345678",
		ClaimedFirstName: "John",
		Amount:           decimal.NewFromInt(300),
		CheckoutID:       "ws_CO_1",
		Status:           models.StatusPending,
	}
	require.NoError(t, repo.Create(context.Background(), payment))
	return payment
}

func TestInitiateSendsPush(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	reconciler, _ := newTestReconciler(repo, gw)

	payment, err := reconciler.Initiate(context.Background(), "254712345678", "John", decimal.NewFromInt(300))
	require.NoError(t, err)
	assert.NotEmpty(t, payment.ID)
	assert.Equal(t, "ws_CO_test", payment.CheckoutID)

	stored, err := repo.GetByID(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Equal(t, "ws_CO_test", stored.CheckoutID)
	assert.Equal(t, "merch_test", stored.MerchantID)
}

func TestInitiateRejectedResolvesFailed(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{initErr: gateway.ErrRejected}
	reconciler, publisher := newTestReconciler(repo, gw)

	_, err := reconciler.Initiate(context.Background(), "254712345678", "John", decimal.NewFromInt(300))
	assert.ErrorIs(t, err, gateway.ErrRejected)

	require.Len(t, publisher.transitions, 1)
	assert.Equal(t, string(models.StatusFailed), publisher.transitions[0].to)
}

func TestReconcileStillProcessingThenCompleted(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	for i := 0; i < 5; i++ {
		gw.queryResults = append(gw.queryResults, queryStep{result: &gateway.QueryResult{Outcome: gateway.OutcomeStillProcessing}})
	}
	gw.queryResults = append(gw.queryResults, queryStep{result: &gateway.QueryResult{
		Outcome:   gateway.OutcomeCompleted,
		PayerName: "John",
		Receipt:   "RKT12XYZ",
	}})

	reconciler, publisher := newTestReconciler(repo, gw)
	seedPending(t, repo)

	var statuses []models.Status
	for i := 0; i < 6; i++ {
		result, err := reconciler.Reconcile(context.Background(), "pay-1")
		require.NoError(t, err)
		statuses = append(statuses, result.Status)
	}

	assert.Equal(t, []models.Status{
		models.StatusPending, models.StatusPending, models.StatusPending,
		models.StatusPending, models.StatusPending, models.StatusGatewayDone,
	}, statuses)

	stored, err := repo.GetByID(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusGatewayDone, stored.Status)
	assert.Equal(t, "John", stored.GatewayName)
	assert.Equal(t, "RKT12XYZ", stored.Receipt)

	require.Len(t, publisher.transitions, 1)
	assert.Equal(t, string(models.StatusGatewayDone), publisher.transitions[0].to)
}

func TestReconcileCompletedWithoutNameStaysPending(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{queryResults: []queryStep{
		{result: &gateway.QueryResult{Outcome: gateway.OutcomeCompleted}},
		{result: &gateway.QueryResult{Outcome: gateway.OutcomeCompleted, PayerName: "John", Receipt: "RKT1"}},
	}}
	reconciler, _ := newTestReconciler(repo, gw)
	seedPending(t, repo)

	result, err := reconciler.Reconcile(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, result.Status)

	stored, _ := repo.GetByID(context.Background(), "pay-1")
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Empty(t, stored.GatewayName)

	// The name arrives on a later query.
	result, err = reconciler.Reconcile(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusGatewayDone, result.Status)
	assert.Equal(t, "John", result.Payment.GatewayName)
}

func TestReconcileTerminalOutcomes(t *testing.T) {
	tests := []struct {
		outcome gateway.Outcome
		status  models.Status
	}{
		{gateway.OutcomeUserCanceled, models.StatusCanceledByUser},
		{gateway.OutcomeTimeout, models.StatusTimedOut},
		{gateway.OutcomeInsufficientFunds, models.StatusInsufficientFunds},
		{gateway.OutcomeInvalidPhone, models.StatusInvalidPhone},
		{gateway.OutcomeOtherFailure, models.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			repo := newFakeRepo()
			gw := &fakeGateway{queryResults: []queryStep{{result: &gateway.QueryResult{Outcome: tt.outcome}}}}
			reconciler, _ := newTestReconciler(repo, gw)
			seedPending(t, repo)

			result, err := reconciler.Reconcile(context.Background(), "pay-1")
			require.NoError(t, err)
			assert.Equal(t, tt.status, result.Status)
		})
	}
}

func TestReconcileIdempotentAfterResolution(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{queryResults: []queryStep{{result: &gateway.QueryResult{Outcome: gateway.OutcomeInsufficientFunds}}}}
	reconciler, _ := newTestReconciler(repo, gw)
	seedPending(t, repo)

	result, err := reconciler.Reconcile(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInsufficientFunds, result.Status)
	assert.Equal(t, 1, gw.calls())

	// Repeated polls return the identical status with zero gateway calls.
	for i := 0; i < 5; i++ {
		result, err = reconciler.Reconcile(context.Background(), "pay-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusInsufficientFunds, result.Status)
	}
	assert.Equal(t, 1, gw.calls())
}

func TestReconcileGatewayUnavailableKeepsStoredStatus(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{queryResults: []queryStep{{err: gateway.ErrUnavailable}}}
	reconciler, publisher := newTestReconciler(repo, gw)
	seedPending(t, repo)

	result, err := reconciler.Reconcile(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, result.Status)
	assert.Empty(t, publisher.transitions)
}

func TestReconcileWithoutCheckoutIDSkipsGateway(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	reconciler, _ := newTestReconciler(repo, gw)

	payment := &models.PaymentRequest{
		ID:     "pay-1",
		Status: models.StatusPending,
		Amount: decimal.NewFromInt(300),
	}
	require.NoError(t, repo.Create(context.Background(), payment))

	result, err := reconciler.Reconcile(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, result.Status)
	assert.Equal(t, 0, gw.calls())
}

func TestReconcileUnknownPayment(t *testing.T) {
	repo := newFakeRepo()
	reconciler, _ := newTestReconciler(repo, &fakeGateway{})

	_, err := reconciler.Reconcile(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}
