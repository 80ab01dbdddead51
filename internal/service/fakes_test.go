package service

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rumiri/dopay/internal/gateway"
	"github.com/rumiri/dopay/internal/models"
)

// fakeRepo is an in-memory PaymentRepository with the same conditional-update
// semantics as the SQL implementation: transitions only apply when the stored
// status still matches, and the caller sees the affected-row count.
type fakeRepo struct {
	mu       sync.Mutex
	payments map[string]*models.PaymentRequest
	tokens   map[string]*models.DownloadToken
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		payments: make(map[string]*models.PaymentRequest),
		tokens:   make(map[string]*models.DownloadToken),
	}
}

func (r *fakeRepo) Create(_ context.Context, p *models.PaymentRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.payments[p.ID] = &cp
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*models.PaymentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *p
	return &cp, nil
}

func (r *fakeRepo) SetCheckoutIDs(_ context.Context, id, checkoutID, merchantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.payments[id]; ok {
		p.CheckoutID = checkoutID
		p.MerchantID = merchantID
	}
	return nil
}

func (r *fakeRepo) TransitionStatus(_ context.Context, id string, from, to models.Status) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok || p.Status != from {
		return 0, nil
	}
	p.Status = to
	p.UpdatedAt = time.Now()
	return 1, nil
}

func (r *fakeRepo) CompleteGateway(_ context.Context, id, gatewayName, receipt string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok || p.Status != models.StatusPending {
		return 0, nil
	}
	p.Status = models.StatusGatewayDone
	p.GatewayName = gatewayName
	p.Receipt = receipt
	p.UpdatedAt = time.Now()
	return 1, nil
}

func (r *fakeRepo) RecordVerification(_ context.Context, id, claimedName string, from, to models.Status) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok || p.Status != from {
		return 0, nil
	}
	p.Status = to
	p.LastClaimedName = claimedName
	p.VerifyAttempts++
	p.UpdatedAt = time.Now()
	return 1, nil
}

func (r *fakeRepo) InsertToken(_ context.Context, token *models.DownloadToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *token
	cp.CreatedAt = time.Now()
	r.tokens[token.PaymentID+"|"+token.Secret] = &cp
	return nil
}

func (r *fakeRepo) GetToken(_ context.Context, paymentID, secret string) (*models.DownloadToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[paymentID+"|"+secret]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (r *fakeRepo) ConsumeToken(_ context.Context, paymentID, secret string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[paymentID+"|"+secret]
	if !ok || t.Consumed || !t.ExpiresAt.After(now) {
		return 0, nil
	}
	t.Consumed = true
	return 1, nil
}

func (r *fakeRepo) Stats(_ context.Context) (*models.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &models.Stats{}
	for _, p := range r.payments {
		s.TotalPayments++
		switch p.Status {
		case models.StatusAuthorized:
			s.SuccessfulPayments++
			s.TotalRevenue = s.TotalRevenue.Add(p.Amount)
		case models.StatusPending:
			s.PendingPayments++
		}
	}
	return s, nil
}

// fakeGateway returns queued query results in order, repeating the last one,
// and counts every call so tests can assert on gateway traffic.
type fakeGateway struct {
	mu            sync.Mutex
	initResult    *gateway.InitiateResult
	initErr       error
	initCalls     int
	queryResults  []queryStep
	queryCalls    int
}

type queryStep struct {
	result *gateway.QueryResult
	err    error
}

func (g *fakeGateway) Initiate(_ context.Context, _ string, _ int64, _ string) (*gateway.InitiateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initCalls++
	if g.initErr != nil {
		return nil, g.initErr
	}
	if g.initResult != nil {
		return g.initResult, nil
	}
	return &gateway.InitiateResult{CheckoutID: "ws_CO_test", MerchantID: "merch_test"}, nil
}

func (g *fakeGateway) QueryStatus(_ context.Context, _ string) (*gateway.QueryResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queryCalls++
	if len(g.queryResults) == 0 {
		return &gateway.QueryResult{Outcome: gateway.OutcomeStillProcessing}, nil
	}
	step := g.queryResults[0]
	if len(g.queryResults) > 1 {
		g.queryResults = g.queryResults[1:]
	}
	return step.result, step.err
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queryCalls
}

type recordedTransition struct {
	paymentID string
	from, to  string
}

type recordingPublisher struct {
	mu          sync.Mutex
	transitions []recordedTransition
}

func (p *recordingPublisher) PublishTransition(_ context.Context, paymentID string, from, to string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transitions = append(p.transitions, recordedTransition{paymentID: paymentID, from: from, to: to})
}
