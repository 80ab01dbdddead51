package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumiri/dopay/internal/models"
)

type fetchStep struct {
	resp *models.StatusResponse
	err  error
}

type fakeAPI struct {
	mu    sync.Mutex
	steps []fetchStep
	n     int
}

func (f *fakeAPI) PaymentStatus(ctx context.Context, paymentID string) (*models.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	if len(f.steps) == 0 {
		return &models.StatusResponse{PaymentID: paymentID, Status: models.StatusPending}, nil
	}
	step := f.steps[0]
	if len(f.steps) > 1 {
		f.steps = f.steps[1:]
	}
	return step.resp, step.err
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

func pendingStep() fetchStep {
	return fetchStep{resp: &models.StatusResponse{PaymentID: "pay-1", Status: models.StatusPending}}
}

func statusStep(s models.Status) fetchStep {
	return fetchStep{resp: &models.StatusResponse{PaymentID: "pay-1", Status: s, MpesaName: "JOHN"}}
}

func TestPollResolvesWhenStatusLeavesPending(t *testing.T) {
	api := &fakeAPI{steps: []fetchStep{pendingStep(), pendingStep(), statusStep(models.StatusGatewayDone)}}
	p := New(api, 5*time.Millisecond, time.Second, nil)

	resp, err := p.Poll(context.Background(), "pay-1")

	require.NoError(t, err)
	assert.Equal(t, models.StatusGatewayDone, resp.Status)
	assert.Equal(t, StateResolved, p.State())
	assert.Equal(t, 3, api.calls())
}

func TestPollSurfacesTerminalStatus(t *testing.T) {
	api := &fakeAPI{steps: []fetchStep{pendingStep(), statusStep(models.StatusCanceledByUser)}}
	p := New(api, 5*time.Millisecond, time.Second, nil)

	resp, err := p.Poll(context.Background(), "pay-1")

	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceledByUser, resp.Status)
	assert.Equal(t, StateResolved, p.State())
}

func TestPollTreatsNetworkErrorsAsTransient(t *testing.T) {
	api := &fakeAPI{steps: []fetchStep{
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
		statusStep(models.StatusGatewayDone),
	}}
	p := New(api, 5*time.Millisecond, time.Second, nil)

	resp, err := p.Poll(context.Background(), "pay-1")

	require.NoError(t, err)
	assert.Equal(t, models.StatusGatewayDone, resp.Status)
}

func TestPollTimesOut(t *testing.T) {
	api := &fakeAPI{}
	p := New(api, 5*time.Millisecond, 40*time.Millisecond, nil)

	_, err := p.Poll(context.Background(), "pay-1")

	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Equal(t, StateResolved, p.State())
}

func TestPollCancel(t *testing.T) {
	api := &fakeAPI{}
	p := New(api, 5*time.Millisecond, time.Second, nil)

	done := make(chan error, 1)
	go func() {
		_, err := p.Poll(context.Background(), "pay-1")
		done <- err
	}()

	require.Eventually(t, func() bool { return api.calls() > 0 }, time.Second, time.Millisecond)
	p.Cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCanceled)
	case <-time.After(time.Second):
		t.Fatal("Poll did not return after Cancel")
	}

	assert.Equal(t, StateCanceled, p.State())

	// no more status checks fire after cancellation
	n := api.calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, api.calls())
}

func TestPollRejectsConcurrentRuns(t *testing.T) {
	api := &fakeAPI{}
	p := New(api, 5*time.Millisecond, time.Second, nil)

	go func() {
		_, _ = p.Poll(context.Background(), "pay-1")
	}()

	require.Eventually(t, func() bool { return p.State() == StatePolling }, time.Second, time.Millisecond)

	_, err := p.Poll(context.Background(), "pay-1")
	assert.ErrorIs(t, err, ErrAlreadyPolling)

	p.Cancel()
}

func TestPollerStartsIdle(t *testing.T) {
	p := New(&fakeAPI{}, 0, 0, nil)
	assert.Equal(t, StateIdle, p.State())
}
