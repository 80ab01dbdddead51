// Package poller drives the payment flow from the client side: it calls
// the status endpoint on a fixed interval until the payment resolves,
// the caller cancels, or the overall deadline passes.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rumiri/dopay/internal/client"
	"github.com/rumiri/dopay/internal/models"
)

type State string

const (
	StateIdle     State = "idle"
	StatePolling  State = "polling"
	StateResolved State = "resolved"
	StateCanceled State = "canceled"
)

var (
	// ErrPollTimeout means the payment never resolved within the overall
	// deadline. The user should be told to contact support.
	ErrPollTimeout = errors.New("polling timed out before the payment resolved")

	ErrCanceled       = errors.New("polling canceled")
	ErrAlreadyPolling = errors.New("poller is already running")
)

const (
	defaultInterval = 10 * time.Second
	defaultTimeout  = 5 * time.Minute
)

// StatusFetcher is the slice of the API client the poller needs.
type StatusFetcher interface {
	PaymentStatus(ctx context.Context, paymentID string) (*models.StatusResponse, error)
}

var _ StatusFetcher = (*client.Client)(nil)

type Poller struct {
	api      StatusFetcher
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

func New(api StatusFetcher, interval, timeout time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{api: api, interval: interval, timeout: timeout, logger: logger, state: StateIdle}
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Cancel stops an in-flight Poll. Ticks that fire after cancellation do
// nothing, and Poll returns ErrCanceled.
func (p *Poller) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePolling {
		return
	}
	p.state = StateCanceled
	if p.cancel != nil {
		p.cancel()
	}
}

// Poll blocks until the payment leaves pending, the overall timeout
// passes, or Cancel is called. Network errors talking to the server are
// transient and do not stop the loop; the authoritative state lives
// server-side.
func (p *Poller) Poll(ctx context.Context, paymentID string) (*models.StatusResponse, error) {
	p.mu.Lock()
	if p.state == StatePolling {
		p.mu.Unlock()
		return nil, ErrAlreadyPolling
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	p.state = StatePolling
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		resp, err := p.api.PaymentStatus(ctx, paymentID)
		if err == nil && resp.Status != models.StatusPending {
			return p.resolve(resp)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, p.finish(ctx)
			}
			p.logger.Warn("status check failed, will retry",
				zap.String("payment_id", paymentID),
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			return nil, p.finish(ctx)
		case <-ticker.C:
		}
	}
}

func (p *Poller) resolve(resp *models.StatusResponse) (*models.StatusResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateCanceled {
		return nil, ErrCanceled
	}
	p.state = StateResolved
	return resp, nil
}

func (p *Poller) finish(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateCanceled {
		return ErrCanceled
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		p.state = StateResolved
		return ErrPollTimeout
	}
	p.state = StateCanceled
	return ErrCanceled
}
