// Package notification delivers OTP codes to users out of band. Delivery
// is best-effort: requests are queued onto a bounded worker pool and
// failures are logged, never reported back to the caller.
package notification

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-otp-auth/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sender delivers one rendered message.
type Sender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

type Config struct {
	Workers     int
	QueueSize   int
	RatePerSec  float64 // 0 disables the delivery rate limit
	SendTimeout time.Duration
	BaseURL     string
	TokenTTL    time.Duration // validity stated in the email text
}

type job struct {
	to      string
	subject string
	body    string
	purpose domain.TokenType
}

type Dispatcher struct {
	sender   Sender
	renderer *renderer
	limiter  *rate.Limiter
	timeout  time.Duration

	mu      sync.RWMutex
	closed  bool
	queue   chan job
	wg      sync.WaitGroup
	stop    context.CancelFunc
	ctx     context.Context
	dropped atomic.Uint64
}

// NewDispatcher starts cfg.Workers delivery goroutines. Call Close to drain them.
func NewDispatcher(sender Sender, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 10 * time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sender:   sender,
		renderer: newRenderer(cfg.BaseURL, cfg.TokenTTL),
		timeout:  cfg.SendTimeout,
		queue:    make(chan job, cfg.QueueSize),
		ctx:      ctx,
		stop:     cancel,
	}
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// SendAsync queues delivery of code to email and returns immediately.
// When the queue is full or the dispatcher is closed the message is dropped.
func (d *Dispatcher) SendAsync(email, code string, purpose domain.TokenType) {
	subject, body, err := d.renderer.render(email, code, purpose)
	if err != nil {
		zap.L().Error("failed to render OTP email", zap.String("purpose", string(purpose)), zap.Error(err))
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		zap.L().Warn("notifier closed, dropping OTP email", zap.String("purpose", string(purpose)))
		return
	}
	select {
	case d.queue <- job{to: email, subject: subject, body: body, purpose: purpose}:
	default:
		d.dropped.Add(1)
		zap.L().Warn("notifier queue full, dropping OTP email", zap.String("purpose", string(purpose)))
	}
}

// Dropped returns how many messages were discarded without a delivery attempt.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops accepting work and waits for queued messages to be delivered.
// If ctx ends first, in-flight sends are cancelled and ctx.Err is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.stop()
		return nil
	case <-ctx.Done():
		d.stop()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	if d.limiter != nil {
		if err := d.limiter.Wait(d.ctx); err != nil {
			zap.L().Warn("OTP email abandoned", zap.String("purpose", string(j.purpose)), zap.Error(err))
			return
		}
	}
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	start := time.Now()
	if err := d.sender.SendEmail(ctx, j.to, j.subject, j.body); err != nil {
		zap.L().Error("failed to deliver OTP email",
			zap.String("purpose", string(j.purpose)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	zap.L().Info("OTP email delivered",
		zap.String("purpose", string(j.purpose)),
		zap.Duration("elapsed", time.Since(start)),
	)
}
