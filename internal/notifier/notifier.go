// Package notifier delivers sign-in codes. Delivery runs off the request
// path; its outcome never reaches the client.
package notifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/leasehub/tenantauth/internal/phone"
	"github.com/leasehub/tenantauth/pkg/logger"
)

// Message is a sign-in code addressed to a phone.
type Message struct {
	Phone     string
	Code      string
	Locale    string
	ExpiresAt time.Time
}

// Sender delivers a message through one provider.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Dispatcher sends messages asynchronously with a bounded timeout and tracks
// in-flight deliveries so shutdown can drain them.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	logger  *slog.Logger
	results *prometheus.CounterVec

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. A nil reg skips metric registration.
func NewDispatcher(sender Sender, timeout time.Duration, reg prometheus.Registerer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		timeout: timeout,
		logger:  logger,
		results: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "otp_deliveries_total",
			Help: "Sign-in code deliveries by sender and result",
		}, []string{"sender", "result"}),
	}
}

// Dispatch starts delivering msg and returns immediately. The delivery keeps
// the values of ctx but not its cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		d.logger.WarnContext(ctx, "dispatcher closing, dropping delivery",
			slog.String("phone", phone.Mask(msg.Phone)))
		d.results.WithLabelValues(d.sender.Name(), "dropped").Inc()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.send(context.WithoutCancel(ctx), msg)
	}()
}

func (d *Dispatcher) send(ctx context.Context, msg Message) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	log := logger.WithContext(ctx, d.logger)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "panic during code delivery", slog.Any("panic", r))
			d.results.WithLabelValues(d.sender.Name(), "error").Inc()
		}
	}()

	if err := d.sender.Send(ctx, msg); err != nil {
		log.ErrorContext(ctx, "failed to deliver sign-in code",
			slog.String("sender", d.sender.Name()),
			slog.String("phone", phone.Mask(msg.Phone)),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		d.results.WithLabelValues(d.sender.Name(), "error").Inc()
		return
	}

	log.InfoContext(ctx, "sign-in code delivered",
		slog.String("sender", d.sender.Name()),
		slog.String("phone", phone.Mask(msg.Phone)),
		slog.Duration("elapsed", time.Since(start)),
	)
	d.results.WithLabelValues(d.sender.Name(), "sent").Inc()
}

// Shutdown stops accepting deliveries and waits for in-flight ones until ctx
// is done.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
