package notify

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/leadflow-ai/internal/observability/metrics"
	"github.com/wolfman30/leadflow-ai/pkg/logging"
)

const defaultSendTimeout = 15 * time.Second

// Notifier accepts a notification without waiting for delivery.
type Notifier interface {
	Dispatch(ctx context.Context, n Notification)
}

// AsyncDispatcher sends each notification on its own goroutine with a
// bounded timeout. Failures are logged and counted, never returned.
type AsyncDispatcher struct {
	sender  Sender
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.ConversationMetrics
	wg      sync.WaitGroup
}

func NewAsyncDispatcher(sender Sender, timeout time.Duration, m *metrics.ConversationMetrics, logger *logging.Logger) *AsyncDispatcher {
	if sender == nil {
		panic("notify: sender cannot be nil")
	}
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AsyncDispatcher{sender: sender, timeout: timeout, logger: logger, metrics: m}
}

// Dispatch detaches from ctx's cancellation so an HTTP request finishing
// does not abort the send.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, n Notification) {
	if n.Lead == nil || n.Priority == PriorityNone {
		return
	}
	base := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("notify: sender panicked", "panic", r, "lead_id", n.Lead.ID)
				d.metrics.ObserveNotification(string(n.Priority), false)
			}
		}()

		sendCtx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()

		if err := d.sender.Send(sendCtx, n); err != nil {
			d.logger.Warn("notify: lead notification failed",
				"error", err,
				"lead_id", n.Lead.ID,
				"priority", string(n.Priority),
			)
			d.metrics.ObserveNotification(string(n.Priority), false)
			return
		}
		d.metrics.ObserveNotification(string(n.Priority), true)
	}()
}

// Wait blocks until every dispatched send has finished.
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}
