package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/leadflow-ai/pkg/logging"
)

// ErrDispatcherClosed indicates the dispatcher is no longer accepting work.
var ErrDispatcherClosed = errors.New("conversation: dispatcher closed")

// Dispatcher routes turns through a queue before invoking the orchestrator.
// The same code runs against the in-memory queue during development and an
// SQS FIFO queue in production.
type Dispatcher struct {
	processor TurnProcessor
	queue     queueClient
	logger    *logging.Logger

	cfg dispatcherConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pending sync.Map // jobID -> chan dispatchResult
}

var _ TurnProcessor = (*Dispatcher)(nil)

const (
	defaultWorkers          = 2
	defaultReceiveWait      = 2  // seconds
	defaultReceiveMax       = 5  // messages
	maxReceiveWaitSeconds   = 20 // SQS limit
	maxReceiveBatchMessages = 10
)

type dispatcherConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*dispatcherConfig)

// WithWorkerCount overrides the number of queue polling goroutines.
func WithWorkerCount(workers int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if workers > 0 {
			cfg.workers = workers
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait time for ReceiveMessage calls.
func WithReceiveWaitSeconds(seconds int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxReceiveWaitSeconds {
			seconds = maxReceiveWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize overrides how many messages each poll should return.
func WithReceiveBatchSize(size int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchMessages {
			size = maxReceiveBatchMessages
		}
		cfg.receiveBatchSize = size
	}
}

// NewDispatcher starts the worker pool around processor.
func NewDispatcher(processor TurnProcessor, queue queueClient, logger *logging.Logger, opts ...DispatcherOption) *Dispatcher {
	if processor == nil {
		panic("conversation: processor cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := dispatcherConfig{
		workers:          defaultWorkers,
		receiveWaitSecs:  defaultReceiveWait,
		receiveBatchSize: defaultReceiveMax,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		processor: processor,
		queue:     queue,
		logger:    logger,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < cfg.workers; i++ {
		d.wg.Add(1)
		go d.runWorker(i + 1)
	}

	return d
}

// ProcessMessage enqueues a turn and blocks until a worker has processed it
// or ctx is done.
func (d *Dispatcher) ProcessMessage(ctx context.Context, req MessageRequest) (*TurnResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d.ctx.Err() != nil {
		return nil, ErrDispatcherClosed
	}

	payload, body, err := encodePayload(queuePayload{Message: req})
	if err != nil {
		return nil, err
	}

	resultCh := make(chan dispatchResult, 1)
	d.pending.Store(payload.ID, resultCh)
	defer d.pending.Delete(payload.ID)

	if err := d.queue.Send(ctx, body, req.SessionID, payload.ID); err != nil {
		return nil, fmt.Errorf("conversation: failed to enqueue job: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultCh:
		return res.result, res.err
	}
}

// Shutdown stops worker goroutines and notifies any pending callers.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	d.pending.Range(func(key, value any) bool {
		if ch, ok := value.(chan dispatchResult); ok {
			select {
			case ch <- dispatchResult{err: ErrDispatcherClosed}:
			default:
			}
		}
		d.pending.Delete(key)
		return true
	})

	return nil
}

func (d *Dispatcher) runWorker(workerID int) {
	defer d.wg.Done()
	d.logger.Debug("conversation dispatcher worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Debug("conversation dispatcher worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := d.queue.Receive(d.ctx, d.cfg.receiveBatchSize, d.cfg.receiveWaitSecs)
		if err != nil {
			if d.ctx.Err() != nil {
				return
			}
			d.logger.Error("failed to receive conversation jobs", "error", err, "worker_id", workerID)
			select {
			case <-d.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			d.handleQueueMessage(msg)
		}
	}
}

func (d *Dispatcher) handleQueueMessage(msg queueMessage) {
	deleteCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		d.logger.Error("failed to decode conversation job", "error", err)
		_ = d.queue.Delete(deleteCtx, msg.ReceiptHandle)
		return
	}

	result, err := d.processor.ProcessMessage(d.ctx, payload.Message)
	if errors.Is(err, ErrLockTimeout) && d.ctx.Err() != nil {
		// Shutting down before the turn started; leave the job for redelivery.
		d.deliverResult(payload.ID, nil, ErrDispatcherClosed)
		return
	}

	if delErr := d.queue.Delete(deleteCtx, msg.ReceiptHandle); delErr != nil {
		d.logger.Error("failed to delete conversation job", "error", delErr)
	}

	d.deliverResult(payload.ID, result, err)
}

func (d *Dispatcher) deliverResult(jobID string, result *TurnResult, err error) {
	value, ok := d.pending.Load(jobID)
	if !ok {
		d.logger.Debug("no waiting caller for conversation job", "job_id", jobID)
		return
	}

	ch, ok := value.(chan dispatchResult)
	if !ok {
		d.logger.Error("conversation dispatcher pending map corrupted", "job_id", jobID)
		d.pending.Delete(jobID)
		return
	}

	select {
	case ch <- dispatchResult{result: result, err: err}:
	default:
	}
}

type dispatchResult struct {
	result *TurnResult
	err    error
}
