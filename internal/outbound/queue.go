package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/maintenance-orchestrator/internal/retry"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/time/rate"
)

// Config holds the queue's capacity, pacing and retry settings.
type Config struct {
	// Capacity is the maximum number of undelivered messages held in the queue.
	Capacity int

	// RateLimit is the maximum sends per second (burst 1).
	RateLimit float64

	// MaxAttempts is the number of delivery attempts before dead-lettering.
	MaxAttempts int

	// BackoffBase is multiplied by 2^attempts between retries of one message.
	BackoffBase time.Duration

	// DeadLetterSize bounds the dead-letter buffer; the oldest entries are evicted.
	DeadLetterSize int

	// DequeueTimeout is how long the worker waits for a message before it
	// refreshes the queue depth gauge and checks for shutdown.
	DequeueTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:       1000,
		RateLimit:      30,
		MaxAttempts:    3,
		BackoffBase:    time.Second,
		DeadLetterSize: 100,
		DequeueTimeout: time.Second,
	}
}

// Queue is a bounded FIFO of outbound messages with a single consumer.
type Queue struct {
	messages chan *Message
	sink     Sink
	config   Config
	limiter  *rate.Limiter
	logger   *slog.Logger
	sleep    retry.SleepFunc
	recorder Recorder
	now      func() time.Time

	mu          sync.Mutex
	closed      bool
	started     bool
	pending     int
	idle        chan struct{}
	stats       Stats
	deadLetters *ring[Message]

	wg     conc.WaitGroup
	cancel context.CancelFunc
}

// Option configures a Queue.
type Option func(*Queue)

// WithBackoffSleep replaces the retry backoff sleep, mainly for tests.
func WithBackoffSleep(fn retry.SleepFunc) Option {
	return func(q *Queue) {
		q.sleep = fn
	}
}

// WithRecorder registers a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(q *Queue) {
		q.recorder = r
	}
}

// NewQueue creates a queue delivering to sink. Zero config values take defaults.
func NewQueue(sink Sink, config Config, logger *slog.Logger, opts ...Option) (*Queue, error) {
	if sink == nil {
		return nil, errors.New("sink cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	def := DefaultConfig()
	if config.Capacity <= 0 {
		config.Capacity = def.Capacity
	}
	if config.RateLimit <= 0 {
		config.RateLimit = def.RateLimit
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = def.BackoffBase
	}
	if config.DeadLetterSize <= 0 {
		config.DeadLetterSize = def.DeadLetterSize
	}
	if config.DequeueTimeout <= 0 {
		config.DequeueTimeout = def.DequeueTimeout
	}

	idle := make(chan struct{})
	close(idle)

	q := &Queue{
		messages:    make(chan *Message, config.Capacity),
		sink:        sink,
		config:      config,
		limiter:     rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		logger:      logger.With("component", "outbound_queue"),
		sleep:       sleepContext,
		now:         time.Now,
		idle:        idle,
		deadLetters: newRing[Message](config.DeadLetterSize),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Enqueue adds a message without blocking.
// It returns ErrQueueFull at capacity and ErrQueueClosed after Stop or once
// the worker's context is canceled.
func (q *Queue) Enqueue(destination string, payload []byte) (uuid.UUID, error) {
	if strings.TrimSpace(destination) == "" {
		return uuid.Nil, ErrEmptyDestination
	}

	msg := &Message{
		ID:          uuid.New(),
		Destination: destination,
		Payload:     append([]byte(nil), payload...),
		Status:      StatusPending,
		MaxAttempts: q.config.MaxAttempts,
		CreatedAt:   q.now().UTC(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return uuid.Nil, ErrQueueClosed
	}

	select {
	case q.messages <- msg:
		if q.pending == 0 {
			q.idle = make(chan struct{})
		}
		q.pending++
		q.logger.Debug("message enqueued",
			"message_id", msg.ID,
			"destination", msg.Destination,
			"queue_len", len(q.messages),
			"queue_cap", cap(q.messages))
		return msg.ID, nil
	default:
		return uuid.Nil, fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.messages))
	}
}

// Start launches the worker goroutine. The worker stops when ctx is canceled
// or after Stop has closed intake and the queue is empty.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return ErrAlreadyStarted
	}
	if q.closed {
		return ErrQueueClosed
	}
	q.started = true

	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.wg.Go(func() {
		q.run(workerCtx)
	})

	q.logger.Info("outbound queue started",
		"capacity", q.config.Capacity,
		"rate_limit", q.config.RateLimit,
		"max_attempts", q.config.MaxAttempts)
	return nil
}

// Stop closes intake and waits for the worker to deliver what is queued.
// If ctx ends first the worker is canceled; undelivered messages are
// dead-lettered and ctx's error is returned.
func (q *Queue) Stop(ctx context.Context) error {
	q.closeIntake()
	q.mu.Lock()
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		q.logger.Info("outbound queue stopped")
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		q.logger.Warn("outbound queue stopped before delivering everything", "error", ctx.Err())
		return ctx.Err()
	}
}

// Drain blocks until every enqueued message is sent or dead-lettered.
func (q *Queue) Drain(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.pending == 0 {
			q.mu.Unlock()
			return nil
		}
		idle := q.idle
		pending := q.pending
		q.mu.Unlock()

		select {
		case <-idle:
		case <-timer.C:
			return fmt.Errorf("%w: %d messages still pending after %s", ErrDrainTimeout, pending, timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stats returns a snapshot of the counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.stats
	s.QueueSize = len(q.messages)
	return s
}

// DeadLetters returns the retained dead-lettered messages, oldest first.
func (q *Queue) DeadLetters() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.deadLetters.snapshot()
}

func (q *Queue) run(ctx context.Context) {
	q.logger.Debug("starting outbound worker")

	timer := time.NewTimer(q.config.DequeueTimeout)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(q.config.DequeueTimeout)

		select {
		case <-ctx.Done():
			q.closeIntake()
			q.abandonRemaining(ctx.Err())
			q.logger.Debug("stopping outbound worker", "reason", ctx.Err())
			return

		case msg, ok := <-q.messages:
			if !ok {
				q.logger.Debug("message channel closed, stopping outbound worker")
				return
			}
			q.deliver(ctx, msg)

		case <-timer.C:
			if q.recorder != nil {
				q.recorder.ObserveQueueDepth(len(q.messages))
			}
		}
	}
}

// deliver sends msg, retrying in place until it is sent or dead-lettered.
func (q *Queue) deliver(ctx context.Context, msg *Message) {
	logger := q.logger.With("message_id", msg.ID, "destination", msg.Destination)

	for {
		if err := q.limiter.Wait(ctx); err != nil {
			q.deadLetter(msg, fmt.Errorf("rate limiter: %w", err), logger)
			return
		}

		q.setStatus(msg, StatusSending)
		msg.Attempts++

		err := q.send(ctx, msg)
		if err == nil {
			q.mu.Lock()
			msg.Status = StatusSent
			q.stats.Sent++
			q.finishLocked()
			q.mu.Unlock()
			q.observe(OutcomeSent)
			logger.Debug("message delivered", "attempts", msg.Attempts)
			return
		}

		msg.LastError = err.Error()
		q.mu.Lock()
		q.stats.Failed++
		q.mu.Unlock()

		if msg.Attempts >= msg.MaxAttempts || retry.IsPermanent(err) {
			q.deadLetter(msg, err, logger)
			return
		}

		q.setStatus(msg, StatusFailed)
		q.mu.Lock()
		q.stats.Retried++
		q.mu.Unlock()
		q.observe(OutcomeRetried)

		delay := q.config.BackoffBase * time.Duration(1<<(msg.Attempts-1))
		logger.Warn("message delivery failed, retrying",
			"attempt", msg.Attempts,
			"max_attempts", msg.MaxAttempts,
			"delay", delay,
			"error", err)

		if err := q.sleep(ctx, delay); err != nil {
			q.deadLetter(msg, fmt.Errorf("shutdown during backoff: %w", err), logger)
			return
		}
	}
}

// send calls the sink, converting a panic into an error.
func (q *Queue) send(ctx context.Context, msg *Message) (err error) {
	var pc panics.Catcher
	pc.Try(func() {
		err = q.sink.Send(ctx, msg.Destination, msg.Payload)
	})
	if recovered := pc.Recovered(); recovered != nil {
		return recovered.AsError()
	}
	return err
}

func (q *Queue) deadLetter(msg *Message, cause error, logger *slog.Logger) {
	q.mu.Lock()
	msg.Status = StatusDeadLetter
	msg.LastError = cause.Error()
	q.stats.DeadLetter++
	q.deadLetters.push(*msg)
	q.finishLocked()
	q.mu.Unlock()

	q.observe(OutcomeDeadLetter)
	logger.Error("message moved to dead letter",
		"attempts", msg.Attempts,
		"error", msg.LastError)
}

// closeIntake makes Enqueue return ErrQueueClosed. Enqueue sends under q.mu,
// so nothing lands in the channel after it is closed here.
func (q *Queue) closeIntake() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.messages)
	}
}

// abandonRemaining dead-letters whatever is still buffered when the worker is
// canceled. Intake must already be closed.
func (q *Queue) abandonRemaining(cause error) {
	for {
		select {
		case msg, ok := <-q.messages:
			if !ok {
				return
			}
			q.deadLetter(msg, fmt.Errorf("queue stopped: %w", cause), q.logger.With("message_id", msg.ID))
		default:
			return
		}
	}
}

func (q *Queue) setStatus(msg *Message, status Status) {
	q.mu.Lock()
	msg.Status = status
	q.mu.Unlock()
}

// finishLocked marks one message done. Callers hold q.mu.
func (q *Queue) finishLocked() {
	q.pending--
	if q.pending == 0 {
		close(q.idle)
	}
}

func (q *Queue) observe(outcome string) {
	if q.recorder != nil {
		q.recorder.ObserveDelivery(outcome)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
