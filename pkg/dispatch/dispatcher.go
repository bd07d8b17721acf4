package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opsbase/notify/pkg/delivery"
	"github.com/opsbase/notify/pkg/logger"
	"github.com/opsbase/notify/pkg/notification"
)

// RecordSource supplies record content for instruction building.
// Satisfied by notification.Storage.
type RecordSource interface {
	Get(ctx context.Context, id string) (*notification.Record, error)
}

// Dispatcher drains pending delivery attempts into channel transports.
// It polls attempt storage on a fixed interval, claims dispatchable
// attempts (pending, not scheduled for later), and sends each through
// the transport registered for its channel under bounded concurrency.
// A second, slower loop returns retryable failures to pending.
type Dispatcher struct {
	tracker    *delivery.Tracker
	records    RecordSource
	transports map[notification.Channel]Transport
	logger     *slog.Logger

	pollInterval  time.Duration
	retryInterval time.Duration
	batchSize     int
	sem           chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger for the Dispatcher.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithConfig applies dispatcher tuning from a Config. Zero fields keep
// their defaults.
func WithConfig(cfg Config) DispatcherOption {
	return func(d *Dispatcher) {
		if cfg.PollInterval > 0 {
			d.pollInterval = cfg.PollInterval
		}
		if cfg.RetryInterval > 0 {
			d.retryInterval = cfg.RetryInterval
		}
		if cfg.BatchSize > 0 {
			d.batchSize = cfg.BatchSize
		}
		if cfg.MaxConcurrent > 0 {
			d.sem = make(chan struct{}, cfg.MaxConcurrent)
		}
	}
}

// NewDispatcher creates a dispatcher over the tracker and record
// source. Transports are registered per channel before Start.
func NewDispatcher(tracker *delivery.Tracker, records RecordSource, opts ...DispatcherOption) (*Dispatcher, error) {
	if tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	if records == nil {
		return nil, fmt.Errorf("record source is required")
	}

	d := &Dispatcher{
		tracker:       tracker,
		records:       records,
		transports:    make(map[notification.Channel]Transport),
		logger:        slog.Default(),
		pollInterval:  5 * time.Second,
		retryInterval: time.Minute,
		batchSize:     50,
		sem:           make(chan struct{}, 8),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// RegisterTransport binds a transport to a channel, replacing any
// previous binding.
func (d *Dispatcher) RegisterTransport(ch notification.Channel, tr Transport) error {
	if !ch.Valid() {
		return fmt.Errorf("invalid channel %q", ch)
	}
	if tr == nil {
		return fmt.Errorf("transport is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transports[ch] = tr
	return nil
}

// Start launches the poll and retry loops in the background.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return fmt.Errorf("dispatcher already started")
	}

	ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(2)
	go d.pollLoop(ctx)
	go d.retryLoop(ctx)

	d.logger.LogAttrs(ctx, slog.LevelInfo, "dispatcher started",
		slog.Duration("poll_interval", d.pollInterval),
		slog.Duration("retry_interval", d.retryInterval),
		slog.Int("max_concurrent", cap(d.sem)),
	)
	return nil
}

// Stop cancels the loops and waits for in-flight sends to finish.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return fmt.Errorf("dispatcher not started")
	}

	cancel()
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
	return nil
}

// Run adapts the dispatcher for errgroup-style lifecycles.
func (d *Dispatcher) Run(ctx context.Context) func() error {
	return func() error {
		if err := d.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return d.Stop()
	}
}

func (d *Dispatcher) pollLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep(ctx)
		}
	}
}

func (d *Dispatcher) retryLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Requeue(ctx)
		}
	}
}

// Sweep dispatches one batch of due attempts. Attempts deferred by
// quiet hours become due once their ScheduledFor passes; listing by
// the current time is the deferred-release re-check. Exposed so tests
// and cron-style callers can drive the dispatcher without the loops.
func (d *Dispatcher) Sweep(ctx context.Context) {
	attempts, err := d.tracker.Storage().ListDispatchable(ctx, time.Now(), d.batchSize)
	if err != nil {
		d.logger.LogAttrs(ctx, slog.LevelError, "failed to list dispatchable attempts",
			logger.Error(err),
		)
		return
	}

	var wg sync.WaitGroup
	for _, att := range attempts {
		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}

		wg.Add(1)
		go func(att delivery.Attempt) {
			defer wg.Done()
			defer func() { <-d.sem }()
			d.dispatch(ctx, att)
		}(att)
	}
	wg.Wait()
}

// dispatch sends one attempt through its channel transport and records
// the outcome on the tracker.
func (d *Dispatcher) dispatch(ctx context.Context, att delivery.Attempt) {
	d.mu.Lock()
	tr, ok := d.transports[att.Channel]
	d.mu.Unlock()
	if !ok {
		// Without a transport the attempt can never leave pending;
		// reject instead of spinning on it every sweep.
		if err := d.tracker.MarkRejected(ctx, att.ID, "no_transport", "no transport registered for channel"); err != nil {
			d.logger.LogAttrs(ctx, slog.LevelError, "failed to reject attempt without transport",
				logger.AttemptID(att.ID),
				logger.Error(err),
			)
		}
		return
	}

	inst, err := d.buildInstruction(ctx, att)
	if err != nil {
		d.logger.LogAttrs(ctx, slog.LevelError, "failed to build delivery instruction",
			logger.AttemptID(att.ID),
			logger.NotificationID(att.NotificationID),
			logger.Error(err),
		)
		if err := d.tracker.MarkFailed(ctx, att.ID, "instruction_build", err.Error()); err != nil {
			d.logger.LogAttrs(ctx, slog.LevelError, "failed to record dispatch failure",
				logger.AttemptID(att.ID),
				logger.Error(err),
			)
		}
		return
	}

	result, err := tr.Send(ctx, inst)
	if err != nil {
		d.recordSendFailure(ctx, att, err)
		return
	}

	if err := d.tracker.MarkSent(ctx, att.ID, result.Provider, result.ProviderMessageID, time.Now()); err != nil {
		d.logger.LogAttrs(ctx, slog.LevelError, "failed to mark attempt sent",
			logger.AttemptID(att.ID),
			logger.Provider(result.Provider),
			logger.Error(err),
		)
		return
	}

	// In-app delivery completes at send: the record itself is the
	// delivery and no provider will call back.
	if att.Channel == notification.ChannelInApp {
		cb := delivery.Callback{
			Provider:          result.Provider,
			ProviderMessageID: result.ProviderMessageID,
			Status:            "delivered",
			Timestamp:         time.Now(),
		}
		if err := d.tracker.RecordCallback(ctx, cb); err != nil {
			d.logger.LogAttrs(ctx, slog.LevelError, "failed to complete in-app delivery",
				logger.AttemptID(att.ID),
				logger.Error(err),
			)
		}
	}
}

func (d *Dispatcher) recordSendFailure(ctx context.Context, att delivery.Attempt, sendErr error) {
	var pe *PermanentError
	if errors.As(sendErr, &pe) {
		if err := d.tracker.MarkRejected(ctx, att.ID, pe.Code, sendErr.Error()); err != nil {
			d.logger.LogAttrs(ctx, slog.LevelError, "failed to record rejection",
				logger.AttemptID(att.ID),
				logger.Error(err),
			)
		}
		return
	}

	d.logger.LogAttrs(ctx, slog.LevelWarn, "transient send failure",
		logger.AttemptID(att.ID),
		logger.Channel(string(att.Channel)),
		logger.RetryCount(att.RetryCount+1),
		logger.Error(sendErr),
	)
	if err := d.tracker.MarkFailed(ctx, att.ID, "send_error", sendErr.Error()); err != nil {
		d.logger.LogAttrs(ctx, slog.LevelError, "failed to record send failure",
			logger.AttemptID(att.ID),
			logger.Error(err),
		)
	}
}

// Requeue returns failed attempts with remaining budget to pending so
// the next sweep picks them up. Exposed for the same callers as Sweep.
func (d *Dispatcher) Requeue(ctx context.Context) {
	attempts, err := d.tracker.Storage().ListRetryable(ctx, d.batchSize)
	if err != nil {
		d.logger.LogAttrs(ctx, slog.LevelError, "failed to list retryable attempts",
			logger.Error(err),
		)
		return
	}

	for _, att := range attempts {
		if err := d.tracker.Retry(ctx, att.ID); err != nil {
			d.logger.LogAttrs(ctx, slog.LevelWarn, "failed to requeue attempt",
				logger.AttemptID(att.ID),
				logger.Error(err),
			)
		}
	}
}

func (d *Dispatcher) buildInstruction(ctx context.Context, att delivery.Attempt) (Instruction, error) {
	rec, err := d.records.Get(ctx, att.NotificationID)
	if err != nil {
		return Instruction{}, fmt.Errorf("failed to load record: %w", err)
	}
	return Instruction{
		AttemptID:      att.ID,
		NotificationID: rec.ID,
		TenantID:       rec.TenantID,
		UserID:         rec.UserID,
		Channel:        att.Channel,
		Priority:       rec.Priority,
		Title:          rec.Title,
		Message:        rec.Message,
		ActionURL:      rec.ActionURL,
		ActionLabel:    rec.ActionLabel,
		Metadata:       rec.Data,
	}, nil
}
