package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opsbase/notify/pkg/notification"
)

// Instruction is the delivery order handed to a transport for one
// (notification, channel) pair. Content is snapshotted from the record
// at dispatch time.
type Instruction struct {
	AttemptID      string
	NotificationID string
	TenantID       string
	UserID         string
	Channel        notification.Channel
	Priority       notification.Priority
	Title          string
	Message        string
	ActionURL      string
	ActionLabel    string
	Metadata       map[string]any
}

// SendResult is the transport's synchronous acknowledgement of a send.
// ProviderMessageID correlates later asynchronous callbacks.
type SendResult struct {
	Provider          string
	ProviderMessageID string
}

// Transport invokes a provider API for one channel. Transports are the
// only components that talk to providers; the dispatcher never does.
// A returned PermanentError rejects the attempt without retry; any
// other error counts against the retry budget.
type Transport interface {
	Send(ctx context.Context, inst Instruction) (SendResult, error)
}

// PermanentError marks a send failure that retrying cannot fix, such
// as an invalid recipient address.
type PermanentError struct {
	Code string
	Err  error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent send failure (%s): %v", e.Code, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError wraps err as non-retryable with a provider error code.
func NewPermanentError(code string, err error) *PermanentError {
	return &PermanentError{Code: code, Err: err}
}

// IsPermanentError reports whether err marks a non-retryable failure.
func IsPermanentError(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Config holds dispatcher tuning, loaded from the environment.
type Config struct {
	PollInterval  time.Duration `env:"DISPATCH_POLL_INTERVAL" envDefault:"5s"`
	RetryInterval time.Duration `env:"DISPATCH_RETRY_INTERVAL" envDefault:"1m"`
	BatchSize     int           `env:"DISPATCH_BATCH_SIZE" envDefault:"50"`
	MaxConcurrent int           `env:"DISPATCH_MAX_CONCURRENT" envDefault:"8"`
}
