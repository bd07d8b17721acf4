package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/opsbase/notify/pkg/delivery"
	"github.com/opsbase/notify/pkg/notification"
)

// Query scopes a report. Zero fields widen the scope: empty module
// means all modules, zero times mean an unbounded range.
type Query struct {
	TenantID string
	Module   string
	From     time.Time
	To       time.Time
}

// Summary is the engagement report for one query scope. Rates are
// fractions in [0, 1]; a rate whose denominator is zero is zero.
type Summary struct {
	TenantID string    `json:"tenant_id"`
	Module   string    `json:"module,omitempty"`
	From     time.Time `json:"from,omitempty"`
	To       time.Time `json:"to,omitempty"`

	Total     int `json:"total"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Bounced   int `json:"bounced"`
	Rejected  int `json:"rejected"`

	// DeliveryRate is delivered over sent, OpenRate and ClickRate are
	// opens and clicks over delivered.
	DeliveryRate float64 `json:"delivery_rate"`
	OpenRate     float64 `json:"open_rate"`
	ClickRate    float64 `json:"click_rate"`

	Channels []ChannelBreakdown `json:"channels,omitempty"`
}

// ChannelBreakdown is the per-channel row of a Summary.
type ChannelBreakdown struct {
	Channel      notification.Channel `json:"channel"`
	Total        int                  `json:"total"`
	Sent         int                  `json:"sent"`
	Delivered    int                  `json:"delivered"`
	Failed       int                  `json:"failed"`
	Bounced      int                  `json:"bounced"`
	Rejected     int                  `json:"rejected"`
	DeliveryRate float64              `json:"delivery_rate"`
	OpenRate     float64              `json:"open_rate"`
	ClickRate    float64              `json:"click_rate"`
}

// StatsSource is the slice of attempt storage the reporter reads.
// Satisfied by delivery.Storage.
type StatsSource interface {
	Stats(ctx context.Context, q delivery.StatsQuery) (delivery.Stats, error)
}

// Reporter computes delivery and engagement rates from attempt counts.
type Reporter struct {
	source StatsSource
}

// NewReporter creates a reporter over the given attempt stats source.
func NewReporter(source StatsSource) *Reporter {
	return &Reporter{source: source}
}

// Report returns the summary for a query scope with a per-channel
// breakdown.
func (r *Reporter) Report(ctx context.Context, q Query) (*Summary, error) {
	if q.TenantID == "" {
		return nil, ErrMissingTenantID
	}

	total, err := r.source.Stats(ctx, delivery.StatsQuery{
		TenantID: q.TenantID,
		Module:   q.Module,
		From:     q.From,
		To:       q.To,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate attempts: %w", err)
	}

	sum := &Summary{
		TenantID:     q.TenantID,
		Module:       q.Module,
		From:         q.From,
		To:           q.To,
		Total:        total.Total,
		Sent:         total.Sent,
		Delivered:    total.Delivered,
		Failed:       total.Failed,
		Bounced:      total.Bounced,
		Rejected:     total.Rejected,
		DeliveryRate: ratio(total.Delivered, total.Sent),
		OpenRate:     ratio(total.Opened, total.Delivered),
		ClickRate:    ratio(total.Clicked, total.Delivered),
	}

	for _, ch := range []notification.Channel{
		notification.ChannelInApp,
		notification.ChannelEmail,
		notification.ChannelSMS,
		notification.ChannelPush,
	} {
		stats, err := r.source.Stats(ctx, delivery.StatsQuery{
			TenantID: q.TenantID,
			Module:   q.Module,
			Channel:  string(ch),
			From:     q.From,
			To:       q.To,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate %s attempts: %w", ch, err)
		}
		if stats.Total == 0 {
			continue
		}
		sum.Channels = append(sum.Channels, ChannelBreakdown{
			Channel:      ch,
			Total:        stats.Total,
			Sent:         stats.Sent,
			Delivered:    stats.Delivered,
			Failed:       stats.Failed,
			Bounced:      stats.Bounced,
			Rejected:     stats.Rejected,
			DeliveryRate: ratio(stats.Delivered, stats.Sent),
			OpenRate:     ratio(stats.Opened, stats.Delivered),
			ClickRate:    ratio(stats.Clicked, stats.Delivered),
		})
	}
	return sum, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
