package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsbase/notify/pkg/delivery"
	"github.com/opsbase/notify/pkg/notification"
	"github.com/opsbase/notify/pkg/pg"
)

// DeliveryStorage is the Postgres implementation of delivery.Storage.
type DeliveryStorage struct {
	pool *pgxpool.Pool
}

var _ delivery.Storage = (*DeliveryStorage)(nil)

// NewDeliveryStorage creates attempt storage over the pool.
func NewDeliveryStorage(pool *pgxpool.Pool) *DeliveryStorage {
	return &DeliveryStorage{pool: pool}
}

const attemptColumns = `id, notification_id, tenant_id, user_id, module, channel,
	provider, provider_message_id, status, error_code, error_message,
	retry_count, max_retries, opened_at, opened_by, open_count,
	clicked_at, clicked_by, click_count, clicked_url, sent_at, delivered_at,
	send_latency_ns, delivery_latency_ns, recipient_address, content, metadata,
	scheduled_for, created_at, version`

func (s *DeliveryStorage) Create(ctx context.Context, att delivery.Attempt) error {
	metadata, err := json.Marshal(att.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO delivery_attempts (
			id, notification_id, tenant_id, user_id, module, channel,
			provider, provider_message_id, status, error_code, error_message,
			retry_count, max_retries, opened_at, opened_by, open_count,
			clicked_at, clicked_by, click_count, clicked_url, sent_at, delivered_at,
			send_latency_ns, delivery_latency_ns, recipient_address, content, metadata,
			scheduled_for, created_at, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30
		)`,
		att.ID, att.NotificationID, att.TenantID, att.UserID, att.Module, string(att.Channel),
		att.Provider, att.ProviderMessageID, string(att.Status), att.ErrorCode, att.ErrorMessage,
		att.RetryCount, att.MaxRetries, att.OpenedAt, att.OpenedBy, att.OpenCount,
		att.ClickedAt, att.ClickedBy, att.ClickCount, att.ClickedURL, att.SentAt, att.DeliveredAt,
		int64(att.SendLatency), int64(att.DeliveryLatency), att.RecipientAddress, att.Content, metadata,
		att.ScheduledFor, att.CreatedAt, att.Version,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return delivery.ErrDuplicateChannel
		}
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

func (s *DeliveryStorage) Get(ctx context.Context, id string) (*delivery.Attempt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM delivery_attempts WHERE id = $1`, id)
	att, err := scanAttempt(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, delivery.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query attempt: %w", err)
	}
	return att, nil
}

func (s *DeliveryStorage) GetByProviderRef(ctx context.Context, provider, providerMessageID string) (*delivery.Attempt, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+attemptColumns+` FROM delivery_attempts
		WHERE provider = $1 AND provider_message_id = $2 AND provider_message_id <> ''`,
		provider, providerMessageID)
	att, err := scanAttempt(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, delivery.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query attempt by provider ref: %w", err)
	}
	return att, nil
}

func (s *DeliveryStorage) ListByNotification(ctx context.Context, notificationID string) ([]delivery.Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+attemptColumns+` FROM delivery_attempts
		WHERE notification_id = $1
		ORDER BY created_at, id`, notificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func (s *DeliveryStorage) Update(ctx context.Context, att delivery.Attempt) error {
	metadata, err := json.Marshal(att.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	// The version predicate implements optimistic concurrency: a stale
	// writer matches zero rows and must re-read.
	tag, err := s.pool.Exec(ctx, `
		UPDATE delivery_attempts SET
			provider = $2, provider_message_id = $3, status = $4,
			error_code = $5, error_message = $6,
			retry_count = $7, max_retries = $8,
			opened_at = $9, opened_by = $10, open_count = $11,
			clicked_at = $12, clicked_by = $13, click_count = $14, clicked_url = $15,
			sent_at = $16, delivered_at = $17,
			send_latency_ns = $18, delivery_latency_ns = $19,
			recipient_address = $20, content = $21, metadata = $22,
			scheduled_for = $23, version = version + 1
		WHERE id = $1 AND version = $24`,
		att.ID, att.Provider, att.ProviderMessageID, string(att.Status),
		att.ErrorCode, att.ErrorMessage,
		att.RetryCount, att.MaxRetries,
		att.OpenedAt, att.OpenedBy, att.OpenCount,
		att.ClickedAt, att.ClickedBy, att.ClickCount, att.ClickedURL,
		att.SentAt, att.DeliveredAt,
		int64(att.SendLatency), int64(att.DeliveryLatency),
		att.RecipientAddress, att.Content, metadata,
		att.ScheduledFor, att.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM delivery_attempts WHERE id = $1)`, att.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check attempt existence: %w", err)
		}
		if !exists {
			return delivery.ErrNotFound
		}
		return delivery.ErrVersionConflict
	}
	return nil
}

func (s *DeliveryStorage) ListDispatchable(ctx context.Context, now time.Time, limit int) ([]delivery.Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+attemptColumns+` FROM delivery_attempts
		WHERE status = 'pending' AND (scheduled_for IS NULL OR scheduled_for <= $1)
		ORDER BY created_at, id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatchable attempts: %w", err)
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func (s *DeliveryStorage) ListRetryable(ctx context.Context, limit int) ([]delivery.Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+attemptColumns+` FROM delivery_attempts
		WHERE status = 'failed' AND retry_count < max_retries
		ORDER BY created_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable attempts: %w", err)
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func (s *DeliveryStorage) Stats(ctx context.Context, q delivery.StatsQuery) (delivery.Stats, error) {
	var (
		conds = []string{"TRUE"}
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.TenantID != "" {
		conds = append(conds, "tenant_id = "+arg(q.TenantID))
	}
	if q.Module != "" {
		conds = append(conds, "module = "+arg(q.Module))
	}
	if q.Channel != "" {
		conds = append(conds, "channel = "+arg(q.Channel))
	}
	if !q.From.IsZero() {
		conds = append(conds, "created_at >= "+arg(q.From))
	}
	if !q.To.IsZero() {
		conds = append(conds, "created_at < "+arg(q.To))
	}

	query := `
		SELECT
			count(*),
			count(*) FILTER (WHERE sent_at IS NOT NULL),
			count(*) FILTER (WHERE delivered_at IS NOT NULL),
			count(*) FILTER (WHERE status = 'failed'),
			count(*) FILTER (WHERE status = 'bounced'),
			count(*) FILTER (WHERE status = 'rejected'),
			count(*) FILTER (WHERE open_count > 0),
			count(*) FILTER (WHERE click_count > 0)
		FROM delivery_attempts WHERE ` + strings.Join(conds, " AND ")

	var stats delivery.Stats
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&stats.Total, &stats.Sent, &stats.Delivered, &stats.Failed,
		&stats.Bounced, &stats.Rejected, &stats.Opened, &stats.Clicked,
	)
	if err != nil {
		return delivery.Stats{}, fmt.Errorf("failed to aggregate attempts: %w", err)
	}
	return stats, nil
}

func (s *DeliveryStorage) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM delivery_attempts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge attempts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanAttempt(row pgx.Row) (*delivery.Attempt, error) {
	var (
		att             delivery.Attempt
		channel         string
		status          string
		sendLatency     int64
		deliveryLatency int64
		metadata        []byte
	)
	err := row.Scan(
		&att.ID, &att.NotificationID, &att.TenantID, &att.UserID, &att.Module, &channel,
		&att.Provider, &att.ProviderMessageID, &status, &att.ErrorCode, &att.ErrorMessage,
		&att.RetryCount, &att.MaxRetries, &att.OpenedAt, &att.OpenedBy, &att.OpenCount,
		&att.ClickedAt, &att.ClickedBy, &att.ClickCount, &att.ClickedURL, &att.SentAt, &att.DeliveredAt,
		&sendLatency, &deliveryLatency, &att.RecipientAddress, &att.Content, &metadata,
		&att.ScheduledFor, &att.CreatedAt, &att.Version,
	)
	if err != nil {
		return nil, err
	}

	att.Channel = notification.Channel(channel)
	att.Status = delivery.Status(status)
	att.SendLatency = time.Duration(sendLatency)
	att.DeliveryLatency = time.Duration(deliveryLatency)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &att.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &att, nil
}

func collectAttempts(rows pgx.Rows) ([]delivery.Attempt, error) {
	var atts []delivery.Attempt
	for rows.Next() {
		att, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		atts = append(atts, *att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read attempts: %w", err)
	}
	return atts, nil
}
