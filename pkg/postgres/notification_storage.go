package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsbase/notify/pkg/notification"
	"github.com/opsbase/notify/pkg/pg"
)

// NotificationStorage is the Postgres implementation of
// notification.Storage.
type NotificationStorage struct {
	pool *pgxpool.Pool
}

var _ notification.Storage = (*NotificationStorage)(nil)

// NewNotificationStorage creates notification storage over the pool.
func NewNotificationStorage(pool *pgxpool.Pool) *NotificationStorage {
	return &NotificationStorage{pool: pool}
}

const notificationColumns = `id, user_id, tenant_id, module, event_type, entity_type, entity_id,
	title, message, action_url, action_label, priority, read, read_at,
	dismissed, dismissed_at, channels, channel_status, thread_id, parent_id,
	scheduled_at, created_at, created_by, data, version`

func (s *NotificationStorage) Create(ctx context.Context, rec notification.Record) error {
	// A JSON null would break the atomic jsonb_set rollup updates, so
	// an absent rollup is stored as an empty object.
	if rec.ChannelStatus == nil {
		rec.ChannelStatus = map[notification.Channel]string{}
	}
	channelStatus, err := json.Marshal(rec.ChannelStatus)
	if err != nil {
		return fmt.Errorf("failed to encode channel status: %w", err)
	}
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	var entityType, entityID string
	if rec.Entity != nil {
		entityType, entityID = rec.Entity.Type, rec.Entity.ID
	}

	channels := make([]string, len(rec.Channels))
	for i, ch := range rec.Channels {
		channels[i] = string(ch)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO notifications (
			id, user_id, tenant_id, module, event_type, entity_type, entity_id,
			title, message, action_url, action_label, priority, read, read_at,
			dismissed, dismissed_at, channels, channel_status, thread_id, parent_id,
			scheduled_at, created_at, created_by, data, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25
		)`,
		rec.ID, rec.UserID, rec.TenantID, rec.Module, rec.EventType, entityType, entityID,
		rec.Title, rec.Message, rec.ActionURL, rec.ActionLabel, int(rec.Priority), rec.Read, rec.ReadAt,
		rec.Dismissed, rec.DismissedAt, channels, channelStatus, rec.ThreadID, rec.ParentID,
		rec.ScheduledAt, rec.CreatedAt, rec.CreatedBy, data, rec.Version,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return notification.ErrDuplicateID
		}
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (s *NotificationStorage) Get(ctx context.Context, id string) (*notification.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	rec, err := scanNotification(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, notification.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query notification: %w", err)
	}
	return rec, nil
}

func (s *NotificationStorage) List(ctx context.Context, userID string, opts notification.ListOptions) ([]notification.Record, error) {
	var (
		conds = []string{"user_id = $1"}
		args  = []any{userID}
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !opts.IncludeDismissed {
		conds = append(conds, "NOT dismissed")
	}
	if opts.OnlyUnread {
		conds = append(conds, "NOT read")
	}
	if opts.Module != "" {
		conds = append(conds, "module = "+arg(opts.Module))
	}
	if len(opts.Priorities) > 0 {
		prios := make([]int, len(opts.Priorities))
		for i, p := range opts.Priorities {
			prios[i] = int(p)
		}
		conds = append(conds, "priority = ANY("+arg(prios)+")")
	}
	if opts.Since != nil {
		conds = append(conds, "created_at > "+arg(*opts.Since))
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		query += " LIMIT " + arg(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + arg(opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func (s *NotificationStorage) ListThread(ctx context.Context, userID, threadID string) ([]notification.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE user_id = $1 AND thread_id = $2
		 ORDER BY created_at, id`, userID, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list thread: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func (s *NotificationStorage) MarkRead(ctx context.Context, userID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	// Already-read rows are excluded so their timestamps survive.
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET read = TRUE, read_at = now(), version = version + 1
		WHERE user_id = $1 AND id = ANY($2) AND NOT read`,
		userID, ids)
	if err != nil {
		return fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return nil
}

func (s *NotificationStorage) Dismiss(ctx context.Context, userID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET dismissed = TRUE, dismissed_at = now(), version = version + 1
		WHERE user_id = $1 AND id = ANY($2) AND NOT dismissed`,
		userID, ids)
	if err != nil {
		return fmt.Errorf("failed to dismiss notifications: %w", err)
	}
	return nil
}

func (s *NotificationStorage) CountUnread(ctx context.Context, userID, tenantID string) (int, error) {
	query := `SELECT count(*) FROM notifications WHERE user_id = $1 AND NOT read AND NOT dismissed`
	args := []any{userID}
	if tenantID != "" {
		query += ` AND tenant_id = $2`
		args = append(args, tenantID)
	}

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread: %w", err)
	}
	return count, nil
}

func (s *NotificationStorage) SetChannelStatus(ctx context.Context, id string, ch notification.Channel, status string) error {
	// jsonb_set is a single atomic read-modify-write, so concurrent
	// transitions for different channels of one record cannot lose
	// each other's updates.
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET channel_status = jsonb_set(channel_status, ARRAY[$2::text], to_jsonb($3::text), true),
		    version = version + 1
		WHERE id = $1`,
		id, string(ch), status)
	if err != nil {
		return fmt.Errorf("failed to update channel status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func (s *NotificationStorage) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge notifications: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanNotification(row pgx.Row) (*notification.Record, error) {
	var (
		rec           notification.Record
		entityType    string
		entityID      string
		priority      int
		channels      []string
		channelStatus []byte
		data          []byte
	)
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.TenantID, &rec.Module, &rec.EventType, &entityType, &entityID,
		&rec.Title, &rec.Message, &rec.ActionURL, &rec.ActionLabel, &priority, &rec.Read, &rec.ReadAt,
		&rec.Dismissed, &rec.DismissedAt, &channels, &channelStatus, &rec.ThreadID, &rec.ParentID,
		&rec.ScheduledAt, &rec.CreatedAt, &rec.CreatedBy, &data, &rec.Version,
	)
	if err != nil {
		return nil, err
	}

	rec.Priority = notification.Priority(priority)
	if entityType != "" || entityID != "" {
		rec.Entity = &notification.EntityRef{Type: entityType, ID: entityID}
	}
	rec.Channels = make([]notification.Channel, len(channels))
	for i, ch := range channels {
		rec.Channels[i] = notification.Channel(ch)
	}
	if len(channelStatus) > 0 {
		if err := json.Unmarshal(channelStatus, &rec.ChannelStatus); err != nil {
			return nil, fmt.Errorf("failed to decode channel status: %w", err)
		}
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &rec.Data); err != nil {
			return nil, fmt.Errorf("failed to decode data: %w", err)
		}
	}
	return &rec, nil
}

func collectNotifications(rows pgx.Rows) ([]notification.Record, error) {
	var recs []notification.Record
	for rows.Next() {
		rec, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read notifications: %w", err)
	}
	return recs, nil
}
