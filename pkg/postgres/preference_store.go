package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsbase/notify/pkg/pg"
	"github.com/opsbase/notify/pkg/preference"
)

// PreferenceStore is the Postgres implementation of preference.Store.
type PreferenceStore struct {
	pool *pgxpool.Pool
}

var _ preference.Store = (*PreferenceStore)(nil)

// NewPreferenceStore creates preference storage over the pool.
func NewPreferenceStore(pool *pgxpool.Pool) *PreferenceStore {
	return &PreferenceStore{pool: pool}
}

const preferenceColumns = `tenant_id, user_id, module, channels, event_overrides,
	max_per_hour, max_per_day, quiet_start, quiet_end, updated_at`

func (s *PreferenceStore) Get(ctx context.Context, tenantID, userID, module string) (*preference.Preference, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+preferenceColumns+` FROM notification_preferences
		WHERE tenant_id = $1 AND user_id = $2 AND module = $3`,
		tenantID, userID, module)
	pref, err := scanPreference(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, preference.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query preference: %w", err)
	}
	return pref, nil
}

func (s *PreferenceStore) Upsert(ctx context.Context, pref preference.Preference) error {
	if err := pref.Validate(); err != nil {
		return err
	}

	channels, overrides, quietStart, quietEnd, err := encodePreference(pref)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO notification_preferences (
			tenant_id, user_id, module, channels, event_overrides,
			max_per_hour, max_per_day, quiet_start, quiet_end, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (tenant_id, user_id, module) DO UPDATE SET
			channels = EXCLUDED.channels,
			event_overrides = EXCLUDED.event_overrides,
			max_per_hour = EXCLUDED.max_per_hour,
			max_per_day = EXCLUDED.max_per_day,
			quiet_start = EXCLUDED.quiet_start,
			quiet_end = EXCLUDED.quiet_end,
			updated_at = now()`,
		pref.TenantID, pref.UserID, pref.Module, channels, overrides,
		pref.MaxPerHour, pref.MaxPerDay, quietStart, quietEnd,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert preference: %w", err)
	}
	return nil
}

func (s *PreferenceStore) Seed(ctx context.Context, pref preference.Preference) error {
	if err := pref.Validate(); err != nil {
		return err
	}

	channels, overrides, quietStart, quietEnd, err := encodePreference(pref)
	if err != nil {
		return err
	}

	// DO NOTHING keeps whatever the user already saved; seeding only
	// materializes defaults for untouched scopes.
	_, err = s.pool.Exec(ctx, `
		INSERT INTO notification_preferences (
			tenant_id, user_id, module, channels, event_overrides,
			max_per_hour, max_per_day, quiet_start, quiet_end, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (tenant_id, user_id, module) DO NOTHING`,
		pref.TenantID, pref.UserID, pref.Module, channels, overrides,
		pref.MaxPerHour, pref.MaxPerDay, quietStart, quietEnd,
	)
	if err != nil {
		return fmt.Errorf("failed to seed preference: %w", err)
	}
	return nil
}

func (s *PreferenceStore) Delete(ctx context.Context, tenantID, userID, module string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM notification_preferences
		WHERE tenant_id = $1 AND user_id = $2 AND module = $3`,
		tenantID, userID, module)
	if err != nil {
		return fmt.Errorf("failed to delete preference: %w", err)
	}
	return nil
}

func encodePreference(pref preference.Preference) (channels, overrides []byte, quietStart, quietEnd string, err error) {
	channels, err = json.Marshal(pref.Channels)
	if err != nil {
		return nil, nil, "", "", fmt.Errorf("failed to encode channels: %w", err)
	}
	overrides, err = json.Marshal(pref.EventOverrides)
	if err != nil {
		return nil, nil, "", "", fmt.Errorf("failed to encode event overrides: %w", err)
	}
	if pref.QuietHours != nil {
		quietStart, quietEnd = pref.QuietHours.Start, pref.QuietHours.End
	}
	return channels, overrides, quietStart, quietEnd, nil
}

func scanPreference(row pgx.Row) (*preference.Preference, error) {
	var (
		pref       preference.Preference
		channels   []byte
		overrides  []byte
		quietStart string
		quietEnd   string
	)
	err := row.Scan(
		&pref.TenantID, &pref.UserID, &pref.Module, &channels, &overrides,
		&pref.MaxPerHour, &pref.MaxPerDay, &quietStart, &quietEnd, &pref.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(channels) > 0 {
		if err := json.Unmarshal(channels, &pref.Channels); err != nil {
			return nil, fmt.Errorf("failed to decode channels: %w", err)
		}
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &pref.EventOverrides); err != nil {
			return nil, fmt.Errorf("failed to decode event overrides: %w", err)
		}
	}
	if quietStart != "" || quietEnd != "" {
		pref.QuietHours = &preference.QuietWindow{Start: quietStart, End: quietEnd}
	}
	return &pref, nil
}
