package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tably/call-service/internal/models"
	"tably/call-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const subscriptionColumns = `subscription_id, waiter_id, endpoint, p256dh, auth, user_agent, created_at, last_used_at`

func (s *Store) UpsertSubscription(ctx context.Context, input store.SubscribeInput) (models.DeviceSubscription, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO device_subscriptions (
			subscription_id, waiter_id, endpoint, p256dh, auth, user_agent, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (waiter_id, endpoint)
		DO UPDATE SET p256dh = EXCLUDED.p256dh,
			auth = EXCLUDED.auth,
			user_agent = EXCLUDED.user_agent
		RETURNING `+subscriptionColumns+`
	`, uuid.NewString(), input.WaiterID, input.Endpoint, input.P256dh, input.Auth, input.UserAgent, time.Now().UTC())
	return scanSubscription(row)
}

func (s *Store) ListSubscriptions(ctx context.Context, waiterID string) ([]models.DeviceSubscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM device_subscriptions
		WHERE waiter_id = $1
		ORDER BY created_at ASC
	`, waiterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subscriptions []models.DeviceSubscription
	for rows.Next() {
		subscription, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subscriptions = append(subscriptions, subscription)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subscriptions, nil
}

// DeleteSubscription is owner-scoped: a waiter can only remove their own
// registrations.
func (s *Store) DeleteSubscription(ctx context.Context, waiterID, subscriptionID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM device_subscriptions
		WHERE subscription_id = $1 AND waiter_id = $2
	`, subscriptionID, waiterID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrSubscriptionNotFound
	}
	return nil
}

// RemoveSubscriptions is the fan-out cleanup path for endpoints the push
// transport reported permanently gone.
func (s *Store) RemoveSubscriptions(ctx context.Context, subscriptionIDs []string) error {
	if len(subscriptionIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		DELETE FROM device_subscriptions
		WHERE subscription_id = ANY($1)
	`, subscriptionIDs)
	return err
}

func (s *Store) TouchSubscriptions(ctx context.Context, subscriptionIDs []string, usedAt time.Time) error {
	if len(subscriptionIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE device_subscriptions
		SET last_used_at = $2
		WHERE subscription_id = ANY($1)
	`, subscriptionIDs, usedAt)
	return err
}

func scanSubscription(row rowScanner) (models.DeviceSubscription, error) {
	var subscription models.DeviceSubscription
	var userAgentNull sql.NullString
	var lastUsedNull sql.NullTime
	if err := row.Scan(
		&subscription.SubscriptionID, &subscription.WaiterID, &subscription.Endpoint,
		&subscription.P256dh, &subscription.Auth, &userAgentNull,
		&subscription.CreatedAt, &lastUsedNull,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DeviceSubscription{}, store.ErrSubscriptionNotFound
		}
		return models.DeviceSubscription{}, err
	}
	if userAgentNull.Valid {
		subscription.UserAgent = userAgentNull.String
	}
	subscription.LastUsedAt = nullTimePtr(lastUsedNull)
	return subscription, nil
}
