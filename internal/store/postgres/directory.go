package postgres

import (
	"context"
	"errors"
	"time"

	"tably/call-service/internal/models"
	"tably/call-service/internal/store"

	"github.com/jackc/pgx/v5"
)

// Directory reads. Tables, waiters, assignments and sessions are owned by the
// admin and auth services; this store only queries them.

func (s *Store) GetTable(ctx context.Context, restaurantID, tableID string) (models.Table, error) {
	var table models.Table
	row := s.pool.QueryRow(ctx, `
		SELECT table_id, restaurant_id, label, active
		FROM tables
		WHERE table_id = $1 AND restaurant_id = $2 AND active = TRUE
	`, tableID, restaurantID)
	if err := row.Scan(&table.TableID, &table.RestaurantID, &table.Label, &table.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Table{}, store.ErrTableNotFound
		}
		return models.Table{}, err
	}
	return table, nil
}

func (s *Store) ListActiveWaiterIDs(ctx context.Context, restaurantID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT waiter_id
		FROM waiters
		WHERE restaurant_id = $1 AND active = TRUE
		ORDER BY name ASC
	`, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var waiterIDs []string
	for rows.Next() {
		var waiterID string
		if err := rows.Scan(&waiterID); err != nil {
			return nil, err
		}
		waiterIDs = append(waiterIDs, waiterID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return waiterIDs, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, COALESCE(waiter_id::text, ''), restaurant_id, role, expires_at
		FROM sessions
		WHERE session_id = $1 AND expires_at > $2
	`, sessionID, time.Now().UTC())
	if err := row.Scan(&session.SessionID, &session.WaiterID, &session.RestaurantID, &session.Role, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	return session, nil
}
