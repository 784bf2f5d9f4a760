package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strconv"
	"time"

	"tably/call-service/internal/metrics"
	"tably/call-service/internal/models"
	"tably/call-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const callColumns = `call_id, restaurant_id, table_id, waiter_id, status, requested_at, timeout_at,
	acknowledged_at, started_at, completed_at, missed_at, cancelled_at, response_seconds, request_id`

type Store struct {
	pool           *pgxpool.Pool
	callTimeout    time.Duration
	sweepBatchSize int
}

type Options struct {
	CallTimeout    time.Duration
	SweepBatchSize int
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	timeout := options.CallTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	batch := options.SweepBatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Store{
		pool:           pool,
		callTimeout:    timeout,
		sweepBatchSize: batch,
	}
}

func (s *Store) CreateCall(ctx context.Context, input store.CreateCallInput) (models.Call, bool, error) {
	s.sweepQuietly(ctx, input.RestaurantID)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Call{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findCallByRequestID(ctx, tx, input.RequestID)
	if err != nil {
		return models.Call{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Call{}, false, err
		}
		return existing, false, nil
	}

	if err = ensureTableActive(ctx, tx, input.RestaurantID, input.TableID); err != nil {
		return models.Call{}, false, err
	}

	assignedWaiter, assigned, err := assignedWaiterTx(ctx, tx, input.TableID)
	if err != nil {
		return models.Call{}, false, err
	}

	requestedAt := input.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = time.Now().UTC()
	}
	timeout := input.Timeout
	if timeout <= 0 {
		timeout = s.callTimeout
	}

	var waiterID interface{}
	if assigned {
		waiterID = assignedWaiter
	}

	var call models.Call
	row := tx.QueryRow(ctx, `
		INSERT INTO calls (
			call_id, request_id, restaurant_id, table_id, waiter_id, status, requested_at, timeout_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING `+callColumns+`
	`, uuid.NewString(), input.RequestID, input.RestaurantID, input.TableID, waiterID, models.StatusPending, requestedAt, requestedAt.Add(timeout))
	if call, err = scanCall(row); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.Call{}, false, err
		}
		// Zero rows here means a concurrent create with the same request_id
		// committed after our duplicate check. Read the winner's row outside
		// the failed transaction and report the replay.
		_ = tx.Rollback(ctx)
		winner, found, lookupErr := findCallByRequestID(ctx, s.pool, input.RequestID)
		if lookupErr != nil {
			return models.Call{}, false, lookupErr
		}
		if !found {
			return models.Call{}, false, err
		}
		err = nil
		return winner, false, nil
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Call{}, false, err
	}

	metrics.CallsCreatedTotal.Inc()
	return call, true, nil
}

func (s *Store) GetCall(ctx context.Context, restaurantID, callID string) (models.Call, error) {
	s.sweepQuietly(ctx, restaurantID)

	row := s.pool.QueryRow(ctx, `
		SELECT `+callColumns+`
		FROM calls
		WHERE call_id = $1 AND restaurant_id = $2
	`, callID, restaurantID)
	call, err := scanCall(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Call{}, store.ErrCallNotFound
		}
		return models.Call{}, err
	}
	return call, nil
}

func (s *Store) ListCalls(ctx context.Context, input store.ListCallsInput) ([]models.Call, error) {
	s.sweepQuietly(ctx, input.RestaurantID)

	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE restaurant_id = $1
	`
	args := []interface{}{input.RestaurantID}

	switch input.Filter {
	case "", store.FilterAll:
	case store.FilterOpen:
		query += ` AND status IN ('pending','acknowledged','in_progress')`
	case store.FilterPending:
		query += ` AND status = 'pending'`
	case store.FilterMine:
		args = append(args, input.WaiterID)
		query += ` AND waiter_id = $2`
	}
	if input.TableID != "" {
		args = append(args, input.TableID)
		query += ` AND table_id = $` + strconv.Itoa(len(args))
	}

	query += `
		ORDER BY (status IN ('completed','missed','cancelled')) ASC, requested_at DESC
	`
	if input.Limit > 0 {
		args = append(args, input.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []models.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return calls, nil
}

func (s *Store) AcknowledgeCall(ctx context.Context, input store.CallActionInput) (models.Call, error) {
	s.sweepQuietly(ctx, input.RestaurantID)

	occurredAt := occurredOrNow(input.OccurredAt)
	row := s.pool.QueryRow(ctx, `
		UPDATE calls
		SET status = 'acknowledged',
			acknowledged_at = $4,
			waiter_id = COALESCE(waiter_id, $3)
		WHERE call_id = $1 AND restaurant_id = $2 AND status = 'pending'
			AND (waiter_id IS NULL OR waiter_id = $3)
		RETURNING `+callColumns+`
	`, input.CallID, input.RestaurantID, input.WaiterID, occurredAt)
	call, err := scanCall(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Call{}, s.diagnoseAcknowledge(ctx, input)
		}
		return models.Call{}, err
	}

	metrics.CallsAcknowledgedTotal.Inc()
	return call, nil
}

func (s *Store) StartService(ctx context.Context, input store.CallActionInput) (models.Call, error) {
	s.sweepQuietly(ctx, input.RestaurantID)

	occurredAt := occurredOrNow(input.OccurredAt)
	row := s.pool.QueryRow(ctx, `
		UPDATE calls
		SET status = 'in_progress',
			started_at = $4
		WHERE call_id = $1 AND restaurant_id = $2 AND status = 'acknowledged' AND waiter_id = $3
		RETURNING `+callColumns+`
	`, input.CallID, input.RestaurantID, input.WaiterID, occurredAt)
	call, err := scanCall(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Call{}, s.diagnoseOwnedAction(ctx, input, "start")
		}
		return models.Call{}, err
	}
	return call, nil
}

func (s *Store) CompleteCall(ctx context.Context, input store.CallActionInput) (models.Call, error) {
	s.sweepQuietly(ctx, input.RestaurantID)

	occurredAt := occurredOrNow(input.OccurredAt)
	row := s.pool.QueryRow(ctx, `
		UPDATE calls
		SET status = 'completed',
			completed_at = $4,
			response_seconds = GREATEST(0, FLOOR(EXTRACT(EPOCH FROM ($4::timestamptz - requested_at))))::bigint
		WHERE call_id = $1 AND restaurant_id = $2
			AND status IN ('acknowledged','in_progress') AND waiter_id = $3
		RETURNING `+callColumns+`
	`, input.CallID, input.RestaurantID, input.WaiterID, occurredAt)
	call, err := scanCall(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Call{}, s.diagnoseOwnedAction(ctx, input, "complete")
		}
		return models.Call{}, err
	}

	metrics.CallsCompletedTotal.Inc()
	return call, nil
}

func (s *Store) CancelCall(ctx context.Context, input store.CallActionInput) (models.Call, error) {
	s.sweepQuietly(ctx, input.RestaurantID)

	occurredAt := occurredOrNow(input.OccurredAt)
	row := s.pool.QueryRow(ctx, `
		UPDATE calls
		SET status = 'cancelled',
			cancelled_at = $3,
			response_seconds = GREATEST(0, FLOOR(EXTRACT(EPOCH FROM ($3::timestamptz - requested_at))))::bigint
		WHERE call_id = $1 AND restaurant_id = $2 AND status = 'pending'
		RETURNING `+callColumns+`
	`, input.CallID, input.RestaurantID, occurredAt)
	call, err := scanCall(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			_, _, exists, stateErr := s.loadCallState(ctx, input.CallID, input.RestaurantID)
			if stateErr != nil {
				return models.Call{}, stateErr
			}
			if !exists {
				return models.Call{}, store.ErrCallNotFound
			}
			return models.Call{}, store.ErrInvalidState
		}
		return models.Call{}, err
	}
	return call, nil
}

// SweepMissed flips every overdue pending call in the restaurant to missed.
// Each flip reuses the conditional-update form, so a concurrent acknowledge
// that lands first turns the flip into a no-op. Row-level failures are
// logged and skipped rather than aborting the rest of the backlog.
func (s *Store) SweepMissed(ctx context.Context, restaurantID string) (int, error) {
	return s.sweep(ctx, restaurantID)
}

// SweepAllMissed is the background-ticker variant, unscoped by restaurant.
func (s *Store) SweepAllMissed(ctx context.Context) (int, error) {
	return s.sweep(ctx, "")
}

func (s *Store) sweep(ctx context.Context, restaurantID string) (int, error) {
	now := time.Now().UTC()

	query := `
		SELECT call_id
		FROM calls
		WHERE status = 'pending' AND timeout_at < $1 AND missed_at IS NULL
	`
	args := []interface{}{now}
	if restaurantID != "" {
		args = append(args, restaurantID)
		query += ` AND restaurant_id = $2`
	}
	query += `
		ORDER BY timeout_at ASC
		LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, s.sweepBatchSize)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	var due []string
	for rows.Next() {
		var callID string
		if err := rows.Scan(&callID); err != nil {
			rows.Close()
			return 0, err
		}
		due = append(due, callID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	swept := 0
	for _, callID := range due {
		tag, err := s.pool.Exec(ctx, `
			UPDATE calls
			SET status = 'missed',
				missed_at = $2,
				response_seconds = GREATEST(0, FLOOR(EXTRACT(EPOCH FROM ($2::timestamptz - requested_at))))::bigint
			WHERE call_id = $1 AND status = 'pending'
		`, callID, now)
		if err != nil {
			log.Printf("sweep call=%s error: %v", callID, err)
			continue
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		swept++
	}
	if swept > 0 {
		metrics.CallsMissedTotal.Add(float64(swept))
	}
	return swept, nil
}

func (s *Store) sweepQuietly(ctx context.Context, restaurantID string) {
	if _, err := s.sweep(ctx, restaurantID); err != nil {
		log.Printf("sweep restaurant=%s error: %v", restaurantID, err)
	}
}

func (s *Store) diagnoseAcknowledge(ctx context.Context, input store.CallActionInput) error {
	waiterID, status, exists, err := s.loadCallState(ctx, input.CallID, input.RestaurantID)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrCallNotFound
	}
	if store.ValidTransition("acknowledge", status) {
		// Row is still pending, so the waiter guard is what blocked us.
		return store.ErrNotAssigned
	}
	if !models.IsTerminal(status) && waiterID != nil && *waiterID != input.WaiterID {
		return store.ErrCallClaimed
	}
	return store.ErrInvalidState
}

func (s *Store) diagnoseOwnedAction(ctx context.Context, input store.CallActionInput, action string) error {
	waiterID, status, exists, err := s.loadCallState(ctx, input.CallID, input.RestaurantID)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrCallNotFound
	}
	if store.ValidTransition(action, status) {
		if waiterID == nil || *waiterID != input.WaiterID {
			return store.ErrNotAssigned
		}
	}
	return store.ErrInvalidState
}

func (s *Store) loadCallState(ctx context.Context, callID, restaurantID string) (*string, string, bool, error) {
	var waiterNull sql.NullString
	var status string
	row := s.pool.QueryRow(ctx, `
		SELECT waiter_id, status
		FROM calls
		WHERE call_id = $1 AND restaurant_id = $2
	`, callID, restaurantID)
	if err := row.Scan(&waiterNull, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", false, nil
		}
		return nil, "", false, err
	}
	return nullStringPtr(waiterNull), status, true, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func findCallByRequestID(ctx context.Context, q rowQuerier, requestID string) (models.Call, bool, error) {
	row := q.QueryRow(ctx, `
		SELECT `+callColumns+`
		FROM calls
		WHERE request_id = $1
	`, requestID)
	call, err := scanCall(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Call{}, false, nil
		}
		return models.Call{}, false, err
	}
	return call, true, nil
}

func ensureTableActive(ctx context.Context, tx pgx.Tx, restaurantID, tableID string) error {
	var id string
	row := tx.QueryRow(ctx, `
		SELECT table_id
		FROM tables
		WHERE table_id = $1 AND restaurant_id = $2 AND active = TRUE
	`, tableID, restaurantID)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrTableNotFound
		}
		return err
	}
	return nil
}

func assignedWaiterTx(ctx context.Context, tx pgx.Tx, tableID string) (string, bool, error) {
	var waiterID string
	row := tx.QueryRow(ctx, `
		SELECT w.waiter_id
		FROM table_assignments a
		JOIN waiters w ON w.waiter_id = a.waiter_id
		WHERE a.table_id = $1 AND w.active = TRUE
		ORDER BY w.name ASC
		LIMIT 1
	`, tableID)
	if err := row.Scan(&waiterID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return waiterID, true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCall(row rowScanner) (models.Call, error) {
	var call models.Call
	var waiterNull sql.NullString
	var acknowledgedNull, startedNull, completedNull, missedNull, cancelledNull sql.NullTime
	var responseNull sql.NullInt64
	if err := row.Scan(
		&call.CallID, &call.RestaurantID, &call.TableID, &waiterNull, &call.Status,
		&call.RequestedAt, &call.TimeoutAt,
		&acknowledgedNull, &startedNull, &completedNull, &missedNull, &cancelledNull,
		&responseNull, &call.RequestID,
	); err != nil {
		return models.Call{}, err
	}
	call.WaiterID = nullStringPtr(waiterNull)
	call.AcknowledgedAt = nullTimePtr(acknowledgedNull)
	call.StartedAt = nullTimePtr(startedNull)
	call.CompletedAt = nullTimePtr(completedNull)
	call.MissedAt = nullTimePtr(missedNull)
	call.CancelledAt = nullTimePtr(cancelledNull)
	if responseNull.Valid {
		seconds := responseNull.Int64
		call.ResponseSeconds = &seconds
	}
	return call, nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}

func occurredOrNow(occurredAt time.Time) time.Time {
	if occurredAt.IsZero() {
		return time.Now().UTC()
	}
	return occurredAt
}
