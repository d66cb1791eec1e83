package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
)

type HoldRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// InsertIfAbsent stores h unless its idempotency key is taken. It returns the
	// stored hold and whether it was newly created.
	InsertIfAbsent(ctx context.Context, h domain.Hold) (domain.Hold, bool, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.Hold, error)
	GetByID(ctx context.Context, id string) (*domain.Hold, error)

	// Transition moves a hold from one status to another and reports whether this
	// call performed the move.
	Transition(ctx context.Context, id string, from, to domain.HoldStatus, at time.Time) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error)
	CountLive(ctx context.Context, date time.Time) (map[domain.CapacityKey]int, error)
}

type holdRepository struct {
	pool *pgxpool.Pool
}

func NewHoldRepository(pool *pgxpool.Pool) HoldRepository {
	return &holdRepository{pool: pool}
}

func (r *holdRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

const holdCols = `id, idempotency_key, service_key, day, slot, user_email, dog_id, status, created_at, expires_at, updated_at`

func scanHold(row pgx.Row) (domain.Hold, error) {
	var (
		h       domain.Hold
		service string
		status  string
		dogID   *string
	)
	err := row.Scan(&h.ID, &h.IdempotencyKey, &service, &h.Date, &h.Slot, &h.UserEmail, &dogID,
		&status, &h.CreatedAt, &h.ExpiresAt, &h.UpdatedAt)
	h.Service = domain.ServiceKey(service)
	h.Status = domain.HoldStatus(status)
	h.DogID = deref(dogID)
	return h, err
}

func (r *holdRepository) InsertIfAbsent(ctx context.Context, h domain.Hold) (domain.Hold, bool, error) {
	const q = `
INSERT INTO reservation_holds (id, idempotency_key, service_key, day, slot, user_email, dog_id, status, created_at, expires_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $9)
ON CONFLICT (idempotency_key) DO NOTHING
RETURNING ` + holdCols
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	stored, err := scanHold(conn(ctx, r.pool).QueryRow(ctx, q,
		h.ID, h.IdempotencyKey, h.Service, domain.Day(h.Date), h.Slot, h.UserEmail, nullable(h.DogID),
		h.Status, h.CreatedAt, h.ExpiresAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		if isUniqueViolation(err) {
			return domain.Hold{}, false, domain.ErrIdempotencyConflict
		}
		return domain.Hold{}, false, fmt.Errorf("insert hold: %w", err)
	}

	existing, err := r.FindByIdempotencyKey(ctx, h.IdempotencyKey)
	if err != nil {
		return domain.Hold{}, false, err
	}
	if existing == nil {
		return domain.Hold{}, false, domain.ErrIdempotencyConflict
	}
	return *existing, false, nil
}

func (r *holdRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Hold, error) {
	const q = `SELECT ` + holdCols + ` FROM reservation_holds WHERE idempotency_key=$1`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	h, err := scanHold(conn(ctx, r.pool).QueryRow(ctx, q, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find hold by idempotency key: %w", err)
	}
	return &h, nil
}

func (r *holdRepository) GetByID(ctx context.Context, id string) (*domain.Hold, error) {
	const q = `SELECT ` + holdCols + ` FROM reservation_holds WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	h, err := scanHold(conn(ctx, r.pool).QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get hold: %w", err)
	}
	return &h, nil
}

func (r *holdRepository) Transition(ctx context.Context, id string, from, to domain.HoldStatus, at time.Time) (bool, error) {
	const q = `UPDATE reservation_holds SET status=$3, updated_at=$4 WHERE id=$1 AND status=$2`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := conn(ctx, r.pool).Exec(ctx, q, id, from, to, at)
	if err != nil {
		if isInvalidUUID(err) {
			return false, nil
		}
		return false, fmt.Errorf("transition hold %s -> %s: %w", from, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *holdRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	if limit <= 0 {
		limit = 200
	}
	const q = `SELECT ` + holdCols + ` FROM reservation_holds
WHERE status='active' AND expires_at < $1
ORDER BY expires_at
LIMIT $2`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := conn(ctx, r.pool).Query(ctx, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired holds: %w", err)
	}
	defer rows.Close()

	var out []domain.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *holdRepository) CountLive(ctx context.Context, date time.Time) (map[domain.CapacityKey]int, error) {
	const q = `SELECT service_key, slot, count(*) FROM reservation_holds
WHERE day=$1 AND status IN ('active', 'confirmed')
GROUP BY service_key, slot`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	day := domain.Day(date)
	rows, err := conn(ctx, r.pool).Query(ctx, q, day)
	if err != nil {
		return nil, fmt.Errorf("count live holds: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.CapacityKey]int)
	for rows.Next() {
		var (
			service, slot string
			n             int
		)
		if err := rows.Scan(&service, &slot, &n); err != nil {
			return nil, err
		}
		out[domain.NewCapacityKey(domain.ServiceKey(service), day, slot)] = n
	}
	return out, rows.Err()
}
