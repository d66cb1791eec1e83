package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
)

type BookingRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, b domain.Booking) error
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	GetByHoldID(ctx context.Context, holdID string) (*domain.Booking, error)
	GetByPaymentIntent(ctx context.Context, intentID string) (*domain.Booking, error)
	SetPaymentIntent(ctx context.Context, id, intentID string) error
	UpdateStatus(ctx context.Context, id string, from, to domain.BookingStatus, at time.Time) (bool, error)
	ListByEmail(ctx context.Context, email string, limit, offset int) ([]domain.Booking, error)
}

type bookingRepository struct {
	pool *pgxpool.Pool
}

func NewBookingRepository(pool *pgxpool.Pool) BookingRepository {
	return &bookingRepository{pool: pool}
}

func (r *bookingRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

const bookingCols = `id, hold_id, service_key, day, slot, user_email, dog_id, status, pricing, payment_intent_id, created_at, updated_at`

func scanBooking(row pgx.Row) (domain.Booking, error) {
	var (
		b        domain.Booking
		service  string
		status   string
		dogID    *string
		intentID *string
		pricing  []byte
	)
	err := row.Scan(&b.ID, &b.HoldID, &service, &b.Date, &b.Slot, &b.UserEmail, &dogID, &status,
		&pricing, &intentID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return b, err
	}
	b.Service = domain.ServiceKey(service)
	b.Status = domain.BookingStatus(status)
	b.DogID = deref(dogID)
	b.PaymentIntentID = deref(intentID)
	if err := json.Unmarshal(pricing, &b.Pricing); err != nil {
		return b, fmt.Errorf("decode pricing snapshot: %w", err)
	}
	return b, nil
}

func (r *bookingRepository) Create(ctx context.Context, b domain.Booking) error {
	const q = `
INSERT INTO bookings (id, hold_id, service_key, day, slot, user_email, dog_id, status, pricing, payment_intent_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`
	pricing, err := json.Marshal(b.Pricing)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err = conn(ctx, r.pool).Exec(ctx, q, b.ID, b.HoldID, b.Service, domain.Day(b.Date), b.Slot, b.UserEmail,
		nullable(b.DogID), b.Status, pricing, nullable(b.PaymentIntentID), b.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdempotencyConflict
		}
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

func (r *bookingRepository) getOne(ctx context.Context, where string, arg any) (*domain.Booking, error) {
	q := `SELECT ` + bookingCols + ` FROM bookings WHERE ` + where
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	b, err := scanBooking(conn(ctx, r.pool).QueryRow(ctx, q, arg))
	if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return &b, nil
}

func (r *bookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	return r.getOne(ctx, `id=$1`, id)
}

func (r *bookingRepository) GetByHoldID(ctx context.Context, holdID string) (*domain.Booking, error) {
	return r.getOne(ctx, `hold_id=$1`, holdID)
}

func (r *bookingRepository) GetByPaymentIntent(ctx context.Context, intentID string) (*domain.Booking, error) {
	return r.getOne(ctx, `payment_intent_id=$1`, intentID)
}

func (r *bookingRepository) SetPaymentIntent(ctx context.Context, id, intentID string) error {
	const q = `UPDATE bookings SET payment_intent_id=$2, updated_at=now() WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := conn(ctx, r.pool).Exec(ctx, q, id, intentID); err != nil {
		return fmt.Errorf("set payment intent: %w", err)
	}
	return nil
}

func (r *bookingRepository) UpdateStatus(ctx context.Context, id string, from, to domain.BookingStatus, at time.Time) (bool, error) {
	const q = `UPDATE bookings SET status=$3, updated_at=$4 WHERE id=$1 AND status=$2`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := conn(ctx, r.pool).Exec(ctx, q, id, from, to, at)
	if err != nil {
		return false, fmt.Errorf("update booking status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *bookingRepository) ListByEmail(ctx context.Context, email string, limit, offset int) ([]domain.Booking, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	const q = `SELECT ` + bookingCols + ` FROM bookings
WHERE lower(user_email) = lower($1)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := conn(ctx, r.pool).Query(ctx, q, email, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
