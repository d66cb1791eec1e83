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

// CapacityRepository stores defaults, overrides and the consumed counters.
// Counter writes are only reached through the capacity service.
type CapacityRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetDefault(ctx context.Context, service domain.ServiceKey) (int, bool, error)
	ListDefaults(ctx context.Context) (map[domain.ServiceKey]int, error)
	UpsertDefaults(ctx context.Context, defaults map[domain.ServiceKey]int) error

	FindOverride(ctx context.Context, key domain.CapacityKey) (*domain.CapacityOverride, error)
	ListOverrides(ctx context.Context, date time.Time) ([]domain.CapacityOverride, error)
	UpsertOverride(ctx context.Context, o domain.CapacityOverride) error
	DeleteOverride(ctx context.Context, service domain.ServiceKey, start, end time.Time, slot string) (bool, error)

	// LockCounter creates the counter if needed and row-locks it for the
	// surrounding transaction. It returns the current consumed value.
	LockCounter(ctx context.Context, key domain.CapacityKey) (int, error)
	AddConsumed(ctx context.Context, key domain.CapacityKey, delta int) (int, error)
	SetConsumed(ctx context.Context, key domain.CapacityKey, consumed int) error
	GetConsumed(ctx context.Context, key domain.CapacityKey) (int, error)
	ListCounters(ctx context.Context, date time.Time) (map[domain.CapacityKey]int, error)
}

type capacityRepository struct {
	pool *pgxpool.Pool
}

func NewCapacityRepository(pool *pgxpool.Pool) CapacityRepository {
	return &capacityRepository{pool: pool}
}

func (r *capacityRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *capacityRepository) GetDefault(ctx context.Context, service domain.ServiceKey) (int, bool, error) {
	const q = `SELECT capacity FROM capacity_defaults WHERE service_key=$1`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var capacity int
	err := conn(ctx, r.pool).QueryRow(ctx, q, service).Scan(&capacity)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get default capacity: %w", err)
	}
	return capacity, true, nil
}

func (r *capacityRepository) ListDefaults(ctx context.Context) (map[domain.ServiceKey]int, error) {
	const q = `SELECT service_key, capacity FROM capacity_defaults`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := conn(ctx, r.pool).Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list default capacity: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.ServiceKey]int)
	for rows.Next() {
		var (
			key      string
			capacity int
		)
		if err := rows.Scan(&key, &capacity); err != nil {
			return nil, err
		}
		out[domain.ServiceKey(key)] = capacity
	}
	return out, rows.Err()
}

func (r *capacityRepository) UpsertDefaults(ctx context.Context, defaults map[domain.ServiceKey]int) error {
	const q = `
INSERT INTO capacity_defaults (service_key, capacity, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (service_key) DO UPDATE SET capacity = EXCLUDED.capacity, updated_at = now()`

	return r.WithTx(ctx, func(ctx context.Context) error {
		batch := &pgx.Batch{}
		for service, capacity := range defaults {
			batch.Queue(q, service, capacity)
		}
		tx := txFromContext(ctx)
		br := tx.SendBatch(ctx, batch)
		for range defaults {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("upsert default capacity: %w", err)
			}
		}
		return br.Close()
	})
}

const overrideCols = `service_key, date_start, date_end, slot, capacity, updated_at`

func scanOverride(row pgx.Row) (domain.CapacityOverride, error) {
	var (
		o   domain.CapacityOverride
		key string
	)
	err := row.Scan(&key, &o.DateStart, &o.DateEnd, &o.Slot, &o.Capacity, &o.UpdatedAt)
	o.Service = domain.ServiceKey(key)
	return o, err
}

// FindOverride returns the most recently written override covering the key, or nil.
func (r *capacityRepository) FindOverride(ctx context.Context, key domain.CapacityKey) (*domain.CapacityOverride, error) {
	const q = `SELECT ` + overrideCols + ` FROM capacity_overrides
WHERE service_key=$1 AND slot=$2 AND date_start <= $3 AND date_end >= $3
ORDER BY updated_at DESC
LIMIT 1`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	o, err := scanOverride(conn(ctx, r.pool).QueryRow(ctx, q, key.Service, key.Slot, key.Date))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find capacity override: %w", err)
	}
	return &o, nil
}

func (r *capacityRepository) ListOverrides(ctx context.Context, date time.Time) ([]domain.CapacityOverride, error) {
	const q = `SELECT ` + overrideCols + ` FROM capacity_overrides
WHERE date_start <= $1 AND date_end >= $1
ORDER BY service_key, slot, updated_at DESC`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := conn(ctx, r.pool).Query(ctx, q, domain.Day(date))
	if err != nil {
		return nil, fmt.Errorf("list capacity overrides: %w", err)
	}
	defer rows.Close()

	var out []domain.CapacityOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *capacityRepository) UpsertOverride(ctx context.Context, o domain.CapacityOverride) error {
	const q = `
INSERT INTO capacity_overrides (service_key, date_start, date_end, slot, capacity, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (service_key, date_start, date_end, slot)
DO UPDATE SET capacity = EXCLUDED.capacity, updated_at = now()`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := conn(ctx, r.pool).Exec(ctx, q, o.Service, domain.Day(o.DateStart), domain.Day(o.DateEnd), o.Slot, o.Capacity)
	if err != nil {
		return fmt.Errorf("upsert capacity override: %w", err)
	}
	return nil
}

func (r *capacityRepository) DeleteOverride(ctx context.Context, service domain.ServiceKey, start, end time.Time, slot string) (bool, error) {
	const q = `DELETE FROM capacity_overrides WHERE service_key=$1 AND date_start=$2 AND date_end=$3 AND slot=$4`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := conn(ctx, r.pool).Exec(ctx, q, service, domain.Day(start), domain.Day(end), slot)
	if err != nil {
		return false, fmt.Errorf("delete capacity override: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *capacityRepository) LockCounter(ctx context.Context, key domain.CapacityKey) (int, error) {
	if txFromContext(ctx) == nil {
		return 0, errors.New("lock counter: no transaction in context")
	}
	const ensure = `
INSERT INTO capacity_counters (service_key, day, slot, consumed)
VALUES ($1, $2, $3, 0)
ON CONFLICT (service_key, day, slot) DO NOTHING`
	const lock = `SELECT consumed FROM capacity_counters WHERE service_key=$1 AND day=$2 AND slot=$3 FOR UPDATE`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	q := conn(ctx, r.pool)
	if _, err := q.Exec(ctx, ensure, key.Service, key.Date, key.Slot); err != nil {
		return 0, fmt.Errorf("ensure capacity counter: %w", err)
	}
	var consumed int
	if err := q.QueryRow(ctx, lock, key.Service, key.Date, key.Slot).Scan(&consumed); err != nil {
		return 0, fmt.Errorf("lock capacity counter: %w", err)
	}
	return consumed, nil
}

// AddConsumed applies delta, flooring the counter at zero.
func (r *capacityRepository) AddConsumed(ctx context.Context, key domain.CapacityKey, delta int) (int, error) {
	const q = `
INSERT INTO capacity_counters (service_key, day, slot, consumed, updated_at)
VALUES ($1, $2, $3, GREATEST($4::int, 0), now())
ON CONFLICT (service_key, day, slot)
DO UPDATE SET consumed = GREATEST(capacity_counters.consumed + $4::int, 0), updated_at = now()
RETURNING consumed`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var consumed int
	if err := conn(ctx, r.pool).QueryRow(ctx, q, key.Service, key.Date, key.Slot, delta).Scan(&consumed); err != nil {
		return 0, fmt.Errorf("update capacity counter: %w", err)
	}
	return consumed, nil
}

func (r *capacityRepository) SetConsumed(ctx context.Context, key domain.CapacityKey, consumed int) error {
	const q = `
INSERT INTO capacity_counters (service_key, day, slot, consumed, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (service_key, day, slot)
DO UPDATE SET consumed = EXCLUDED.consumed, updated_at = now()`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := conn(ctx, r.pool).Exec(ctx, q, key.Service, key.Date, key.Slot, consumed); err != nil {
		return fmt.Errorf("set capacity counter: %w", err)
	}
	return nil
}

func (r *capacityRepository) GetConsumed(ctx context.Context, key domain.CapacityKey) (int, error) {
	const q = `SELECT consumed FROM capacity_counters WHERE service_key=$1 AND day=$2 AND slot=$3`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var consumed int
	err := conn(ctx, r.pool).QueryRow(ctx, q, key.Service, key.Date, key.Slot).Scan(&consumed)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get capacity counter: %w", err)
	}
	return consumed, nil
}

// ListCounters row-locks and returns every counter of a day when called in a transaction.
func (r *capacityRepository) ListCounters(ctx context.Context, date time.Time) (map[domain.CapacityKey]int, error) {
	q := `SELECT service_key, day, slot, consumed FROM capacity_counters WHERE day=$1`
	if txFromContext(ctx) != nil {
		q += ` FOR UPDATE`
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := conn(ctx, r.pool).Query(ctx, q, domain.Day(date))
	if err != nil {
		return nil, fmt.Errorf("list capacity counters: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.CapacityKey]int)
	for rows.Next() {
		var (
			service, slot string
			day           time.Time
			consumed      int
		)
		if err := rows.Scan(&service, &day, &slot, &consumed); err != nil {
			return nil, err
		}
		out[domain.NewCapacityKey(domain.ServiceKey(service), day, slot)] = consumed
	}
	return out, rows.Err()
}
