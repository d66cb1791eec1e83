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

type DogRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Dog, error)
	MarkTrialCompleted(ctx context.Context, id string, at time.Time) (bool, error)
}

type dogRepository struct {
	pool *pgxpool.Pool
}

func NewDogRepository(pool *pgxpool.Pool) DogRepository {
	return &dogRepository{pool: pool}
}

func (r *dogRepository) GetByID(ctx context.Context, id string) (*domain.Dog, error) {
	const q = `SELECT id, owner_email, name, trial_completed_at FROM dogs WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var d domain.Dog
	err := conn(ctx, r.pool).QueryRow(ctx, q, id).Scan(&d.ID, &d.OwnerEmail, &d.Name, &d.TrialCompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dog: %w", err)
	}
	return &d, nil
}

// MarkTrialCompleted keeps the first completion time if one is already recorded.
func (r *dogRepository) MarkTrialCompleted(ctx context.Context, id string, at time.Time) (bool, error) {
	const q = `UPDATE dogs SET trial_completed_at = COALESCE(trial_completed_at, $2) WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := conn(ctx, r.pool).Exec(ctx, q, id, at)
	if err != nil {
		return false, fmt.Errorf("mark trial completed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
