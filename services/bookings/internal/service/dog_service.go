package service

import (
	"context"
	"time"

	"github.com/diagnosis/pawstay-bookings/pkg/clock"
	"github.com/diagnosis/pawstay-bookings/pkg/logger"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/repository"
)

type DogService interface {
	Eligibility(ctx context.Context, dogID string) (domain.TrialEligibility, error)
	RecordTrialCompleted(ctx context.Context, dogID string, at time.Time) (domain.TrialEligibility, error)
}

type dogService struct {
	dogs  repository.DogRepository
	clock clock.Clock
	loc   *time.Location
}

func NewDogService(dogs repository.DogRepository, clk clock.Clock, loc *time.Location) DogService {
	if loc == nil {
		loc = time.UTC
	}
	return &dogService{dogs: dogs, clock: clk, loc: loc}
}

func (s *dogService) Eligibility(ctx context.Context, dogID string) (domain.TrialEligibility, error) {
	dog, err := retryRead(ctx, func() (*domain.Dog, error) { return s.dogs.GetByID(ctx, dogID) })
	if err != nil {
		return domain.TrialEligibility{}, err
	}
	if dog == nil {
		return domain.TrialEligibility{}, domain.ErrDogNotFound
	}
	return domain.EvaluateTrial(dog.TrialCompletedAt, s.clock.Now(), s.loc), nil
}

// RecordTrialCompleted stamps the trial day. A zero at means now. The first
// recorded completion is kept.
func (s *dogService) RecordTrialCompleted(ctx context.Context, dogID string, at time.Time) (domain.TrialEligibility, error) {
	if at.IsZero() {
		at = s.clock.Now()
	}
	found, err := s.dogs.MarkTrialCompleted(ctx, dogID, at)
	if err != nil {
		return domain.TrialEligibility{}, err
	}
	if !found {
		return domain.TrialEligibility{}, domain.ErrDogNotFound
	}
	logger.InfoContext(ctx, "Trial completion recorded", "dog_id", dogID, "at", at)
	return s.Eligibility(ctx, dogID)
}
