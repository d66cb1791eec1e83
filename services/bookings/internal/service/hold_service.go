package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/diagnosis/pawstay-bookings/pkg/clock"
	"github.com/diagnosis/pawstay-bookings/pkg/events"
	"github.com/diagnosis/pawstay-bookings/pkg/logger"
	"github.com/diagnosis/pawstay-bookings/pkg/telemetry"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/repository"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/schedule"
)

type HoldService interface {
	CreateHold(ctx context.Context, in CreateHoldInput) (domain.Hold, error)
	GetHold(ctx context.Context, id string) (*domain.Hold, error)
	// ConfirmHold marks an active hold as converted. Any other state is a no-op.
	ConfirmHold(ctx context.Context, id string) error
	// ReleaseHold gives an active hold's unit back. It never fails the caller.
	ReleaseHold(ctx context.Context, id string)
	// CancelConfirmed releases the unit of a hold that was already confirmed.
	CancelConfirmed(ctx context.Context, id string) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

type CreateHoldInput struct {
	IdempotencyKey string
	Service        domain.ServiceKey
	Date           time.Time
	Slot           string
	UserEmail      string
	DogID          string
}

const (
	defaultHoldTTL   = 10 * time.Minute
	defaultSweepSize = 200
)

type holdService struct {
	holds     repository.HoldRepository
	capacity  CapacityService
	dogs      repository.DogRepository
	bus       events.Publisher
	metrics   *telemetry.Metrics
	clock     clock.Clock
	loc       *time.Location
	ttl       time.Duration
	sweepSize int
}

type HoldOption func(*holdService)

// WithHoldTTL overrides the default TTL for new holds.
func WithHoldTTL(d time.Duration) HoldOption {
	return func(s *holdService) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithTrialGate refuses daycare and boarding holds for known dogs that have not
// finished their trial day, evaluated in the facility location.
func WithTrialGate(dogs repository.DogRepository, loc *time.Location) HoldOption {
	return func(s *holdService) {
		s.dogs = dogs
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithHoldEvents(bus events.Publisher) HoldOption {
	return func(s *holdService) { s.bus = bus }
}

func WithHoldMetrics(m *telemetry.Metrics) HoldOption {
	return func(s *holdService) { s.metrics = m }
}

func WithSweepBatchSize(n int) HoldOption {
	return func(s *holdService) {
		if n > 0 {
			s.sweepSize = n
		}
	}
}

func NewHoldService(holds repository.HoldRepository, capacity CapacityService, clk clock.Clock, opts ...HoldOption) HoldService {
	s := &holdService{
		holds:     holds,
		capacity:  capacity,
		clock:     clk,
		loc:       time.UTC,
		ttl:       defaultHoldTTL,
		sweepSize: defaultSweepSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *holdService) CreateHold(ctx context.Context, in CreateHoldInput) (hold domain.Hold, err error) {
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if in.IdempotencyKey == "" {
		return domain.Hold{}, domain.Invalid("idempotency_key", domain.ErrIdempotencyKeyRequired)
	}

	ctx, span := tracer().Start(ctx, "hold.Create", trace.WithAttributes(
		attribute.String("service", string(in.Service)),
		attribute.String("date", domain.FormatDate(in.Date)),
	))
	defer func() {
		if errors.Is(err, domain.ErrCapacityFull) {
			endSpan(span, nil)
			return
		}
		endSpan(span, err)
	}()

	existing, err := retryRead(ctx, func() (*domain.Hold, error) {
		return s.holds.FindByIdempotencyKey(ctx, in.IdempotencyKey)
	})
	if err != nil {
		return domain.Hold{}, err
	}
	if existing != nil {
		logger.DebugContext(ctx, "Hold replayed for idempotency key", "hold_id", existing.ID, "status", existing.Status)
		return *existing, nil
	}

	key, err := s.validate(ctx, &in)
	if err != nil {
		s.metrics.HoldRejected(string(in.Service), rejectReason(err))
		return domain.Hold{}, err
	}

	if err := s.capacity.Reserve(ctx, key, 1); err != nil {
		if errors.Is(err, domain.ErrCapacityFull) {
			s.metrics.HoldRejected(string(in.Service), "full")
			logger.InfoContext(ctx, "Hold refused, fully booked", "key", key.String())
		}
		return domain.Hold{}, err
	}

	now := s.clock.Now()
	candidate := domain.Hold{
		ID:             uuid.NewString(),
		IdempotencyKey: in.IdempotencyKey,
		Service:        key.Service,
		Date:           key.Date,
		Slot:           key.Slot,
		UserEmail:      in.UserEmail,
		DogID:          in.DogID,
		Status:         domain.HoldActive,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}

	stored, created, err := s.holds.InsertIfAbsent(ctx, candidate)
	if err != nil {
		s.compensate(ctx, key, candidate.ID, err)
		return domain.Hold{}, fmt.Errorf("persist hold: %w", err)
	}
	if !created {
		// A concurrent request with the same key won the insert; give back our unit.
		s.compensate(ctx, key, stored.ID, nil)
		return stored, nil
	}

	ctx = logger.WithHold(ctx, stored.ID)
	logger.InfoContext(ctx, "Hold created", "key", key.String(), "expires_at", stored.ExpiresAt)
	s.metrics.HoldCreated(string(stored.Service))
	publish(ctx, s.bus, events.HoldCreated, holdEvent(stored, now))
	return stored, nil
}

// validate normalises input and returns the capacity key the hold will claim.
func (s *holdService) validate(ctx context.Context, in *CreateHoldInput) (domain.CapacityKey, error) {
	service, err := domain.ParseServiceKey(string(in.Service))
	if err != nil {
		return domain.CapacityKey{}, err
	}
	in.Service = service
	if in.Date.IsZero() {
		return domain.CapacityKey{}, domain.NewValidationError("date", "date is required")
	}
	in.UserEmail = domain.NormalizeEmail(in.UserEmail)
	if !domain.IsValidEmail(in.UserEmail) {
		return domain.CapacityKey{}, domain.NewValidationError("user_email", "a valid email is required")
	}
	slot, err := schedule.LedgerSlot(service, in.Date, in.Slot)
	if err != nil {
		return domain.CapacityKey{}, err
	}
	in.DogID = strings.TrimSpace(in.DogID)

	if err := s.checkTrial(ctx, service, in.DogID); err != nil {
		return domain.CapacityKey{}, err
	}
	return domain.NewCapacityKey(service, in.Date, slot), nil
}

func (s *holdService) checkTrial(ctx context.Context, service domain.ServiceKey, dogID string) error {
	if s.dogs == nil || dogID == "" || !service.RequiresTrial() {
		return nil
	}
	dog, err := retryRead(ctx, func() (*domain.Dog, error) { return s.dogs.GetByID(ctx, dogID) })
	if err != nil {
		return err
	}
	if dog == nil {
		return nil
	}
	if !domain.EvaluateTrial(dog.TrialCompletedAt, s.clock.Now(), s.loc).Eligible {
		return domain.ErrTrialRequired
	}
	return nil
}

// compensate undoes a reserve whose hold was not persisted. A failed compensation
// leaves the counter high until Reconcile runs, so it is logged loudly.
func (s *holdService) compensate(ctx context.Context, key domain.CapacityKey, holdID string, cause error) {
	if err := s.capacity.Release(ctx, key, 1); err != nil {
		s.metrics.Compensation("failed")
		logger.ErrorContext(ctx, "Compensating capacity release failed; counter needs reconcile",
			"key", key.String(), "hold_id", holdID, "cause", cause, "error", err)
		return
	}
	s.metrics.Compensation("ok")
	if cause != nil {
		logger.WarnContext(ctx, "Hold insert failed, capacity released", "key", key.String(), "error", cause)
	}
}

func (s *holdService) GetHold(ctx context.Context, id string) (*domain.Hold, error) {
	return retryRead(ctx, func() (*domain.Hold, error) { return s.holds.GetByID(ctx, id) })
}

func (s *holdService) ConfirmHold(ctx context.Context, id string) error {
	ctx = logger.WithHold(ctx, id)
	now := s.clock.Now()
	moved, err := s.holds.Transition(ctx, id, domain.HoldActive, domain.HoldConfirmed, now)
	if err != nil {
		return err
	}
	if !moved {
		logger.DebugContext(ctx, "Confirm ignored, hold not active")
		return nil
	}

	s.metrics.HoldFinished(string(domain.HoldConfirmed))
	if h, err := s.holds.GetByID(ctx, id); err == nil && h != nil {
		publish(ctx, s.bus, events.HoldConfirmed, holdEvent(*h, now))
	}
	logger.InfoContext(ctx, "Hold confirmed")
	return nil
}

func (s *holdService) ReleaseHold(ctx context.Context, id string) {
	ctx = logger.WithHold(ctx, id)
	h, err := s.GetHold(ctx, id)
	if err != nil {
		logger.ErrorContext(ctx, "Release: failed to load hold", "error", err)
		return
	}
	if h == nil || h.Status != domain.HoldActive {
		logger.DebugContext(ctx, "Release ignored, hold missing or not active")
		return
	}
	s.finish(ctx, *h, domain.HoldActive, domain.HoldReleased, events.HoldReleased)
}

func (s *holdService) CancelConfirmed(ctx context.Context, id string) error {
	ctx = logger.WithHold(ctx, id)
	h, err := s.GetHold(ctx, id)
	if err != nil {
		return err
	}
	if h == nil {
		return domain.ErrHoldNotFound
	}
	switch h.Status {
	case domain.HoldCancelled:
		return nil
	case domain.HoldConfirmed:
	default:
		return domain.ErrHoldNotConfirmed
	}
	// Losing a race with another cancel is fine: the winner released the unit.
	s.finish(ctx, *h, domain.HoldConfirmed, domain.HoldCancelled, events.HoldCancelled)
	return nil
}

// SweepExpired moves active holds past their TTL to expired and returns their
// units. Each transition is guarded so overlapping sweeps never release twice.
func (s *holdService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, span := tracer().Start(ctx, "hold.SweepExpired")
	var err error
	defer func() { endSpan(span, err) }()

	released := 0
	for {
		var batch []domain.Hold
		batch, err = retryRead(ctx, func() ([]domain.Hold, error) {
			return s.holds.ListExpired(ctx, now, s.sweepSize)
		})
		if err != nil {
			return released, err
		}

		moved := 0
		for _, h := range batch {
			if s.finishAt(ctx, h, domain.HoldActive, domain.HoldExpired, events.HoldExpired, now) {
				moved++
			}
		}
		released += moved

		// A short batch means the backlog is drained. A full batch where nothing
		// moved means another sweeper holds the rest.
		if len(batch) < s.sweepSize || moved == 0 {
			break
		}
		if ctx.Err() != nil {
			err = ctx.Err()
			return released, err
		}
	}

	span.SetAttributes(attribute.Int("released", released))
	return released, nil
}

func (s *holdService) finish(ctx context.Context, h domain.Hold, from, to domain.HoldStatus, subject string) bool {
	return s.finishAt(ctx, h, from, to, subject, s.clock.Now())
}

// finishAt performs a guarded transition and, only if this call won it, releases
// the hold's unit. Release failures are logged and left to Reconcile.
func (s *holdService) finishAt(ctx context.Context, h domain.Hold, from, to domain.HoldStatus, subject string, at time.Time) bool {
	ctx = logger.WithHold(ctx, h.ID)
	moved, err := s.holds.Transition(ctx, h.ID, from, to, at)
	if err != nil {
		logger.ErrorContext(ctx, "Hold transition failed", "from", from, "to", to, "error", err)
		return false
	}
	if !moved {
		return false
	}
	if err := s.capacity.Release(ctx, h.Key(), 1); err != nil {
		logger.ErrorContext(ctx, "Capacity release failed after hold transition",
			"key", h.Key().String(), "status", to, "error", err)
	}
	s.metrics.HoldFinished(string(to))
	h.Status = to
	logger.InfoContext(ctx, "Hold finished", "status", to, "key", h.Key().String())
	publish(ctx, s.bus, subject, holdEvent(h, at))
	return true
}

func holdEvent(h domain.Hold, at time.Time) events.HoldEvent {
	return events.HoldEvent{
		HoldID:     h.ID,
		ServiceKey: string(h.Service),
		Date:       domain.FormatDate(h.Date),
		Slot:       h.Slot,
		UserEmail:  h.UserEmail,
		DogID:      h.DogID,
		Status:     string(h.Status),
		ExpiresAt:  h.ExpiresAt,
		OccurredAt: at,
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrTrialRequired):
		return "trial_required"
	case domain.IsValidation(err):
		return "invalid"
	default:
		return "error"
	}
}
