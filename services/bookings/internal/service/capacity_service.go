package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/diagnosis/pawstay-bookings/pkg/clock"
	"github.com/diagnosis/pawstay-bookings/pkg/events"
	"github.com/diagnosis/pawstay-bookings/pkg/logger"
	"github.com/diagnosis/pawstay-bookings/pkg/telemetry"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/repository"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/schedule"
)

// CapacityService is the only writer of the consumed counters.
type CapacityService interface {
	GetCapacity(ctx context.Context, key domain.CapacityKey) (int, error)
	GetConsumed(ctx context.Context, key domain.CapacityKey) (int, error)
	GetAvailable(ctx context.Context, key domain.CapacityKey) (int, error)

	// Reserve claims count units or fails with domain.ErrCapacityFull without mutating.
	Reserve(ctx context.Context, key domain.CapacityKey, count int) error
	// Release returns count units, never taking the counter below zero.
	Release(ctx context.Context, key domain.CapacityKey, count int) error

	ListDefaults(ctx context.Context) (map[domain.ServiceKey]int, error)
	SetDefaults(ctx context.Context, defaults map[domain.ServiceKey]int) error
	ListOverrides(ctx context.Context, date time.Time) ([]domain.CapacityOverride, error)
	SetOverride(ctx context.Context, o domain.CapacityOverride) error
	ClearOverride(ctx context.Context, service domain.ServiceKey, start, end time.Time, slot string) (bool, error)

	Overview(ctx context.Context, date time.Time, slot string) (*domain.CapacityOverview, error)
	Reconcile(ctx context.Context, date time.Time) ([]CounterAdjustment, error)
}

// LiveHoldCounter counts active and confirmed holds per capacity key for a day.
type LiveHoldCounter interface {
	CountLive(ctx context.Context, date time.Time) (map[domain.CapacityKey]int, error)
}

// CounterAdjustment records one counter corrected by Reconcile.
type CounterAdjustment struct {
	Service  domain.ServiceKey `json:"service"`
	Date     string            `json:"date"`
	Slot     string            `json:"slot"`
	Previous int               `json:"previous"`
	Current  int               `json:"current"`
}

type capacityService struct {
	repo     repository.CapacityRepository
	holds    LiveHoldCounter
	fallback map[domain.ServiceKey]int
	bus      events.Publisher
	metrics  *telemetry.Metrics
	clock    clock.Clock
}

type CapacityOption func(*capacityService)

// WithFallbackDefaults supplies capacities for services that have no stored default.
func WithFallbackDefaults(defaults map[string]int) CapacityOption {
	return func(s *capacityService) {
		for k, v := range defaults {
			s.fallback[domain.ServiceKey(k)] = v
		}
	}
}

func WithCapacityEvents(bus events.Publisher) CapacityOption {
	return func(s *capacityService) { s.bus = bus }
}

func WithCapacityMetrics(m *telemetry.Metrics) CapacityOption {
	return func(s *capacityService) { s.metrics = m }
}

func WithCapacityClock(c clock.Clock) CapacityOption {
	return func(s *capacityService) { s.clock = c }
}

func NewCapacityService(repo repository.CapacityRepository, holds LiveHoldCounter, opts ...CapacityOption) CapacityService {
	s := &capacityService{
		repo:     repo,
		holds:    holds,
		fallback: make(map[domain.ServiceKey]int),
		clock:    clock.NewSystem(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *capacityService) GetCapacity(ctx context.Context, key domain.CapacityKey) (int, error) {
	return retryRead(ctx, func() (int, error) { return s.capacityFor(ctx, key) })
}

// capacityFor reads the effective capacity: a covering override, else the stored
// default, else the configured fallback.
func (s *capacityService) capacityFor(ctx context.Context, key domain.CapacityKey) (int, error) {
	o, err := s.repo.FindOverride(ctx, key)
	if err != nil {
		return 0, err
	}
	if o != nil {
		return o.Capacity, nil
	}
	c, ok, err := s.repo.GetDefault(ctx, key.Service)
	if err != nil {
		return 0, err
	}
	if ok {
		return c, nil
	}
	return s.fallback[key.Service], nil
}

func (s *capacityService) GetConsumed(ctx context.Context, key domain.CapacityKey) (int, error) {
	return retryRead(ctx, func() (int, error) { return s.repo.GetConsumed(ctx, key) })
}

func (s *capacityService) GetAvailable(ctx context.Context, key domain.CapacityKey) (int, error) {
	capacity, err := s.GetCapacity(ctx, key)
	if err != nil {
		return 0, err
	}
	consumed, err := s.GetConsumed(ctx, key)
	if err != nil {
		return 0, err
	}
	return domain.Available(capacity, consumed), nil
}

func (s *capacityService) Reserve(ctx context.Context, key domain.CapacityKey, count int) (err error) {
	if count < 1 {
		return domain.NewValidationError("count", "must reserve at least one unit")
	}
	ctx, span := tracer().Start(ctx, "capacity.Reserve", trace.WithAttributes(keyAttrs(key)...))
	defer func() {
		if errors.Is(err, domain.ErrCapacityFull) {
			span.SetAttributes(attribute.Bool("capacity.full", true))
			endSpan(span, nil)
			return
		}
		endSpan(span, err)
	}()

	started := time.Now()
	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		consumed, err := s.repo.LockCounter(txCtx, key)
		if err != nil {
			return err
		}
		capacity, err := s.capacityFor(txCtx, key)
		if err != nil {
			return err
		}
		if consumed+count > capacity {
			return domain.ErrCapacityFull
		}
		_, err = s.repo.AddConsumed(txCtx, key, count)
		return err
	})

	switch {
	case err == nil:
		s.metrics.ObserveReserve("ok", time.Since(started))
	case errors.Is(err, domain.ErrCapacityFull):
		s.metrics.ObserveReserve("full", time.Since(started))
	default:
		s.metrics.ObserveReserve("error", time.Since(started))
		err = fmt.Errorf("reserve %s: %w", key, err)
	}
	return err
}

func (s *capacityService) Release(ctx context.Context, key domain.CapacityKey, count int) (err error) {
	if count < 1 {
		return nil
	}
	ctx, span := tracer().Start(ctx, "capacity.Release", trace.WithAttributes(keyAttrs(key)...))
	defer func() { endSpan(span, err) }()

	if _, err = s.repo.AddConsumed(ctx, key, -count); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func (s *capacityService) ListDefaults(ctx context.Context) (map[domain.ServiceKey]int, error) {
	stored, err := retryRead(ctx, func() (map[domain.ServiceKey]int, error) { return s.repo.ListDefaults(ctx) })
	if err != nil {
		return nil, err
	}
	out := make(map[domain.ServiceKey]int, len(domain.ServiceKeys))
	for _, k := range domain.ServiceKeys {
		if c, ok := stored[k]; ok {
			out[k] = c
		} else {
			out[k] = s.fallback[k]
		}
	}
	return out, nil
}

func (s *capacityService) SetDefaults(ctx context.Context, defaults map[domain.ServiceKey]int) error {
	if len(defaults) == 0 {
		return domain.NewValidationError("defaults", "at least one service is required")
	}
	payload := make(map[string]int, len(defaults))
	for k, c := range defaults {
		if _, err := domain.ParseServiceKey(string(k)); err != nil {
			return err
		}
		if c < 0 {
			return domain.NewValidationError(string(k), "capacity must not be negative")
		}
		payload[string(k)] = c
	}
	if err := s.repo.UpsertDefaults(ctx, defaults); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Capacity defaults updated", "defaults", payload)
	publish(ctx, s.bus, events.CapacityDefaultsUpdated, events.CapacityDefaultsEvent{
		Defaults:   payload,
		OccurredAt: s.clock.Now(),
	})
	return nil
}

func (s *capacityService) ListOverrides(ctx context.Context, date time.Time) ([]domain.CapacityOverride, error) {
	return retryRead(ctx, func() ([]domain.CapacityOverride, error) { return s.repo.ListOverrides(ctx, date) })
}

func (s *capacityService) SetOverride(ctx context.Context, o domain.CapacityOverride) error {
	if err := validateOverride(&o); err != nil {
		return err
	}
	if o.Capacity < 0 {
		return domain.NewValidationError("capacity", "capacity must not be negative")
	}
	if err := s.repo.UpsertOverride(ctx, o); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Capacity override set",
		"service", o.Service, "date_start", domain.FormatDate(o.DateStart),
		"date_end", domain.FormatDate(o.DateEnd), "slot", o.Slot, "capacity", o.Capacity)
	capacity := o.Capacity
	publish(ctx, s.bus, events.CapacityOverrideSet, events.CapacityOverrideEvent{
		ServiceKey: string(o.Service),
		DateStart:  domain.FormatDate(o.DateStart),
		DateEnd:    domain.FormatDate(o.DateEnd),
		Slot:       o.Slot,
		Capacity:   &capacity,
		OccurredAt: s.clock.Now(),
	})
	return nil
}

func (s *capacityService) ClearOverride(ctx context.Context, service domain.ServiceKey, start, end time.Time, slot string) (bool, error) {
	o := domain.CapacityOverride{Service: service, DateStart: start, DateEnd: end, Slot: slot}
	if err := validateOverride(&o); err != nil {
		return false, err
	}
	cleared, err := s.repo.DeleteOverride(ctx, o.Service, o.DateStart, o.DateEnd, o.Slot)
	if err != nil {
		return false, err
	}
	if !cleared {
		return false, nil
	}

	logger.InfoContext(ctx, "Capacity override cleared",
		"service", o.Service, "date_start", domain.FormatDate(o.DateStart),
		"date_end", domain.FormatDate(o.DateEnd), "slot", o.Slot)
	publish(ctx, s.bus, events.CapacityOverrideCleared, events.CapacityOverrideEvent{
		ServiceKey: string(o.Service),
		DateStart:  domain.FormatDate(o.DateStart),
		DateEnd:    domain.FormatDate(o.DateEnd),
		Slot:       o.Slot,
		OccurredAt: s.clock.Now(),
	})
	return true, nil
}

// validateOverride normalises dates and checks the slot against the service's
// bucket policy: ALL_DAY for daily services, a window id open on at least one
// day of the range for slotted ones.
func validateOverride(o *domain.CapacityOverride) error {
	service, err := domain.ParseServiceKey(string(o.Service))
	if err != nil {
		return err
	}
	o.Service = service
	if o.DateStart.IsZero() || o.DateEnd.IsZero() {
		return domain.NewValidationError("date_start", "date_start and date_end are required")
	}
	o.DateStart, o.DateEnd = domain.Day(o.DateStart), domain.Day(o.DateEnd)
	if o.DateEnd.Before(o.DateStart) {
		return domain.NewValidationError("date_end", "date_end must not be before date_start")
	}
	if o.Slot == "" {
		o.Slot = domain.SlotAllDay
	}
	if !service.Slotted() {
		if o.Slot != domain.SlotAllDay {
			return domain.Invalid("slot", domain.ErrInvalidSlot)
		}
		return nil
	}
	for d := o.DateStart; !d.After(o.DateEnd) && d.Before(o.DateStart.AddDate(0, 0, 7)); d = d.AddDate(0, 0, 1) {
		if w, ok := schedule.WindowFor(d, o.Slot); ok && w.ID() == o.Slot {
			return nil
		}
	}
	return domain.Invalid("slot", domain.ErrInvalidSlot)
}

// Overview reports every service on date. Daily services report their ALL_DAY
// bucket. Slotted services report the given window, or the sum of the day's
// windows when slot is empty.
func (s *capacityService) Overview(ctx context.Context, date time.Time, slot string) (*domain.CapacityOverview, error) {
	window := ""
	if slot != "" && !strings.EqualFold(slot, domain.SlotAllDay) {
		w, err := schedule.CanonicalSlot(date, slot)
		if err != nil {
			return nil, err
		}
		window = w
	}
	lines := make([]domain.CapacityLine, len(domain.ServiceKeys))

	g, gctx := errgroup.WithContext(ctx)
	for i, service := range domain.ServiceKeys {
		keys := overviewKeys(service, date, window)
		g.Go(func() error {
			var line domain.CapacityLine
			for _, key := range keys {
				capacity, err := s.GetCapacity(gctx, key)
				if err != nil {
					return err
				}
				consumed, err := s.GetConsumed(gctx, key)
				if err != nil {
					return err
				}
				line = line.Add(domain.NewCapacityLine(capacity, consumed))
			}
			lines[i] = line
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if slot = window; slot == "" {
		slot = domain.SlotAllDay
	}
	out := &domain.CapacityOverview{
		Date:     domain.FormatDate(date),
		Slot:     slot,
		Services: make(map[string]domain.CapacityLine, len(lines)+1),
	}
	var boarding domain.CapacityLine
	for i, service := range domain.ServiceKeys {
		out.Services[string(service)] = lines[i]
		if service.IsBoarding() {
			boarding = boarding.Add(lines[i])
		}
	}
	out.Services[domain.AggregateBoarding] = boarding
	return out, nil
}

func overviewKeys(service domain.ServiceKey, date time.Time, window string) []domain.CapacityKey {
	switch {
	case !service.Slotted():
		return []domain.CapacityKey{domain.NewCapacityKey(service, date, domain.SlotAllDay)}
	case window != "":
		return []domain.CapacityKey{domain.NewCapacityKey(service, date, window)}
	}
	var keys []domain.CapacityKey
	for _, w := range schedule.WindowsFor(date) {
		keys = append(keys, domain.NewCapacityKey(service, date, w.ID()))
	}
	return keys
}

// Reconcile rewrites every counter of a day from its live holds. It repairs the
// drift left by a crash between reserve and hold persistence. Holds that are
// mid-creation while it runs are not yet visible, so it is meant for quiet periods.
func (s *capacityService) Reconcile(ctx context.Context, date time.Time) (adjustments []CounterAdjustment, err error) {
	if s.holds == nil {
		return nil, errors.New("reconcile: no hold counter configured")
	}
	day := domain.Day(date)
	ctx, span := tracer().Start(ctx, "capacity.Reconcile", trace.WithAttributes(attribute.String("date", domain.FormatDate(day))))
	defer func() { endSpan(span, err) }()

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		counters, err := s.repo.ListCounters(txCtx, day)
		if err != nil {
			return err
		}
		live, err := s.holds.CountLive(txCtx, day)
		if err != nil {
			return err
		}

		keys := make(map[domain.CapacityKey]struct{}, len(counters)+len(live))
		for k := range counters {
			keys[k] = struct{}{}
		}
		for k := range live {
			keys[k] = struct{}{}
		}

		for k := range keys {
			if counters[k] == live[k] {
				continue
			}
			if err := s.repo.SetConsumed(txCtx, k, live[k]); err != nil {
				return err
			}
			adjustments = append(adjustments, CounterAdjustment{
				Service:  k.Service,
				Date:     domain.FormatDate(k.Date),
				Slot:     k.Slot,
				Previous: counters[k],
				Current:  live[k],
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", domain.FormatDate(day), err)
	}

	for _, a := range adjustments {
		logger.WarnContext(ctx, "Capacity counter reconciled",
			"service", a.Service, "date", a.Date, "slot", a.Slot, "previous", a.Previous, "current", a.Current)
	}
	return adjustments, nil
}

func keyAttrs(key domain.CapacityKey) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service", string(key.Service)),
		attribute.String("date", domain.FormatDate(key.Date)),
		attribute.String("slot", key.Slot),
	}
}
