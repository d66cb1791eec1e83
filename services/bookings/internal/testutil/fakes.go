// Package testutil provides in-memory repositories and a recording event bus for
// service and handler tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/diagnosis/pawstay-bookings/pkg/events"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/repository"
)

var (
	_ repository.CapacityRepository = (*CapacityRepo)(nil)
	_ repository.HoldRepository     = (*HoldRepo)(nil)
	_ repository.BookingRepository  = (*BookingRepo)(nil)
	_ repository.DogRepository      = (*DogRepo)(nil)
	_ events.EventBus               = (*RecordingBus)(nil)
)

// txGate serialises WithTx callers the way a row lock would. Nested calls on a
// context that already holds the gate run inline.
type txGate struct {
	mu sync.Mutex
}

type gateKey struct{ g *txGate }

func (g *txGate) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(gateKey{g}) != nil {
		return fn(ctx)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(context.WithValue(ctx, gateKey{g}, true))
}

// CapacityRepo is an in-memory CapacityRepository.
type CapacityRepo struct {
	gate txGate

	mu        sync.Mutex
	defaults  map[domain.ServiceKey]int
	overrides []domain.CapacityOverride
	counters  map[domain.CapacityKey]int
	seq       int

	// GetConsumedErrs are returned, in order, by the next GetConsumed calls.
	GetConsumedErrs []error
	// AddConsumedErr fails every AddConsumed call when set.
	AddConsumedErr error
}

func NewCapacityRepo() *CapacityRepo {
	return &CapacityRepo{
		defaults: make(map[domain.ServiceKey]int),
		counters: make(map[domain.CapacityKey]int),
	}
}

func (r *CapacityRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.gate.run(ctx, fn)
}

func (r *CapacityRepo) GetDefault(_ context.Context, service domain.ServiceKey) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.defaults[service]
	return c, ok, nil
}

func (r *CapacityRepo) ListDefaults(context.Context) (map[domain.ServiceKey]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.ServiceKey]int, len(r.defaults))
	for k, v := range r.defaults {
		out[k] = v
	}
	return out, nil
}

func (r *CapacityRepo) UpsertDefaults(_ context.Context, defaults map[domain.ServiceKey]int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range defaults {
		r.defaults[k] = v
	}
	return nil
}

func (r *CapacityRepo) FindOverride(_ context.Context, key domain.CapacityKey) (*domain.CapacityOverride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.CapacityOverride
	for i := range r.overrides {
		o := r.overrides[i]
		if o.Service != key.Service || o.Slot != key.Slot || !o.Covers(key.Date) {
			continue
		}
		if best == nil || !o.UpdatedAt.Before(best.UpdatedAt) {
			cp := o
			best = &cp
		}
	}
	return best, nil
}

func (r *CapacityRepo) ListOverrides(_ context.Context, date time.Time) ([]domain.CapacityOverride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CapacityOverride
	for _, o := range r.overrides {
		if o.Covers(date) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *CapacityRepo) UpsertOverride(_ context.Context, o domain.CapacityOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Monotonic stamp so "latest write wins" is deterministic in tests.
	r.seq++
	o.UpdatedAt = time.Unix(int64(r.seq), 0).UTC()
	o.DateStart, o.DateEnd = domain.Day(o.DateStart), domain.Day(o.DateEnd)
	for i, cur := range r.overrides {
		if sameOverride(cur, o.Service, o.DateStart, o.DateEnd, o.Slot) {
			r.overrides[i] = o
			return nil
		}
	}
	r.overrides = append(r.overrides, o)
	return nil
}

func (r *CapacityRepo) DeleteOverride(_ context.Context, service domain.ServiceKey, start, end time.Time, slot string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.overrides {
		if sameOverride(cur, service, domain.Day(start), domain.Day(end), slot) {
			r.overrides = append(r.overrides[:i], r.overrides[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func sameOverride(o domain.CapacityOverride, service domain.ServiceKey, start, end time.Time, slot string) bool {
	return o.Service == service && o.Slot == slot && o.DateStart.Equal(start) && o.DateEnd.Equal(end)
}

func (r *CapacityRepo) LockCounter(_ context.Context, key domain.CapacityKey) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[key], nil
}

func (r *CapacityRepo) AddConsumed(_ context.Context, key domain.CapacityKey, delta int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.AddConsumedErr != nil {
		return 0, r.AddConsumedErr
	}
	n := max(r.counters[key]+delta, 0)
	r.counters[key] = n
	return n, nil
}

func (r *CapacityRepo) SetConsumed(_ context.Context, key domain.CapacityKey, consumed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[key] = consumed
	return nil
}

func (r *CapacityRepo) GetConsumed(_ context.Context, key domain.CapacityKey) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.GetConsumedErrs) > 0 {
		err := r.GetConsumedErrs[0]
		r.GetConsumedErrs = r.GetConsumedErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	return r.counters[key], nil
}

func (r *CapacityRepo) ListCounters(_ context.Context, date time.Time) (map[domain.CapacityKey]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	day := domain.Day(date)
	out := make(map[domain.CapacityKey]int)
	for k, v := range r.counters {
		if k.Date.Equal(day) {
			out[k] = v
		}
	}
	return out, nil
}

// Consumed reads a counter directly, bypassing injected errors.
func (r *CapacityRepo) Consumed(key domain.CapacityKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[key]
}

// HoldRepo is an in-memory HoldRepository with a unique idempotency key index.
type HoldRepo struct {
	gate txGate

	mu    sync.Mutex
	byID  map[string]domain.Hold
	byKey map[string]string

	// InsertErr fails every InsertIfAbsent call when set.
	InsertErr error
}

func NewHoldRepo() *HoldRepo {
	return &HoldRepo{byID: make(map[string]domain.Hold), byKey: make(map[string]string)}
}

func (r *HoldRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.gate.run(ctx, fn)
}

func (r *HoldRepo) InsertIfAbsent(_ context.Context, h domain.Hold) (domain.Hold, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.InsertErr != nil {
		return domain.Hold{}, false, r.InsertErr
	}
	if id, ok := r.byKey[h.IdempotencyKey]; ok {
		return r.byID[id], false, nil
	}
	h.Date = domain.Day(h.Date)
	h.UpdatedAt = h.CreatedAt
	r.byID[h.ID] = h
	r.byKey[h.IdempotencyKey] = h.ID
	return h, true, nil
}

func (r *HoldRepo) FindByIdempotencyKey(_ context.Context, key string) (*domain.Hold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byKey[key]
	if !ok {
		return nil, nil
	}
	h := r.byID[id]
	return &h, nil
}

func (r *HoldRepo) GetByID(_ context.Context, id string) (*domain.Hold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (r *HoldRepo) Transition(_ context.Context, id string, from, to domain.HoldStatus, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byID[id]
	if !ok || h.Status != from {
		return false, nil
	}
	h.Status = to
	h.UpdatedAt = at
	r.byID[id] = h
	return true, nil
}

func (r *HoldRepo) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Hold
	for _, h := range r.byID {
		if h.ExpiredAt(now) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *HoldRepo) CountLive(_ context.Context, date time.Time) (map[domain.CapacityKey]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	day := domain.Day(date)
	out := make(map[domain.CapacityKey]int)
	for _, h := range r.byID {
		if h.Status.Live() && h.Date.Equal(day) {
			out[h.Key()]++
		}
	}
	return out, nil
}

// Put stores a hold as-is.
func (r *HoldRepo) Put(h domain.Hold) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[h.ID] = h
	r.byKey[h.IdempotencyKey] = h.ID
}

// BookingRepo is an in-memory BookingRepository.
type BookingRepo struct {
	gate txGate

	mu   sync.Mutex
	byID map[string]domain.Booking
}

func NewBookingRepo() *BookingRepo {
	return &BookingRepo{byID: make(map[string]domain.Booking)}
}

func (r *BookingRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.gate.run(ctx, fn)
}

func (r *BookingRepo) Create(_ context.Context, b domain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.byID {
		if cur.HoldID == b.HoldID {
			return domain.ErrIdempotencyConflict
		}
	}
	b.UpdatedAt = b.CreatedAt
	r.byID[b.ID] = b
	return nil
}

func (r *BookingRepo) find(match func(domain.Booking) bool) *domain.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.byID {
		if match(b) {
			cp := b
			return &cp
		}
	}
	return nil
}

func (r *BookingRepo) GetByID(_ context.Context, id string) (*domain.Booking, error) {
	return r.find(func(b domain.Booking) bool { return b.ID == id }), nil
}

func (r *BookingRepo) GetByHoldID(_ context.Context, holdID string) (*domain.Booking, error) {
	return r.find(func(b domain.Booking) bool { return b.HoldID == holdID }), nil
}

func (r *BookingRepo) GetByPaymentIntent(_ context.Context, intentID string) (*domain.Booking, error) {
	return r.find(func(b domain.Booking) bool { return intentID != "" && b.PaymentIntentID == intentID }), nil
}

func (r *BookingRepo) SetPaymentIntent(_ context.Context, id, intentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byID[id]; ok {
		b.PaymentIntentID = intentID
		r.byID[id] = b
	}
	return nil
}

func (r *BookingRepo) UpdateStatus(_ context.Context, id string, from, to domain.BookingStatus, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = at
	r.byID[id] = b
	return true, nil
}

func (r *BookingRepo) ListByEmail(_ context.Context, email string, _, _ int) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Booking
	for _, b := range r.byID {
		if b.UserEmail == email {
			out = append(out, b)
		}
	}
	return out, nil
}

// DogRepo is an in-memory DogRepository.
type DogRepo struct {
	mu   sync.Mutex
	dogs map[string]domain.Dog
}

func NewDogRepo(dogs ...domain.Dog) *DogRepo {
	r := &DogRepo{dogs: make(map[string]domain.Dog)}
	for _, d := range dogs {
		r.dogs[d.ID] = d
	}
	return r
}

func (r *DogRepo) GetByID(_ context.Context, id string) (*domain.Dog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dogs[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r *DogRepo) MarkTrialCompleted(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dogs[id]
	if !ok {
		return false, nil
	}
	if d.TrialCompletedAt == nil {
		t := at
		d.TrialCompletedAt = &t
		r.dogs[id] = d
	}
	return true, nil
}

// RecordingBus keeps every published event in memory.
type RecordingBus struct {
	mu     sync.Mutex
	Events []Published
}

type Published struct {
	Subject string
	Data    interface{}
}

func (b *RecordingBus) Publish(_ context.Context, subject string, data interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Events = append(b.Events, Published{Subject: subject, Data: data})
	return nil
}

func (b *RecordingBus) Subscribe(string, func(*events.Message)) error              { return nil }
func (b *RecordingBus) QueueSubscribe(string, string, func(*events.Message)) error { return nil }
func (b *RecordingBus) Close() error                                               { return nil }

// Subjects lists published subjects in order.
func (b *RecordingBus) Subjects() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.Events))
	for _, e := range b.Events {
		out = append(out, e.Subject)
	}
	return out
}
