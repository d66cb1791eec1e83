// Package pricing computes deterministic prices under an explicitly chosen model.
// Results are never stored here; callers snapshot them onto bookings.
package pricing

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/diagnosis/pawstay-bookings/pkg/config"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
)

// Model is the pricing version a charge is computed under.
type Model string

const (
	ModelHoursV1    Model = "hours_v1"
	ModelCalendarV2 Model = "calendar_v2"
)

const Currency = "EUR"

func ParseModel(s string) (Model, error) {
	switch m := Model(strings.ToLower(strings.TrimSpace(s))); m {
	case ModelHoursV1, ModelCalendarV2:
		return m, nil
	default:
		return "", domain.NewValidationError("model", "unknown pricing model %q", s)
	}
}

type PickupWindow string

const (
	PickupAM PickupWindow = "AM"
	PickupPM PickupWindow = "PM"
)

// Result is a computed price. Nights, PerNight and PMSurcharge are zero for flat services.
type Result struct {
	Total       decimal.Decimal `json:"total"`
	Nights      int             `json:"nights,omitempty"`
	PerNight    decimal.Decimal `json:"per_night"`
	PMSurcharge decimal.Decimal `json:"pm_surcharge"`
	Model       Model           `json:"model"`
	Currency    string          `json:"currency"`
}

// AmountCents is the total in minor units for the payment gateway.
func (r Result) AmountCents() int64 {
	return r.Total.Shift(2).Round(0).IntPart()
}

// Snapshot is the audit copy attached to a booking.
func (r Result) Snapshot() domain.PriceSnapshot {
	s := domain.PriceSnapshot{
		Total:       r.Total.StringFixed(2),
		Currency:    r.Currency,
		Model:       string(r.Model),
		Nights:      r.Nights,
		AmountCents: r.AmountCents(),
	}
	if r.Nights > 0 {
		s.PerNight = r.PerNight.StringFixed(2)
		s.PMSurcharge = r.PMSurcharge.StringFixed(2)
	}
	return s
}

// BoardingInput describes a boarding stay. PickupWindow wins over CheckoutTimeLabel,
// which wins over the checkout clock time.
type BoardingInput struct {
	DogCount          int
	CheckIn           time.Time
	CheckOut          time.Time
	CheckoutTimeLabel string
	PickupWindow      PickupWindow
}

// RatesV2 is the calendar_v2 rate table.
type RatesV2 struct {
	DaycareFlat      decimal.Decimal
	TrialFlat        decimal.Decimal
	BoardingSingle   decimal.Decimal
	BoardingMulti    decimal.Decimal
	PMSurcharge      decimal.Decimal
	PMSurchargeNight int
}

// RatesFromConfig parses the v2 table. It returns nil when any rate is missing.
func RatesFromConfig(cfg config.PricingConfig) (*RatesV2, error) {
	raw := []string{cfg.V2DaycareFlat, cfg.V2TrialFlat, cfg.V2BoardingSingle, cfg.V2BoardingMulti, cfg.V2PMSurcharge}
	vals := make([]decimal.Decimal, len(raw))
	for i, s := range raw {
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("parse v2 rate %q: %w", s, err)
		}
		vals[i] = d
	}
	nights := cfg.V2PMSurchargeNights
	if nights < 1 {
		nights = 2
	}
	return &RatesV2{
		DaycareFlat:      vals[0],
		TrialFlat:        vals[1],
		BoardingSingle:   vals[2],
		BoardingMulti:    vals[3],
		PMSurcharge:      vals[4],
		PMSurchargeNight: nights,
	}, nil
}

var (
	v1Flat           = decimal.NewFromInt(20)
	v1PerNightSingle = decimal.NewFromInt(25)
	v1PerNightMulti  = decimal.NewFromInt(40)
	v1PMSurcharge    = decimal.NewFromInt(10)
)

// Engine prices services. loc is the facility time zone used for calendar counting
// and for reading the pickup hour.
type Engine struct {
	v2  *RatesV2
	loc *time.Location
}

func NewEngine(loc *time.Location, v2 *RatesV2) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{v2: v2, loc: loc}
}

func (e *Engine) Daycare(model Model) (Result, error) {
	return e.flat(model, func(r *RatesV2) decimal.Decimal { return r.DaycareFlat })
}

func (e *Engine) Trial(model Model) (Result, error) {
	return e.flat(model, func(r *RatesV2) decimal.Decimal { return r.TrialFlat })
}

func (e *Engine) flat(model Model, v2 func(*RatesV2) decimal.Decimal) (Result, error) {
	switch model {
	case ModelHoursV1:
		return newResult(model, v1Flat), nil
	case ModelCalendarV2:
		if e.v2 == nil {
			return Result{}, domain.ErrModelNotConfigured
		}
		return newResult(model, v2(e.v2)), nil
	default:
		return Result{}, domain.NewValidationError("model", "unknown pricing model %q", model)
	}
}

func (e *Engine) Boarding(in BoardingInput, model Model) (Result, error) {
	if in.DogCount < 1 {
		return Result{}, domain.Invalid("dog_count", domain.ErrInvalidDogCount)
	}
	if !in.CheckOut.After(in.CheckIn) {
		return Result{}, domain.Invalid("checkout", domain.ErrInvalidStayRange)
	}
	pickup, err := e.pickupWindow(in)
	if err != nil {
		return Result{}, err
	}

	switch model {
	case ModelHoursV1:
		elapsed := in.CheckOut.Sub(in.CheckIn)
		hours := int(math.Ceil(elapsed.Hours()))
		nights := max(1, int(math.Ceil(float64(hours)/24)))
		perNight := v1PerNightSingle
		if in.DogCount >= 2 {
			perNight = v1PerNightMulti
		}
		surcharge := decimal.Zero
		if pickup == PickupPM && elapsed < 48*time.Hour {
			surcharge = v1PMSurcharge
		}
		return boardingResult(model, nights, perNight, surcharge), nil

	case ModelCalendarV2:
		if e.v2 == nil {
			return Result{}, domain.ErrModelNotConfigured
		}
		nights := max(1, calendarNights(in.CheckIn.In(e.loc), in.CheckOut.In(e.loc)))
		perNight := e.v2.BoardingSingle
		if in.DogCount >= 2 {
			perNight = e.v2.BoardingMulti
		}
		surcharge := decimal.Zero
		if pickup == PickupPM && nights < e.v2.PMSurchargeNight {
			surcharge = e.v2.PMSurcharge
		}
		return boardingResult(model, nights, perNight, surcharge), nil

	default:
		return Result{}, domain.NewValidationError("model", "unknown pricing model %q", model)
	}
}

// Quote dispatches on the service key.
func (e *Engine) Quote(service domain.ServiceKey, in BoardingInput, model Model) (Result, error) {
	switch {
	case service == domain.ServiceDaycare:
		return e.Daycare(model)
	case service == domain.ServiceTrial:
		return e.Trial(model)
	case service.IsBoarding():
		return e.Boarding(in, model)
	default:
		return Result{}, domain.NewValidationError("service", "unknown service %q", service)
	}
}

func (e *Engine) pickupWindow(in BoardingInput) (PickupWindow, error) {
	switch PickupWindow(strings.ToUpper(strings.TrimSpace(string(in.PickupWindow)))) {
	case PickupAM:
		return PickupAM, nil
	case PickupPM:
		return PickupPM, nil
	case "":
	default:
		return "", domain.NewValidationError("pickup_window", "pickup window must be AM or PM")
	}

	if label := strings.TrimSpace(in.CheckoutTimeLabel); label != "" {
		hour, ok := labelHour(label)
		if !ok {
			return "", domain.NewValidationError("checkout_time_label", "unrecognised checkout time %q", label)
		}
		return windowForHour(hour), nil
	}
	return windowForHour(in.CheckOut.In(e.loc).Hour()), nil
}

// labelHour reads the leading hour of "16:00" or "16:00-18:00" style labels.
func labelHour(label string) (int, bool) {
	if len(label) < 5 || label[2] != ':' {
		return 0, false
	}
	t, err := time.Parse("15:04", label[:5])
	if err != nil {
		return 0, false
	}
	return t.Hour(), true
}

func windowForHour(h int) PickupWindow {
	if h >= 12 {
		return PickupPM
	}
	return PickupAM
}

func calendarNights(in, out time.Time) int {
	y1, m1, d1 := in.Date()
	y2, m2, d2 := out.Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func newResult(model Model, total decimal.Decimal) Result {
	return Result{Total: total, PerNight: decimal.Zero, PMSurcharge: decimal.Zero, Model: model, Currency: Currency}
}

func boardingResult(model Model, nights int, perNight, surcharge decimal.Decimal) Result {
	total := perNight.Mul(decimal.NewFromInt(int64(nights))).Add(surcharge)
	return Result{
		Total:       total,
		Nights:      nights,
		PerNight:    perNight,
		PMSurcharge: surcharge,
		Model:       model,
		Currency:    Currency,
	}
}
