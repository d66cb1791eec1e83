// Package notifier mails owners when a booking is confirmed or cancelled.
package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/diagnosis/pawstay-bookings/pkg/events"
	"github.com/diagnosis/pawstay-bookings/pkg/logger"
	"github.com/diagnosis/pawstay-bookings/pkg/mailer"
)

const queue = "notify"

var serviceNames = map[string]string{
	"daycare":        "Daycare",
	"boarding:small": "Boarding (small dog)",
	"boarding:large": "Boarding (large dog)",
	"trial":          "Trial day",
}

type Notifier struct {
	mailer  mailer.Service
	timeout time.Duration
}

func New(m mailer.Service) *Notifier {
	return &Notifier{mailer: m, timeout: 15 * time.Second}
}

// Subscribe registers the booking handlers on a queue group so replicas share the load.
func (n *Notifier) Subscribe(sub events.Subscriber) error {
	if err := sub.QueueSubscribe(events.BookingConfirmed, queue, n.handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", events.BookingConfirmed, err)
	}
	if err := sub.QueueSubscribe(events.BookingCanceled, queue, n.handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", events.BookingCanceled, err)
	}
	return nil
}

func (n *Notifier) handle(msg *events.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, logger.RequestIDKey, msg.ID)

	var ev events.BookingEvent
	if err := msg.Decode(&ev); err != nil {
		logger.ErrorContext(ctx, "Undecodable booking event", "subject", msg.Subject, "error", err)
		return
	}
	if err := n.Notify(ctx, msg.Subject, ev); err != nil {
		logger.ErrorContext(ctx, "Failed to send booking email",
			"subject", msg.Subject, "booking_id", ev.BookingID, "error", err)
	}
}

// Notify sends the plain-text mail for one booking event.
func (n *Notifier) Notify(ctx context.Context, subject string, ev events.BookingEvent) error {
	if ev.UserEmail == "" {
		return nil
	}
	title, body := render(subject, ev)
	if title == "" {
		return nil
	}
	id, err := n.mailer.Send(ctx, ev.UserEmail, "", title, body)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "Booking email sent", "booking_id", ev.BookingID, "message_id", id)
	return nil
}

func render(subject string, ev events.BookingEvent) (string, string) {
	name := serviceNames[ev.ServiceKey]
	if name == "" {
		name = ev.ServiceKey
	}
	when := ev.Date
	if ev.Slot != "" && ev.Slot != "ALL_DAY" {
		when += " " + ev.Slot
	}

	var b strings.Builder
	switch subject {
	case events.BookingConfirmed:
		fmt.Fprintf(&b, "Your %s booking on %s is confirmed.\n\n", name, when)
		fmt.Fprintf(&b, "Total paid: %s %s\n", ev.Total, ev.Currency)
		fmt.Fprintf(&b, "Booking reference: %s\n", ev.BookingID)
		return "Your PawStay booking is confirmed", b.String()
	case events.BookingCanceled:
		fmt.Fprintf(&b, "Your %s booking on %s has been cancelled.\n", name, when)
		if ev.Reason != "" {
			fmt.Fprintf(&b, "Reason: %s\n", ev.Reason)
		}
		b.WriteString("Any payment taken has been refunded to the original card.\n")
		fmt.Fprintf(&b, "Booking reference: %s\n", ev.BookingID)
		return "Your PawStay booking was cancelled", b.String()
	default:
		return "", ""
	}
}
