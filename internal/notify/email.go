package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/slot-reservations/internal/inventory"
)

// EmailSender delivers a rendered message.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender writes messages to the log instead of an SMTP relay.
type LogSender struct {
	Logger zerolog.Logger
	From   string
}

// Send logs the message at info level.
func (s LogSender) Send(_ context.Context, to, subject, body string) error {
	s.Logger.Info().
		Str("from", s.From).
		Str("to", to).
		Str("subject", subject).
		Int("body_bytes", len(body)).
		Msg("email_sent")
	return nil
}

// EmailNotifier renders booking confirmations.
type EmailNotifier struct {
	Mail     EmailSender
	Currency string
}

// Confirm sends the confirmation for b.
func (n EmailNotifier) Confirm(ctx context.Context, b inventory.Booking) error {
	if n.Mail == nil {
		return errors.New("email notify: sender not configured")
	}
	to := strings.TrimSpace(b.Email)
	if to == "" {
		return nil
	}
	return n.Mail.Send(ctx, to, subjectFor(b), n.bodyFor(b))
}

func subjectFor(b inventory.Booking) string {
	return fmt.Sprintf("Booking confirmed: %s", b.RefID)
}

func (n EmailNotifier) bodyFor(b inventory.Booking) string {
	currency := n.Currency
	if currency == "" {
		currency = "INR"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Hi %s,\n\n", b.Name)
	fmt.Fprintf(&sb, "Your booking %s is confirmed.\n", b.RefID)
	fmt.Fprintf(&sb, "Experience: %s\nDate: %s at %s\nGuests: %d\n", b.ExperienceID, b.Date, b.Time, b.Qty)
	fmt.Fprintf(&sb, "Subtotal: %s %d\nTaxes: %s %d\n", currency, b.Subtotal, currency, b.Taxes)
	if b.Discount > 0 {
		fmt.Fprintf(&sb, "Discount (%s): -%s %d\n", b.PromoCode, currency, b.Discount)
	}
	fmt.Fprintf(&sb, "Total: %s %d\n", currency, b.Total)
	return sb.String()
}
