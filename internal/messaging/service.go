// Package messaging delivers outbound replies to the contact. The
// primary implementation posts to the ticket platform's message API; a
// Twilio-backed notifier is available as a direct WhatsApp fallback.
package messaging

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// DefaultSendTimeout bounds a single outbound delivery attempt.
const DefaultSendTimeout = 10 * time.Second

// phoneNumberRegex matches everything that is not a digit, used to
// canonicalize phone numbers before handing them to a carrier API.
var phoneNumberRegex = regexp.MustCompile(`\D`)

// Destination identifies where a reply goes. The ticket notifier routes
// by TicketID; the Twilio notifier routes by Phone.
type Destination struct {
	TicketID int64
	Phone    string
}

// Notifier sends one outbound message to a destination. Implementations
// must be safe for concurrent use.
type Notifier interface {
	Send(ctx context.Context, dest Destination, body string) error
}

// CanonicalizePhone strips non-digit characters and validates the
// result has enough digits to be a dialable number.
func CanonicalizePhone(phone string) (string, error) {
	if phone == "" {
		return "", fmt.Errorf("phone number cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(phone, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in %q", phone)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	return canonical, nil
}
