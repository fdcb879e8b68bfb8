package flow

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/cmmodulados/verabot/internal/models"
)

// MaxWarnings is the per-kind warning budget: only the first consecutive
// invalid attempt gets a corrective reply, the rest are dropped silently
// until a valid attempt resets the counter.
const MaxWarnings = 1

// ValidationResult is the outcome of checking one inbound message.
type ValidationResult struct {
	IsValid       bool
	Kind          models.MessageKind
	ShouldRespond bool
	AttemptCount  int
}

// attemptKey identifies one warning counter: a contact holds an
// independent budget per validation kind.
type attemptKey struct {
	contactID int64
	kind      models.ValidationKind
}

// ValidationPolicy classifies inbound messages and enforces the
// warn-once-then-ignore policy per contact and validation kind. Counters
// are owned by the instance and live for the process.
type ValidationPolicy struct {
	attempts map[attemptKey]int
	mu       sync.Mutex
}

// NewValidationPolicy creates a ValidationPolicy with empty counters.
func NewValidationPolicy() *ValidationPolicy {
	return &ValidationPolicy{
		attempts: make(map[attemptKey]int),
	}
}

// Classify maps a webhook media type onto a message kind. Only chat is
// valid input for name-capture and option-capture steps.
func Classify(mediaType string) models.MessageKind {
	switch mediaType {
	case "chat":
		return models.MessageKindChat
	case "image", "document", "audio", "video":
		return models.MessageKindMedia
	default:
		return models.MessageKindOther
	}
}

// ValidateName checks an input at the name-capture step: anything that is
// not plain text is invalid, with one corrective reply per consecutive
// run of invalid attempts.
func (p *ValidationPolicy) ValidateName(contactID int64, mediaType string) ValidationResult {
	kind := Classify(mediaType)
	key := attemptKey{contactID: contactID, kind: models.ValidationKindName}

	p.mu.Lock()
	defer p.mu.Unlock()

	if kind != models.MessageKindChat {
		p.attempts[key]++
		attempts := p.attempts[key]
		slog.Debug("ValidationPolicy invalid name attempt", "contactID", contactID, "mediaType", mediaType, "attempt", attempts)
		return ValidationResult{
			IsValid:       false,
			Kind:          kind,
			ShouldRespond: attempts <= MaxWarnings,
			AttemptCount:  attempts,
		}
	}

	delete(p.attempts, key)
	return ValidationResult{IsValid: true, Kind: kind, ShouldRespond: true}
}

// ValidateOption checks an input at an option step: media is dropped
// silently without spending the warning budget; text outside the accepted
// set spends the one-warning budget.
func (p *ValidationPolicy) ValidateOption(contactID int64, mediaType, body string, validOptions []string) ValidationResult {
	kind := Classify(mediaType)
	if kind != models.MessageKindChat {
		slog.Debug("ValidationPolicy dropping non-text option input", "contactID", contactID, "mediaType", mediaType)
		return ValidationResult{IsValid: false, Kind: kind, ShouldRespond: false}
	}

	reply := strings.TrimSpace(body)
	valid := false
	for _, opt := range validOptions {
		if opt == reply {
			valid = true
			break
		}
	}

	key := attemptKey{contactID: contactID, kind: models.ValidationKindOption}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !valid {
		p.attempts[key]++
		attempts := p.attempts[key]
		slog.Debug("ValidationPolicy invalid option attempt", "contactID", contactID, "reply", reply, "attempt", attempts)
		return ValidationResult{
			IsValid:       false,
			Kind:          kind,
			ShouldRespond: attempts <= MaxWarnings,
			AttemptCount:  attempts,
		}
	}

	delete(p.attempts, key)
	return ValidationResult{IsValid: true, Kind: kind, ShouldRespond: true}
}

// ClearAttempts resets both counters for a contact; used on conversation
// restart.
func (p *ValidationPolicy) ClearAttempts(contactID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attempts, attemptKey{contactID: contactID, kind: models.ValidationKindName})
	delete(p.attempts, attemptKey{contactID: contactID, kind: models.ValidationKindOption})
	slog.Debug("ValidationPolicy cleared attempts", "contactID", contactID)
}
