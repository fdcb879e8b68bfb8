package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cmmodulados/verabot/internal/messaging"
	"github.com/cmmodulados/verabot/internal/models"
	"github.com/cmmodulados/verabot/internal/store"
)

// FolderProvisioner creates the per-client folder on the identity
// confirmation transition. Implementations live in internal/drive.
type FolderProvisioner interface {
	// Ready reports whether the provisioner is configured.
	Ready() bool

	// CreateClientFolder provisions a folder for the client and returns
	// its handle.
	CreateClientFolder(ctx context.Context, clientName string, contactID int64) (*models.DriveFolderRef, error)
}

// Engine is the conversation state machine. Given a contact's current
// step and a debounced turn it decides the next step, triggers side
// effects, and persists the transition. All collaborator state (debounce
// timers, warning counters) is owned by the constructed instance.
type Engine struct {
	store       store.Store
	notifier    messaging.Notifier
	def         Definition
	policy      *ValidationPolicy
	debouncer   *Debouncer
	provisioner FolderProvisioner
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithDebouncer replaces the default 3 second debouncer.
func WithDebouncer(d *Debouncer) EngineOption {
	return func(e *Engine) { e.debouncer = d }
}

// WithValidationPolicy replaces the default validation policy instance.
func WithValidationPolicy(p *ValidationPolicy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

// WithProvisioner sets the client folder provisioner.
func WithProvisioner(p FolderProvisioner) EngineOption {
	return func(e *Engine) { e.provisioner = p }
}

// NewEngine creates an Engine over the given store, notifier and script.
// The definition must already be validated; NewEngine re-checks it and
// returns an error on a broken script so a misconfigured deploy fails at
// boot instead of mid-conversation.
func NewEngine(st store.Store, notifier messaging.Notifier, def Definition, opts ...EngineOption) (*Engine, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flow definition: %w", err)
	}
	e := &Engine{
		store:    st,
		notifier: notifier,
		def:      def,
		policy:   NewValidationPolicy(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.debouncer == nil {
		e.debouncer = NewDebouncer()
	}
	slog.Debug("Engine created", "steps", len(def))
	return e, nil
}

// Debouncer exposes the engine's debouncer for shutdown.
func (e *Engine) Debouncer() *Debouncer { return e.debouncer }

// HandleWebhook feeds one gated webhook payload into the debounce layer.
// Contacts whose bot is paused or who are already in human service are
// skipped here; everything else becomes a pending turn that fires after
// the quiescence window.
func (e *Engine) HandleWebhook(ctx context.Context, payload models.WebhookPayload) {
	turn := models.TurnFromWebhook(payload)

	flags, err := e.store.GetContactFlags(turn.ContactID)
	if err != nil {
		slog.Error("Engine HandleWebhook failed to load contact flags", "error", err, "contactID", turn.ContactID)
		// Fall through: a flags read failure must not drop the turn.
	}
	if flags != nil && (flags.Paused || flags.InHumanService) {
		slog.Info("Engine skipping contact by flags", "contactID", turn.ContactID, "paused", flags.Paused, "inHumanService", flags.InHumanService)
		return
	}

	updated := models.ContactFlags{ContactID: turn.ContactID, LastMessage: turn.Body}
	if flags != nil {
		updated = *flags
		updated.LastMessage = turn.Body
	}
	if err := e.store.SaveContactFlags(updated); err != nil {
		slog.Error("Engine HandleWebhook failed to save contact flags", "error", err, "contactID", turn.ContactID)
	}

	e.debouncer.Schedule(turn.ContactID, turn, func(t models.Turn) {
		e.ProcessUserMessage(context.Background(), t)
	})
}

// ProcessUserMessage processes one debounced turn. Nothing escapes it: on
// any unexpected failure the generic error template is sent best-effort
// and the error is logged and swallowed.
func (e *Engine) ProcessUserMessage(ctx context.Context, turn models.Turn) {
	slog.Info("Engine processing turn", "contactID", turn.ContactID, "ticketID", turn.TicketID, "mediaType", turn.MediaType)

	if err := e.processTurn(ctx, turn); err != nil {
		slog.Error("Engine turn failed", "error", err, "contactID", turn.ContactID)
		e.send(ctx, turn, ErrorMessage)
	}
}

// processTurn finds or creates the active conversation and dispatches on
// the current step's shape.
func (e *Engine) processTurn(ctx context.Context, turn models.Turn) error {
	conv, err := e.store.FindActiveConversation(turn.ContactID)
	if err != nil {
		return fmt.Errorf("find active conversation: %w", err)
	}

	if conv == nil {
		slog.Debug("Engine creating conversation", "contactID", turn.ContactID)
		conv, err = e.store.CreateConversation(models.Conversation{
			ContactID:    turn.ContactID,
			TicketID:     turn.TicketID,
			ContactName:  turn.ContactName,
			ContactPhone: turn.ContactPhone,
			CurrentStep:  models.StepWelcome,
			IsActive:     true,
		})
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
	}

	body := strings.TrimSpace(turn.Body)

	step, ok := e.def.Get(conv.CurrentStep)
	if !ok {
		slog.Error("Engine step not found", "step", conv.CurrentStep, "contactID", turn.ContactID)
		return e.restart(ctx, turn)
	}
	slog.Debug("Engine dispatching step", "step", step.ID, "contactID", turn.ContactID)

	switch {
	case step.ExpectsText:
		return e.handleTextInput(ctx, conv, step, body, turn)
	case step.ExpectsFile:
		return e.handleFileInput(ctx, conv, step, body, turn)
	default:
		return e.handleOptionInput(ctx, conv, step, body, turn)
	}
}

// handleTextInput processes free-text capture steps (the name step).
func (e *Engine) handleTextInput(ctx context.Context, conv *models.Conversation, step Step, body string, turn models.Turn) error {
	if target, ok := step.SpecialActions[body]; ok {
		return e.transitionTo(ctx, conv, target, body, turn)
	}

	if step.ID == models.StepAskName {
		result := e.policy.ValidateName(turn.ContactID, turn.MediaType)
		if !result.IsValid {
			if result.ShouldRespond {
				slog.Info("Engine sending name type warning", "contactID", turn.ContactID, "attempt", result.AttemptCount)
				e.send(ctx, turn, NameValidationErrorMessage)
			}
			return nil
		}
	}

	if body == "" {
		e.send(ctx, turn, InvalidOptionMessage)
		return nil
	}

	conv.StepData.UserName = body
	return e.transitionTo(ctx, conv, step.Next, body, turn)
}

// handleFileInput processes file-capture steps. The reference behavior is
// loose here: any non-empty message or attachment counts as the file.
func (e *Engine) handleFileInput(ctx context.Context, conv *models.Conversation, step Step, body string, turn models.Turn) error {
	if target, ok := step.SpecialActions[body]; ok {
		return e.transitionTo(ctx, conv, target, body, turn)
	}

	if body == "" && Classify(turn.MediaType) == models.MessageKindChat {
		e.send(ctx, turn, InvalidOptionMessage)
		return nil
	}

	slog.Debug("Engine file received, advancing", "contactID", turn.ContactID, "mediaType", turn.MediaType)
	return e.transitionTo(ctx, conv, step.Next, FileReceivedMarker, turn)
}

// handleOptionInput processes numeric option steps.
func (e *Engine) handleOptionInput(ctx context.Context, conv *models.Conversation, step Step, body string, turn models.Turn) error {
	if step.ID == models.StepConfirmName {
		result := e.policy.ValidateOption(turn.ContactID, turn.MediaType, body, step.ValidOptions)
		if !result.IsValid {
			if result.ShouldRespond {
				slog.Info("Engine sending option warning", "contactID", turn.ContactID, "attempt", result.AttemptCount)
				e.send(ctx, turn, OptionValidationErrorMessage(step.ValidOptions))
			}
			return nil
		}
	}

	if !step.HasOption(body) {
		e.send(ctx, turn, InvalidOptionMessage)
		return nil
	}

	target := step.SpecialActions[body]
	if target == "" {
		if t, ok := step.Branches[body]; ok {
			target = t
		} else {
			target = step.Next
		}
	}
	if target == "" {
		slog.Error("Engine no target for accepted option", "step", step.ID, "option", body)
		e.send(ctx, turn, InvalidOptionMessage)
		return nil
	}

	if step.ID == models.StepConfirmName && body == "1" {
		e.provisionClientFolder(ctx, conv)
	}

	return e.transitionTo(ctx, conv, target, body, turn)
}

// transitionTo persists the step change and emits the target message.
func (e *Engine) transitionTo(ctx context.Context, conv *models.Conversation, target models.StepID, lastMessage string, turn models.Turn) error {
	if err := e.store.UpdateConversationStep(conv.ContactID, target, &conv.StepData, lastMessage); err != nil {
		return fmt.Errorf("persist transition to %s: %w", target, err)
	}
	return e.goToStep(ctx, turn, target)
}

// goToStep emits the message of the given step, personalizing it from the
// freshly loaded conversation. Transfer steps additionally finalize the
// conversation. A dangling step id forces a restart.
func (e *Engine) goToStep(ctx context.Context, turn models.Turn, stepID models.StepID) error {
	step, ok := e.def.Get(stepID)
	if !ok {
		slog.Error("Engine target step not found", "step", stepID, "contactID", turn.ContactID)
		return e.restart(ctx, turn)
	}

	message, err := e.personalize(turn.ContactID, step.Message)
	if err != nil {
		return err
	}

	if step.TransferStep {
		slog.Info("Engine transferring to human", "contactID", turn.ContactID, "ticketID", turn.TicketID)
		e.send(ctx, turn, message)
		if err := e.store.FinalizeConversation(turn.ContactID); err != nil {
			return fmt.Errorf("finalize conversation: %w", err)
		}
		return nil
	}

	slog.Debug("Engine sending step message", "step", step.ID, "contactID", turn.ContactID)
	e.send(ctx, turn, message)
	return nil
}

// personalize substitutes the [nome] placeholder with the captured user
// name, if one has been stored.
func (e *Engine) personalize(contactID int64, message string) (string, error) {
	conv, err := e.store.FindActiveConversation(contactID)
	if err != nil {
		return "", fmt.Errorf("load conversation for personalization: %w", err)
	}
	if conv != nil && conv.StepData.UserName != "" {
		return strings.ReplaceAll(message, models.NamePlaceholder, conv.StepData.UserName), nil
	}
	return message, nil
}

// restart resets the conversation to the welcome step with empty step
// data, clears the contact's warning budgets, and emits the welcome
// message.
func (e *Engine) restart(ctx context.Context, turn models.Turn) error {
	slog.Info("Engine restarting conversation", "contactID", turn.ContactID)

	if err := e.store.UpdateConversationStep(turn.ContactID, models.StepWelcome, &models.StepData{}, ""); err != nil {
		return fmt.Errorf("reset conversation: %w", err)
	}
	e.policy.ClearAttempts(turn.ContactID)
	return e.goToStep(ctx, turn, models.StepWelcome)
}

// provisionClientFolder creates the client's folder on confirmed identity.
// Failure or an unconfigured provisioner is non-fatal: the conversation
// proceeds and the folder is recorded into step data only on success.
func (e *Engine) provisionClientFolder(ctx context.Context, conv *models.Conversation) {
	if e.provisioner == nil || !e.provisioner.Ready() {
		slog.Warn("Engine folder provisioner not configured, skipping", "contactID", conv.ContactID)
		return
	}

	clientName := conv.StepData.UserName
	if clientName == "" {
		clientName = conv.ContactName
	}

	slog.Info("Engine provisioning client folder", "contactID", conv.ContactID, "client", clientName)
	folder, err := e.provisioner.CreateClientFolder(ctx, clientName, conv.ContactID)
	if err != nil {
		slog.Error("Engine folder provisioning failed", "error", err, "contactID", conv.ContactID)
		return
	}

	conv.StepData.DriveFolder = folder
	if err := e.store.UpdateConversationStep(conv.ContactID, conv.CurrentStep, &conv.StepData, conv.LastMessage); err != nil {
		slog.Error("Engine failed to record provisioned folder", "error", err, "contactID", conv.ContactID)
		return
	}
	slog.Info("Engine client folder recorded", "contactID", conv.ContactID, "folderID", folder.ID, "link", folder.Link)
}

// send delivers a message best-effort: failures are logged, never
// retried, and never roll back a committed transition.
func (e *Engine) send(ctx context.Context, turn models.Turn, body string) bool {
	dest := messaging.Destination{TicketID: turn.TicketID, Phone: turn.ContactPhone}
	if err := e.notifier.Send(ctx, dest, body); err != nil {
		slog.Error("Engine send failed", "error", err, "ticketID", turn.TicketID, "contactID", turn.ContactID)
		return false
	}
	return true
}
