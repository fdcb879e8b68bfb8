package flow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cmmodulados/verabot/internal/messaging"
	"github.com/cmmodulados/verabot/internal/models"
	"github.com/cmmodulados/verabot/internal/store"
)

// mockNotifier records outbound messages for assertions.
type mockNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

type sentMessage struct {
	dest messaging.Destination
	body string
}

func (m *mockNotifier) Send(ctx context.Context, dest messaging.Destination, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{dest: dest, body: body})
	return nil
}

func (m *mockNotifier) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockNotifier) last(t *testing.T) sentMessage {
	t.Helper()
	msgs := m.messages()
	if len(msgs) == 0 {
		t.Fatal("expected at least one sent message")
	}
	return msgs[len(msgs)-1]
}

// mockProvisioner records folder creation calls.
type mockProvisioner struct {
	mu     sync.Mutex
	calls  int
	ready  bool
	folder *models.DriveFolderRef
	err    error
}

func (m *mockProvisioner) Ready() bool { return m.ready }

func (m *mockProvisioner) CreateClientFolder(ctx context.Context, clientName string, contactID int64) (*models.DriveFolderRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.folder, m.err
}

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *store.InMemoryStore, *mockNotifier) {
	t.Helper()
	st := store.NewInMemoryStore()
	notifier := &mockNotifier{}
	engine, err := NewEngine(st, notifier, DefaultDefinition(), opts...)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine, st, notifier
}

func turn(body string) models.Turn {
	return models.Turn{ContactID: 42, TicketID: 7, ContactName: "Cliente", ContactPhone: "5592999990000", Body: body, MediaType: "chat"}
}

func mediaTurn(mediaType string) models.Turn {
	tn := turn("")
	tn.MediaType = mediaType
	return tn
}

func mustStep(t *testing.T, st store.Store, contactID int64, want models.StepID) *models.Conversation {
	t.Helper()
	conv, err := st.FindActiveConversation(contactID)
	if err != nil {
		t.Fatalf("FindActiveConversation failed: %v", err)
	}
	if conv == nil {
		t.Fatalf("expected an active conversation for contact %d", contactID)
	}
	if conv.CurrentStep != want {
		t.Fatalf("expected step %s, got %s", want, conv.CurrentStep)
	}
	return conv
}

func TestFirstMessageCreatesConversationAtWelcome(t *testing.T) {
	engine, st, notifier := newTestEngine(t)

	engine.ProcessUserMessage(context.Background(), turn("oi"))

	mustStep(t, st, 42, models.StepWelcome)
	last := notifier.last(t)
	if last.body != InvalidOptionMessage {
		t.Errorf("free text at welcome should get the invalid-option reply, got %q", last.body)
	}
	if last.dest.TicketID != 7 {
		t.Errorf("reply should route to the turn's ticket, got %d", last.dest.TicketID)
	}
}

func TestWelcomeOptionBranchesToAskName(t *testing.T) {
	engine, st, notifier := newTestEngine(t)

	engine.ProcessUserMessage(context.Background(), turn("1"))

	conv := mustStep(t, st, 42, models.StepAskName)
	if conv.LastMessage != "1" {
		t.Errorf("last message should record the accepted reply, got %q", conv.LastMessage)
	}
	if !strings.Contains(notifier.last(t).body, "seu nome") {
		t.Errorf("expected the name prompt, got %q", notifier.last(t).body)
	}
}

func TestNameCaptureStoresNameAndPersonalizes(t *testing.T) {
	engine, st, notifier := newTestEngine(t)

	engine.ProcessUserMessage(context.Background(), turn("1"))
	engine.ProcessUserMessage(context.Background(), turn("Maria"))

	conv := mustStep(t, st, 42, models.StepConfirmName)
	if conv.StepData.UserName != "Maria" {
		t.Fatalf("expected captured name Maria, got %q", conv.StepData.UserName)
	}
	body := notifier.last(t).body
	if strings.Contains(body, models.NamePlaceholder) {
		t.Error("placeholder must be substituted in the outgoing message")
	}
	if !strings.Contains(body, "Maria") {
		t.Errorf("confirmation should address the user by name, got %q", body)
	}
}

func TestNameStepRejectsMediaWithSingleWarning(t *testing.T) {
	engine, st, notifier := newTestEngine(t)

	engine.ProcessUserMessage(context.Background(), turn("1"))
	before := len(notifier.messages())

	engine.ProcessUserMessage(context.Background(), mediaTurn("image"))
	engine.ProcessUserMessage(context.Background(), mediaTurn("image"))

	mustStep(t, st, 42, models.StepAskName)
	msgs := notifier.messages()
	if len(msgs) != before+1 {
		t.Fatalf("expected exactly one warning for two media attempts, got %d extra", len(msgs)-before)
	}
	if msgs[len(msgs)-1].body != NameValidationErrorMessage {
		t.Errorf("expected the name-type warning, got %q", msgs[len(msgs)-1].body)
	}
}

func TestOptionStepDropsMediaSilently(t *testing.T) {
	engine, st, notifier := newTestEngine(t)

	engine.ProcessUserMessage(context.Background(), turn("1"))
	engine.ProcessUserMessage(context.Background(), turn("Maria"))
	before := len(notifier.messages())

	engine.ProcessUserMessage(context.Background(), mediaTurn("audio"))

	mustStep(t, st, 42, models.StepConfirmName)
	if got := len(notifier.messages()); got != before {
		t.Errorf("media at confirm step must be dropped without a reply, got %d extra", got-before)
	}
}

func TestOptionStepWarnsOnceForInvalidText(t *testing.T) {
	engine, st, notifier := newTestEngine(t)

	engine.ProcessUserMessage(context.Background(), turn("1"))
	engine.ProcessUserMessage(context.Background(), turn("Maria"))
	before := len(notifier.messages())

	engine.ProcessUserMessage(context.Background(), turn("7"))
	engine.ProcessUserMessage(context.Background(), turn("8"))

	mustStep(t, st, 42, models.StepConfirmName)
	msgs := notifier.messages()
	if len(msgs) != before+1 {
		t.Fatalf("expected one warning for two invalid replies, got %d extra", len(msgs)-before)
	}
	if !strings.Contains(msgs[len(msgs)-1].body, "*1* ou *2* ou *10*") {
		t.Errorf("warning should list the accepted options, got %q", msgs[len(msgs)-1].body)
	}
}

func TestConfirmNameProvisionsFolderAndAdvances(t *testing.T) {
	prov := &mockProvisioner{
		ready:  true,
		folder: &models.DriveFolderRef{ID: "folder-1", Name: "Maria - ID42 - 2025-01-01", Link: "https://drive.google.com/drive/folders/folder-1"},
	}
	engine, st, notifier := newTestEngine(t, WithProvisioner(prov))

	engine.ProcessUserMessage(context.Background(), turn("1"))
	engine.ProcessUserMessage(context.Background(), turn("Maria"))
	engine.ProcessUserMessage(context.Background(), turn("1"))

	conv := mustStep(t, st, 42, models.StepRequestProject)
	if prov.calls != 1 {
		t.Fatalf("expected exactly one folder provisioning call, got %d", prov.calls)
	}
	if conv.StepData.DriveFolder == nil || conv.StepData.DriveFolder.ID != "folder-1" {
		t.Errorf("provisioned folder should be recorded in step data, got %+v", conv.StepData.DriveFolder)
	}
	if !strings.Contains(notifier.last(t).body, "projeto") {
		t.Errorf("expected the project request prompt, got %q", notifier.last(t).body)
	}
}

func TestProvisioningFailureDoesNotBlockFlow(t *testing.T) {
	prov := &mockProvisioner{ready: true, err: context.DeadlineExceeded}
	engine, st, _ := newTestEngine(t, WithProvisioner(prov))

	engine.ProcessUserMessage(context.Background(), turn("1"))
	engine.ProcessUserMessage(context.Background(), turn("Maria"))
	engine.ProcessUserMessage(context.Background(), turn("1"))

	conv := mustStep(t, st, 42, models.StepRequestProject)
	if conv.StepData.DriveFolder != nil {
		t.Error("failed provisioning must not record a folder")
	}
}

func TestFileStepAdvancesToTransferAndFinalizes(t *testing.T) {
	engine, st, notifier := newTestEngine(t)

	engine.ProcessUserMessage(context.Background(), turn("1"))
	engine.ProcessUserMessage(context.Background(), turn("Maria"))
	engine.ProcessUserMessage(context.Background(), turn("1"))
	engine.ProcessUserMessage(context.Background(), mediaTurn("document"))

	conv, err := st.FindActiveConversation(42)
	if err != nil {
		t.Fatalf("FindActiveConversation failed: %v", err)
	}
	if conv != nil {
		t.Fatalf("conversation should be finalized after transfer, still at %s", conv.CurrentStep)
	}

	all, err := st.ListConversations()
	if err != nil || len(all) != 1 {
		t.Fatalf("expected one archived conversation, got %d (err %v)", len(all), err)
	}
	if !all[0].TransferredToHuman || all[0].IsActive {
		t.Errorf("archived conversation should be inactive and transferred, got %+v", all[0])
	}
	if all[0].LastMessage != FileReceivedMarker {
		t.Errorf("file step should record %q, got %q", FileReceivedMarker, all[0].LastMessage)
	}

	body := notifier.last(t).body
	if !strings.Contains(body, "Maria") || strings.Contains(body, models.NamePlaceholder) {
		t.Errorf("transfer message should be personalized, got %q", body)
	}
}

func TestSpecialActionRestartsToWelcome(t *testing.T) {
	engine, st, notifier := newTestEngine(t)

	engine.ProcessUserMessage(context.Background(), turn("1"))
	engine.ProcessUserMessage(context.Background(), turn("10"))

	mustStep(t, st, 42, models.StepWelcome)
	if !strings.Contains(notifier.last(t).body, "Vera D'Or") {
		t.Errorf("restart should resend the welcome message, got %q", notifier.last(t).body)
	}
}

func TestStoreAddressReturnsToWelcome(t *testing.T) {
	engine, st, _ := newTestEngine(t)

	engine.ProcessUserMessage(context.Background(), turn("5"))
	mustStep(t, st, 42, models.StepStoreAddress)

	engine.ProcessUserMessage(context.Background(), turn("0"))
	mustStep(t, st, 42, models.StepWelcome)
}

func TestWelcomeOption4TransfersImmediately(t *testing.T) {
	engine, st, notifier := newTestEngine(t)

	engine.ProcessUserMessage(context.Background(), turn("4"))

	conv, err := st.FindActiveConversation(42)
	if err != nil {
		t.Fatalf("FindActiveConversation failed: %v", err)
	}
	if conv != nil {
		t.Fatal("payment option should finalize the conversation")
	}
	if !strings.Contains(notifier.last(t).body, "Projetistas") {
		t.Errorf("expected the transfer message, got %q", notifier.last(t).body)
	}
}

func TestHandleWebhookDebouncesBurst(t *testing.T) {
	debouncer := NewDebouncer(WithWindow(20 * time.Millisecond))
	engine, st, notifier := newTestEngine(t, WithDebouncer(debouncer))
	defer debouncer.Stop()

	payload := func(body string) models.WebhookPayload {
		return models.WebhookPayload{
			Type: "messages:created",
			Data: models.WebhookMessageData{
				ContactID: 42, TicketID: 7, Body: body, MediaType: "chat",
				Contact: models.WebhookContact{ID: 42, Name: "Cliente", Number: "5592999990000"},
			},
		}
	}

	engine.HandleWebhook(context.Background(), payload("9"))
	engine.HandleWebhook(context.Background(), payload("1"))

	time.Sleep(80 * time.Millisecond)

	// Only the last message of the burst is processed: "1" branches.
	mustStep(t, st, 42, models.StepAskName)
	if len(notifier.messages()) != 1 {
		t.Errorf("expected one reply for the coalesced burst, got %d", len(notifier.messages()))
	}

	flags, err := st.GetContactFlags(42)
	if err != nil || flags == nil {
		t.Fatalf("expected contact flags to be saved, got %v (err %v)", flags, err)
	}
	if flags.LastMessage != "1" {
		t.Errorf("flags should record the latest message, got %q", flags.LastMessage)
	}
}

func TestHandleWebhookSkipsPausedContact(t *testing.T) {
	debouncer := NewDebouncer(WithWindow(10 * time.Millisecond))
	engine, st, notifier := newTestEngine(t, WithDebouncer(debouncer))
	defer debouncer.Stop()

	if err := st.SaveContactFlags(models.ContactFlags{ContactID: 42, Paused: true}); err != nil {
		t.Fatalf("SaveContactFlags failed: %v", err)
	}

	engine.HandleWebhook(context.Background(), models.WebhookPayload{
		Data: models.WebhookMessageData{ContactID: 42, TicketID: 7, Body: "1", MediaType: "chat"},
	})
	time.Sleep(50 * time.Millisecond)

	conv, _ := st.FindActiveConversation(42)
	if conv != nil {
		t.Error("paused contact must not start a conversation")
	}
	if len(notifier.messages()) != 0 {
		t.Errorf("paused contact must get no replies, got %d", len(notifier.messages()))
	}
}

func TestHandleWebhookSkipsContactInHumanService(t *testing.T) {
	debouncer := NewDebouncer(WithWindow(10 * time.Millisecond))
	engine, st, notifier := newTestEngine(t, WithDebouncer(debouncer))
	defer debouncer.Stop()

	if err := st.SaveContactFlags(models.ContactFlags{ContactID: 42, InHumanService: true}); err != nil {
		t.Fatalf("SaveContactFlags failed: %v", err)
	}

	engine.HandleWebhook(context.Background(), models.WebhookPayload{
		Data: models.WebhookMessageData{ContactID: 42, TicketID: 7, Body: "1", MediaType: "chat"},
	})
	time.Sleep(50 * time.Millisecond)

	if len(notifier.messages()) != 0 {
		t.Errorf("contact in human service must get no replies, got %d", len(notifier.messages()))
	}
}

func TestUnknownStepResetsToWelcome(t *testing.T) {
	engine, st, notifier := newTestEngine(t)

	engine.ProcessUserMessage(context.Background(), turn("1"))
	engine.ProcessUserMessage(context.Background(), turn("Maria"))
	mustStep(t, st, 42, models.StepConfirmName)

	// Simulate a stale row pointing at a step a later script revision
	// removed.
	if err := st.UpdateConversationStep(42, "ghost_step", nil, ""); err != nil {
		t.Fatalf("UpdateConversationStep failed: %v", err)
	}

	engine.ProcessUserMessage(context.Background(), turn("1"))

	conv := mustStep(t, st, 42, models.StepWelcome)
	if !conv.StepData.IsZero() {
		t.Errorf("restart must clear accumulated step data, got %+v", conv.StepData)
	}
	if !strings.Contains(notifier.last(t).body, "Vera D'Or") {
		t.Errorf("restart should resend the welcome message, got %q", notifier.last(t).body)
	}
}

func TestNewEngineRejectsBrokenDefinition(t *testing.T) {
	st := store.NewInMemoryStore()
	broken := Definition{models.StepWelcome: {ID: models.StepWelcome, Next: "nowhere"}}
	if _, err := NewEngine(st, &mockNotifier{}, broken); err == nil {
		t.Fatal("expected NewEngine to reject a broken script")
	}
}
