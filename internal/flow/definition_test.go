package flow

import (
	"strings"
	"testing"

	"github.com/cmmodulados/verabot/internal/models"
)

func TestDefaultDefinitionValidates(t *testing.T) {
	if err := DefaultDefinition().Validate(); err != nil {
		t.Fatalf("shipped script must validate: %v", err)
	}
}

func TestDefaultDefinitionShape(t *testing.T) {
	def := DefaultDefinition()

	welcome, ok := def.Get(models.StepWelcome)
	if !ok {
		t.Fatal("script must contain the welcome step")
	}
	if len(welcome.ValidOptions) != 5 {
		t.Errorf("welcome should offer 5 options, got %d", len(welcome.ValidOptions))
	}
	if welcome.Branches["1"] != models.StepAskName {
		t.Errorf("welcome option 1 should branch to %s, got %s", models.StepAskName, welcome.Branches["1"])
	}

	askName, _ := def.Get(models.StepAskName)
	if !askName.ExpectsText {
		t.Error("ask_name must expect free text")
	}
	if askName.Next != models.StepConfirmName {
		t.Errorf("ask_name should advance to confirm_name, got %s", askName.Next)
	}

	confirm, _ := def.Get(models.StepConfirmName)
	if !strings.Contains(confirm.Message, models.NamePlaceholder) {
		t.Error("confirm_name message must carry the name placeholder")
	}

	project, _ := def.Get(models.StepRequestProject)
	if !project.ExpectsFile {
		t.Error("request_project must expect a file")
	}
	if project.Next != models.StepTransferHuman {
		t.Errorf("request_project should advance to transfer_to_human, got %s", project.Next)
	}

	transfer, _ := def.Get(models.StepTransferHuman)
	if !transfer.TransferStep || !transfer.EndStep {
		t.Error("transfer_to_human must be a terminal transfer step")
	}
}

func TestValidateRejectsMissingWelcome(t *testing.T) {
	def := Definition{
		models.StepAskName: {ID: models.StepAskName, TransferStep: true},
	}
	if err := def.Validate(); err == nil {
		t.Fatal("expected error for missing welcome step")
	}
}

func TestValidateRejectsDanglingNext(t *testing.T) {
	def := Definition{
		models.StepWelcome: {ID: models.StepWelcome, Next: "nowhere"},
	}
	if err := def.Validate(); err == nil {
		t.Fatal("expected error for dangling next target")
	}
}

func TestValidateRejectsDanglingBranch(t *testing.T) {
	def := Definition{
		models.StepWelcome: {
			ID:           models.StepWelcome,
			ValidOptions: []string{"1"},
			Branches:     map[string]models.StepID{"1": "nowhere"},
		},
	}
	if err := def.Validate(); err == nil {
		t.Fatal("expected error for dangling branch target")
	}
}

func TestValidateRejectsBranchOutsideOptions(t *testing.T) {
	def := Definition{
		models.StepWelcome: {
			ID:           models.StepWelcome,
			ValidOptions: []string{"1"},
			Branches:     map[string]models.StepID{"2": models.StepWelcome},
		},
	}
	if err := def.Validate(); err == nil {
		t.Fatal("expected error for branch key outside valid options")
	}
}

func TestValidateRejectsTextAndFile(t *testing.T) {
	def := Definition{
		models.StepWelcome: {
			ID:          models.StepWelcome,
			ExpectsText: true,
			ExpectsFile: true,
			Next:        models.StepWelcome,
		},
	}
	if err := def.Validate(); err == nil {
		t.Fatal("expected error for a step expecting both text and file")
	}
}

func TestValidateRejectsDeadEnd(t *testing.T) {
	def := Definition{
		models.StepWelcome: {ID: models.StepWelcome},
	}
	if err := def.Validate(); err == nil {
		t.Fatal("expected error for a non-terminal step with no advance")
	}
}

func TestStepPreview(t *testing.T) {
	s := Step{Message: "linha um\nlinha dois e mais texto"}
	got := s.Preview(12)
	if strings.Contains(got, "\n") {
		t.Error("preview must be single-line")
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("long message preview should be truncated, got %q", got)
	}
}

func TestOptionValidationErrorMessage(t *testing.T) {
	msg := OptionValidationErrorMessage([]string{"1", "2", "10"})
	if !strings.Contains(msg, "*1* ou *2* ou *10*") {
		t.Errorf("message should enumerate the accepted options, got %q", msg)
	}
}
