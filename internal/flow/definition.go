// Package flow implements the conversation flow engine: the scripted step
// directory, the per-contact debouncer, the input validation policy, and
// the state machine that ties them together.
package flow

import (
	"fmt"
	"strings"

	"github.com/cmmodulados/verabot/internal/models"
)

// Step is one node of the dialogue script. Next is the unconditional
// advance target; Branches maps an accepted reply to its target and takes
// precedence over Next when present. SpecialActions are checked before any
// other handling.
type Step struct {
	ID             models.StepID
	Title          string
	Message        string
	ValidOptions   []string
	Next           models.StepID
	Branches       map[string]models.StepID
	SpecialActions map[string]models.StepID
	ExpectsText    bool
	ExpectsFile    bool
	TransferStep   bool
	EndStep        bool
}

// HasOption reports whether reply is one of the step's accepted options.
func (s Step) HasOption(reply string) bool {
	for _, opt := range s.ValidOptions {
		if opt == reply {
			return true
		}
	}
	return false
}

// Definition is the immutable directory of dialogue steps, shared
// read-only by all contacts.
type Definition map[models.StepID]Step

// Get resolves a step by id.
func (d Definition) Get(id models.StepID) (Step, bool) {
	step, ok := d[id]
	return step, ok
}

// Validate checks the script at startup so that a dangling step reference
// is a boot failure instead of a runtime surprise. The engine still keeps
// its restart fallback for defensive safety.
func (d Definition) Validate() error {
	if _, ok := d[models.StepWelcome]; !ok {
		return fmt.Errorf("flow definition has no %q step", models.StepWelcome)
	}
	for id, step := range d {
		if step.ID != id {
			return fmt.Errorf("step %q declares mismatched id %q", id, step.ID)
		}
		if step.ExpectsText && step.ExpectsFile {
			return fmt.Errorf("step %q expects both text and file", id)
		}
		if step.TransferStep || step.EndStep {
			continue
		}
		if step.Next == "" && len(step.Branches) == 0 && len(step.SpecialActions) == 0 {
			return fmt.Errorf("step %q has no way to advance", id)
		}
		if step.Next != "" {
			if _, ok := d[step.Next]; !ok {
				return fmt.Errorf("step %q advances to unknown step %q", id, step.Next)
			}
		}
		for reply, target := range step.Branches {
			if _, ok := d[target]; !ok {
				return fmt.Errorf("step %q branch %q points to unknown step %q", id, reply, target)
			}
			if !step.HasOption(reply) {
				return fmt.Errorf("step %q branch %q is not a valid option", id, reply)
			}
		}
		for reply, target := range step.SpecialActions {
			if _, ok := d[target]; !ok {
				return fmt.Errorf("step %q special action %q points to unknown step %q", id, reply, target)
			}
		}
	}
	return nil
}

// Steps returns the script in no particular order, for listings.
func (d Definition) Steps() []Step {
	steps := make([]Step, 0, len(d))
	for _, s := range d {
		steps = append(steps, s)
	}
	return steps
}

// Preview returns the first n runes of the step message on a single line.
func (s Step) Preview(n int) string {
	msg := strings.ReplaceAll(s.Message, "\n", " ")
	runes := []rune(msg)
	if len(runes) <= n {
		return msg
	}
	return string(runes[:n]) + "..."
}

// System messages used outside the step script.
const (
	InvalidOptionMessage = `❌ Opção inválida. Por favor, escolha uma das opções disponíveis.

*10* - 🔄 Recomeçar o atendimento`

	ErrorMessage = `😔 Ops! Parece que houve um problema técnico.

Por favor, tente novamente em alguns instantes ou entre em contato conosco através do telefone **(92) 94551-471**.

*10* - 🔄 Recomeçar o atendimento

Pedimos desculpas pelo inconveniente! 🙏`

	NameValidationErrorMessage = `❌ Por favor, envie apenas seu nome em texto.

Não é possível processar arquivos, imagens ou outros tipos de mídia nesta etapa.

Digite apenas seu nome para continuar. 😊`

	// FileReceivedMarker is stored as the last message when a file-capture
	// step advances.
	FileReceivedMarker = "Arquivo enviado"
)

// OptionValidationErrorMessage renders the option-error template for the
// given accepted options.
func OptionValidationErrorMessage(validOptions []string) string {
	quoted := make([]string, len(validOptions))
	for i, opt := range validOptions {
		quoted[i] = "*" + opt + "*"
	}
	return fmt.Sprintf(`❌ Opção inválida.

Por favor, escolha apenas %s.

Envie o número da opção desejada. 😊`, strings.Join(quoted, " ou "))
}

// DefaultDefinition returns the shipped triage script: a five-option
// welcome menu, name capture and confirmation, project upload, and
// transfer to a human projetista.
func DefaultDefinition() Definition {
	return Definition{
		models.StepWelcome: {
			ID:    models.StepWelcome,
			Title: "Mensagem de Boas-vindas",
			Message: `Olá! Seja bem-vindo à Cinthia Moreira Modulados 👋
Sou a Vera D'Or, sua atendente virtual 🤖✨
Como posso te ajudar hoje?

*1* - 📐 Já tenho o projeto e quero orçar.
*2* - 📏 Só tenho a planta baixa e quero um projeto.
*3* - 🚫 Não tenho nem o projeto e nem a planta baixa.
*4* - 💳 Quero informações sobre forma de pagamento por boleto bancário.
*5* - 📍 Qual endereço da loja física?

👉 Envie o número da opção desejada.`,
			ValidOptions: []string{"1", "2", "3", "4", "5"},
			Branches: map[string]models.StepID{
				"1": models.StepAskName,
				"2": models.StepConfirmName,
				"3": models.StepRequestProject,
				"4": models.StepTransferHuman,
				"5": models.StepStoreAddress,
			},
		},

		models.StepAskName: {
			ID:    models.StepAskName,
			Title: "Solicitar Nome",
			Message: `Antes de prosseguirmos, você pode me informar seu nome, por gentileza? 😊

*0* - ↩️ Voltar uma etapa
*10* - 🔄 Recomeçar o atendimento`,
			ValidOptions: []string{"0", "10"},
			ExpectsText:  true,
			Next:         models.StepConfirmName,
			SpecialActions: map[string]models.StepID{
				"0":  models.StepWelcome,
				"10": models.StepWelcome,
			},
		},

		models.StepConfirmName: {
			ID:    models.StepConfirmName,
			Title: "Confirmar Nome",
			Message: `Só confirmando, seu nome é [nome], certo? 😊

*1* - Sim
*2* - Não

*10* - 🔄 Recomeçar o atendimento

👉 Envie o número da opção desejada.`,
			ValidOptions: []string{"1", "2", "10"},
			Branches: map[string]models.StepID{
				"1":  models.StepRequestProject,
				"2":  models.StepAskName,
				"10": models.StepWelcome,
			},
		},

		models.StepRequestProject: {
			ID:    models.StepRequestProject,
			Title: "Solicitar Projeto",
			Message: `📎 Pode enviar o projeto aqui mesmo.
Pode ser em PDF, imagem ou qualquer outro formato que você tiver.

👋🛠 Assim que recebermos, um atendente humano vai te chamar por aqui para dar sequência na criação do seu projeto. ✨

Estamos animados para te ajudar a transformar seu ambiente! 🏡

*0* - ↩️ Voltar uma etapa
*10* - 🔄 Recomeçar o atendimento`,
			ValidOptions: []string{"0", "10"},
			ExpectsFile:  true,
			Next:         models.StepTransferHuman,
			SpecialActions: map[string]models.StepID{
				"0":  models.StepConfirmName,
				"10": models.StepWelcome,
			},
		},

		models.StepTransferHuman: {
			ID:    models.StepTransferHuman,
			Title: "Transferir para Humano",
			Message: `✅ Tudo certo por aqui!
Agora vou te encaminhar para o nosso time de Projetistas 💼, que vai continuar te atendendo com toda atenção e carinho. 💖

Aguarde só um instante, [nome]… já estou lhe redirecionando! 🚀`,
			TransferStep: true,
			EndStep:      true,
		},

		models.StepStoreAddress: {
			ID:    models.StepStoreAddress,
			Title: "Endereço da Loja",
			Message: `Esta opção ainda está em desenvolvimento.

*0* - ↩️ Voltar uma etapa
*10* - 🔄 Recomeçar o atendimento`,
			ValidOptions: []string{"0", "10"},
			Branches: map[string]models.StepID{
				"0":  models.StepWelcome,
				"10": models.StepWelcome,
			},
		},
	}
}
