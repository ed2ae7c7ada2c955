// Package conversation implements the WhatsApp chatbot dialogue engine: a pure
// state machine plus the processor that drives it from inbound webhook events.
package conversation

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// State is one of the fixed dialogue states persisted per (professional, phone).
type State string

const (
	StateInitial      State = "INITIAL"
	StateMainMenu     State = "MAIN_MENU"
	StateServicesMenu State = "SERVICES_MENU"
	StateAttendant    State = "ATTENDANT"
	StateClosed       State = "CLOSED"
)

// ParseState maps a stored value back to a State, defaulting to INITIAL for
// anything unknown (first contact or corrupted session rows).
func ParseState(value string) State {
	switch State(value) {
	case StateInitial, StateMainMenu, StateServicesMenu, StateAttendant, StateClosed:
		return State(value)
	default:
		return StateInitial
	}
}

// TransitionResult is what the state machine decides for one inbound message.
type TransitionResult struct {
	NextState State
	Response  string
	ShouldEnd bool
}

// NormalizeInput lowers, trims, strips diacritics (NFD + combining marks) and
// drops everything that is not a letter, digit or whitespace.
func NormalizeInput(input string) string {
	lowered := strings.ToLower(strings.TrimSpace(input))
	decomposed := norm.NFD.String(lowered)

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// resolveOption maps free text onto the fixed menu option codes. Exact digits
// win; keyword matching follows in priority order ("remarcar" must be tested
// before "marcar" since the latter is a substring of the former). Unresolved
// input passes through untouched.
func resolveOption(input string) string {
	switch input {
	case "0", "1", "2", "3", "4":
		return input
	}

	if strings.Contains(input, "remarcar") {
		return "2"
	}
	if strings.Contains(input, "marcar") || strings.Contains(input, "agendar") {
		return "1"
	}
	if strings.Contains(input, "cancelar") {
		return "3"
	}
	if strings.Contains(input, "doutora") || strings.Contains(input, "atendente") ||
		strings.Contains(input, "humano") || strings.Contains(input, "pessoa") {
		return "4"
	}

	return input
}

func mainMenuMessage(doctorName string) string {
	return strings.Join([]string{
		fmt.Sprintf("Olá! 👋 Você está falando com a assistente da %s.", doctorName),
		"Escolha uma opção:",
		"1 - Marcar consulta",
		"2 - Remarcar consulta",
		"3 - Cancelar consulta",
		"4 - Conversar com a doutora",
		"0 - Encerrar conversa",
	}, "\n")
}

func servicesMenuMessage(bookingURL string) string {
	return strings.Join([]string{
		"Fluxo de agendamento:",
		fmt.Sprintf("1 - Marcar consulta (%s)", bookingURL),
		fmt.Sprintf("2 - Remarcar consulta (%s)", bookingURL),
		fmt.Sprintf("3 - Cancelar consulta (%s)", bookingURL),
		"4 - Conversar com a doutora",
		"0 - Voltar ao menu principal",
	}, "\n")
}

func bookingActionMessage(action, bookingURL string) string {
	return strings.Join([]string{
		fmt.Sprintf("Perfeito. Para %s consulta, use este link: %s", action, bookingURL),
		"Se quiser conversar direto com a doutora, envie 4.",
		`Para voltar ao menu principal, envie "menu".`,
	}, "\n")
}

func invalidOptionMessage(state State, doctorName, bookingURL string) string {
	switch state {
	case StateServicesMenu:
		return "Não entendi sua opção.\n" + servicesMenuMessage(bookingURL)
	case StateAttendant:
		return fmt.Sprintf(`Estou te encaminhando para %s. Envie "menu" para voltar ao menu principal ou "encerrar" para finalizar.`, doctorName)
	case StateClosed:
		return `Conversa finalizada. Envie "menu" para iniciar novamente.`
	default:
		return "Não entendi sua opção.\n" + mainMenuMessage(doctorName)
	}
}

const closedMessage = `Conversa encerrada. Quando quiser voltar, envie "menu".`

// Transition is the pure dialogue function: no I/O, fully deterministic.
func Transition(current State, userInput, bookingURL, doctorName string) TransitionResult {
	normalized := NormalizeInput(userInput)
	option := resolveOption(normalized)

	if bookingURL == "" {
		bookingURL = "http://localhost:5173"
	}
	if doctorName == "" {
		doctorName = "Dra. Ana"
	}

	switch current {
	case StateInitial:
		// First contact always lands on the main menu, whatever was typed.
		return TransitionResult{NextState: StateMainMenu, Response: mainMenuMessage(doctorName)}

	case StateMainMenu:
		switch option {
		case "1":
			return TransitionResult{NextState: StateServicesMenu, Response: bookingActionMessage("marcar", bookingURL)}
		case "2":
			return TransitionResult{NextState: StateServicesMenu, Response: bookingActionMessage("remarcar", bookingURL)}
		case "3":
			return TransitionResult{NextState: StateServicesMenu, Response: bookingActionMessage("cancelar", bookingURL)}
		case "4":
			return TransitionResult{
				NextState: StateAttendant,
				Response:  fmt.Sprintf(`Perfeito. Vou te encaminhar para %s. Enquanto isso, envie "menu" para voltar ao menu principal.`, doctorName),
			}
		}
		if option == "0" || normalized == "encerrar" || normalized == "sair" {
			return TransitionResult{NextState: StateClosed, Response: closedMessage, ShouldEnd: true}
		}
		return TransitionResult{NextState: StateMainMenu, Response: invalidOptionMessage(StateMainMenu, doctorName, bookingURL)}

	case StateServicesMenu:
		if option == "0" || normalized == "menu" {
			return TransitionResult{NextState: StateMainMenu, Response: mainMenuMessage(doctorName)}
		}
		switch option {
		case "1":
			return TransitionResult{NextState: StateServicesMenu, Response: bookingActionMessage("marcar", bookingURL)}
		case "2":
			return TransitionResult{NextState: StateServicesMenu, Response: bookingActionMessage("remarcar", bookingURL)}
		case "3":
			return TransitionResult{NextState: StateServicesMenu, Response: bookingActionMessage("cancelar", bookingURL)}
		case "4":
			return TransitionResult{NextState: StateAttendant, Response: fmt.Sprintf("Perfeito. Vou te encaminhar para %s.", doctorName)}
		}
		if normalized == "encerrar" || normalized == "sair" {
			return TransitionResult{NextState: StateClosed, Response: closedMessage, ShouldEnd: true}
		}
		return TransitionResult{NextState: StateServicesMenu, Response: invalidOptionMessage(StateServicesMenu, doctorName, bookingURL)}

	case StateAttendant:
		if normalized == "menu" || option == "0" {
			return TransitionResult{NextState: StateMainMenu, Response: mainMenuMessage(doctorName)}
		}
		if normalized == "encerrar" || normalized == "sair" {
			return TransitionResult{
				NextState: StateClosed,
				Response:  `Conversa encerrada. Envie "menu" quando quiser retomar.`,
				ShouldEnd: true,
			}
		}
		return TransitionResult{
			NextState: StateAttendant,
			Response:  fmt.Sprintf(`Recebi sua mensagem e encaminhei para %s. Envie "menu" para voltar ao menu principal.`, doctorName),
		}

	case StateClosed:
		if normalized == "menu" || normalized == "iniciar" || normalized == "oi" {
			return TransitionResult{NextState: StateMainMenu, Response: mainMenuMessage(doctorName)}
		}
		return TransitionResult{
			NextState: StateClosed,
			Response:  invalidOptionMessage(StateClosed, doctorName, bookingURL),
			ShouldEnd: true,
		}
	}

	return TransitionResult{NextState: current, Response: invalidOptionMessage(current, doctorName, bookingURL)}
}
