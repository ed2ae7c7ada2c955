package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	testBookingURL = "https://agenda.example.com"
	testDoctor     = "Dra. Ana"
)

func TestNormalizeInput(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Olá!  ", "ola"},
		{"REMARCAR", "remarcar"},
		{"não", "nao"},
		{"opção 2", "opcao 2"},
		{"médico?!", "medico"},
		{"1", "1"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeInput(tt.in), "input %q", tt.in)
	}
}

func TestResolveOptionPriority(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1"},
		{"quero marcar consulta", "1"},
		{"gostaria de agendar", "1"},
		// "remarcar" contains "marcar" and must win.
		{"preciso remarcar", "2"},
		{"cancelar minha consulta", "3"},
		{"quero falar com a doutora", "4"},
		{"me passa um atendente", "4"},
		{"quero falar com um humano", "4"},
		{"quero falar com uma pessoa", "4"},
		{"blablabla", "blablabla"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveOption(NormalizeInput(tt.in)), "input %q", tt.in)
	}
}

func TestParseState(t *testing.T) {
	assert.Equal(t, StateMainMenu, ParseState("MAIN_MENU"))
	assert.Equal(t, StateInitial, ParseState("garbage"))
	assert.Equal(t, StateInitial, ParseState(""))
}

func TestTransitionInitialAlwaysShowsMenu(t *testing.T) {
	for _, input := range []string{"oi", "3", "qualquer coisa"} {
		r := Transition(StateInitial, input, testBookingURL, testDoctor)
		assert.Equal(t, StateMainMenu, r.NextState, "input %q", input)
		assert.Contains(t, r.Response, "1 - Marcar consulta")
		assert.Contains(t, r.Response, testDoctor)
		assert.False(t, r.ShouldEnd)
	}
}

func TestTransitionMainMenu(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantState State
		wantIn    string
		wantEnd   bool
	}{
		{"book by digit", "1", StateServicesMenu, testBookingURL, false},
		{"book by keyword", "quero marcar", StateServicesMenu, "marcar", false},
		{"reschedule keyword wins", "remarcar por favor", StateServicesMenu, "remarcar", false},
		{"cancel", "3", StateServicesMenu, "cancelar", false},
		{"attendant", "4", StateAttendant, testDoctor, false},
		{"close by zero", "0", StateClosed, "encerrada", true},
		{"close by word", "encerrar", StateClosed, "encerrada", true},
		{"invalid repeats menu", "77", StateMainMenu, "Não entendi", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Transition(StateMainMenu, tt.input, testBookingURL, testDoctor)
			assert.Equal(t, tt.wantState, r.NextState)
			assert.Contains(t, r.Response, tt.wantIn)
			assert.Equal(t, tt.wantEnd, r.ShouldEnd)
		})
	}
}

func TestTransitionServicesMenu(t *testing.T) {
	r := Transition(StateServicesMenu, "0", testBookingURL, testDoctor)
	assert.Equal(t, StateMainMenu, r.NextState)

	r = Transition(StateServicesMenu, "menu", testBookingURL, testDoctor)
	assert.Equal(t, StateMainMenu, r.NextState)

	r = Transition(StateServicesMenu, "2", testBookingURL, testDoctor)
	assert.Equal(t, StateServicesMenu, r.NextState)
	assert.Contains(t, r.Response, testBookingURL)

	r = Transition(StateServicesMenu, "4", testBookingURL, testDoctor)
	assert.Equal(t, StateAttendant, r.NextState)

	r = Transition(StateServicesMenu, "xyz", testBookingURL, testDoctor)
	assert.Equal(t, StateServicesMenu, r.NextState)
	assert.Contains(t, r.Response, "Não entendi")
}

func TestTransitionAttendant(t *testing.T) {
	// Free text stays with the attendant.
	r := Transition(StateAttendant, "minha receita venceu", testBookingURL, testDoctor)
	assert.Equal(t, StateAttendant, r.NextState)
	assert.Contains(t, r.Response, testDoctor)

	r = Transition(StateAttendant, "menu", testBookingURL, testDoctor)
	assert.Equal(t, StateMainMenu, r.NextState)

	r = Transition(StateAttendant, "encerrar", testBookingURL, testDoctor)
	assert.Equal(t, StateClosed, r.NextState)
	assert.True(t, r.ShouldEnd)
}

func TestTransitionClosed(t *testing.T) {
	for _, revive := range []string{"menu", "oi", "iniciar"} {
		r := Transition(StateClosed, revive, testBookingURL, testDoctor)
		assert.Equal(t, StateMainMenu, r.NextState, "input %q", revive)
		assert.False(t, r.ShouldEnd)
	}

	r := Transition(StateClosed, "tudo bem?", testBookingURL, testDoctor)
	assert.Equal(t, StateClosed, r.NextState)
	assert.True(t, r.ShouldEnd)
}

func TestTransitionDefaults(t *testing.T) {
	r := Transition(StateMainMenu, "1", "", "")
	assert.Contains(t, r.Response, "http://localhost:5173")

	r = Transition(StateInitial, "oi", "", "")
	assert.Contains(t, r.Response, "Dra. Ana")
}
